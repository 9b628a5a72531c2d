// Package config loads the mini app host configuration.
//
// Precedence, lowest first: Default(), the config file (YAML or TOML by
// extension), an optional .env file, then MINIAPP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Chain    ChainConfig    `yaml:"chain" toml:"chain"`
	Wallet   WalletConfig   `yaml:"-" toml:"-"`
	Client   ClientConfig   `yaml:"client" toml:"client"`
	SignIn   SignInConfig   `yaml:"signin" toml:"signin"`
	Manifest ManifestConfig `yaml:"manifest" toml:"manifest"`
	Store    StoreConfig    `yaml:"store" toml:"store"`
	Audit    AuditConfig    `yaml:"audit" toml:"audit"`
	Confirm  ConfirmConfig  `yaml:"confirm" toml:"confirm"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Identity IdentityConfig `yaml:"identity" toml:"identity"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" toml:"listen_addr" env:"MINIAPP_LISTEN_ADDR"`
	BridgePath      string        `yaml:"bridge_path" toml:"bridge_path" env:"MINIAPP_BRIDGE_PATH"`
	AllowedOrigins  []string      `yaml:"allowed_origins" toml:"allowed_origins"`
	RateLimitRPS    int           `yaml:"rate_limit_rps" toml:"rate_limit_rps" env:"MINIAPP_RATE_LIMIT_RPS"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" toml:"rate_limit_burst" env:"MINIAPP_RATE_LIMIT_BURST"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" toml:"idle_timeout" env:"MINIAPP_IDLE_TIMEOUT"`
	SweepSchedule   string        `yaml:"sweep_schedule" toml:"sweep_schedule" env:"MINIAPP_SWEEP_SCHEDULE"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	AdminToken      string        `yaml:"-" toml:"-" env:"MINIAPP_ADMIN_TOKEN"`
}

type ChainConfig struct {
	RPCURL          string        `yaml:"rpc_url" toml:"rpc_url" env:"MINIAPP_RPC_URL"`
	SignInChainID   int64         `yaml:"signin_chain_id" toml:"signin_chain_id" env:"MINIAPP_SIGNIN_CHAIN_ID"`
	SupportedChains []string      `yaml:"supported_chains" toml:"supported_chains"`
	MaxRetries      int           `yaml:"max_retries" toml:"max_retries"`
	InitialBackoff  time.Duration `yaml:"initial_backoff" toml:"initial_backoff"`
	FailureLimit    int           `yaml:"failure_limit" toml:"failure_limit"`
	OpenTimeout     time.Duration `yaml:"open_timeout" toml:"open_timeout"`
}

// WalletConfig is never read from files.
type WalletConfig struct {
	PrivateKey string `env:"MINIAPP_WALLET_PRIVATE_KEY"`
}

type ClientConfig struct {
	PlatformType   string     `yaml:"platform_type" toml:"platform_type" env:"MINIAPP_PLATFORM_TYPE"`
	ClientFID      int64      `yaml:"client_fid" toml:"client_fid" env:"MINIAPP_CLIENT_FID"`
	SafeAreaInsets InsetsConf `yaml:"safe_area_insets" toml:"safe_area_insets"`
}

type InsetsConf struct {
	Top    float64 `yaml:"top" toml:"top"`
	Bottom float64 `yaml:"bottom" toml:"bottom"`
	Left   float64 `yaml:"left" toml:"left"`
	Right  float64 `yaml:"right" toml:"right"`
}

type SignInConfig struct {
	Statement string `yaml:"statement" toml:"statement"`
}

type ManifestConfig struct {
	TTL time.Duration `yaml:"ttl" toml:"ttl" env:"MINIAPP_MANIFEST_TTL"`
}

type StoreConfig struct {
	Driver    string `yaml:"driver" toml:"driver" env:"MINIAPP_STORE_DRIVER"`
	DSN       string `yaml:"dsn" toml:"dsn" env:"MINIAPP_STORE_DSN"`
	RedisAddr string `yaml:"redis_addr" toml:"redis_addr" env:"MINIAPP_REDIS_ADDR"`
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix"`
}

type AuditConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled" env:"MINIAPP_AUDIT_ENABLED"`
	AMQPURL  string `yaml:"-" toml:"-" env:"MINIAPP_AUDIT_AMQP_URL"`
	Exchange string `yaml:"exchange" toml:"exchange" env:"MINIAPP_AUDIT_EXCHANGE"`
	Buffer   int    `yaml:"buffer" toml:"buffer"`
}

type ConfirmConfig struct {
	Policy string `yaml:"policy" toml:"policy" env:"MINIAPP_CONFIRM_POLICY"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"MINIAPP_LOG_LEVEL"`
	Format string `yaml:"format" toml:"format" env:"MINIAPP_LOG_FORMAT"`
}

type IdentityConfig struct {
	FID         int64  `yaml:"fid" toml:"fid"`
	Username    string `yaml:"username" toml:"username"`
	DisplayName string `yaml:"display_name" toml:"display_name"`
	PfpURL      string `yaml:"pfp_url" toml:"pfp_url"`
	Local       bool   `yaml:"local" toml:"local"`
}

// Confirmation policies for hosts without an attached user.
const (
	PolicyApprove = "approve"
	PolicyDeny    = "deny"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":8090",
			BridgePath:      "/v1/bridge",
			RateLimitRPS:    20,
			RateLimitBurst:  40,
			IdleTimeout:     15 * time.Minute,
			SweepSchedule:   "@every 1m",
			ShutdownTimeout: 10 * time.Second,
		},
		Chain: ChainConfig{
			RPCURL:          "http://127.0.0.1:8545",
			SignInChainID:   10,
			SupportedChains: []string{"eip155:1", "eip155:10", "eip155:8453"},
			MaxRetries:      2,
			InitialBackoff:  100 * time.Millisecond,
			FailureLimit:    5,
			OpenTimeout:     30 * time.Second,
		},
		Client: ClientConfig{
			PlatformType: "mobile",
			ClientFID:    9152,
		},
		SignIn:   SignInConfig{Statement: "Farcaster Auth"},
		Manifest: ManifestConfig{TTL: 365 * 24 * time.Hour},
		Store:    StoreConfig{Driver: "memory", KeyPrefix: "miniapp:"},
		Audit:    AuditConfig{Enabled: true, Exchange: "miniapp.audit", Buffer: 1024},
		Confirm:  ConfirmConfig{Policy: PolicyDeny},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds a Config from defaults, path (may be empty), .env and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse yaml config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse toml config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// ApplyEnv overlays MINIAPP_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("failed to decode environment: %w", err)
	}
	return nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if !strings.HasPrefix(c.Server.BridgePath, "/") {
		return fmt.Errorf("server.bridge_path must start with /")
	}
	if c.Chain.SignInChainID <= 0 {
		return fmt.Errorf("chain.signin_chain_id must be positive")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for driver redis")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Confirm.Policy {
	case PolicyApprove, PolicyDeny:
	default:
		return fmt.Errorf("confirm.policy must be %q or %q", PolicyApprove, PolicyDeny)
	}
	if c.Manifest.TTL <= 0 {
		return fmt.Errorf("manifest.ttl must be positive")
	}
	return nil
}
