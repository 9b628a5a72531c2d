// Package bootstrap assembles the runtime collaborators of a host from its
// configuration.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/R3E-Network/miniapp-host/internal/audit"
	"github.com/R3E-Network/miniapp-host/internal/capability"
	"github.com/R3E-Network/miniapp-host/internal/config"
	"github.com/R3E-Network/miniapp-host/internal/confirm"
	"github.com/R3E-Network/miniapp-host/internal/host"
	"github.com/R3E-Network/miniapp-host/internal/identity"
	"github.com/R3E-Network/miniapp-host/internal/logging"
	"github.com/R3E-Network/miniapp-host/internal/protocol"
	"github.com/R3E-Network/miniapp-host/internal/store"
	"github.com/R3E-Network/miniapp-host/internal/wallet"
)

// Runtime holds everything a Host needs plus the resources to release.
type Runtime struct {
	Auth     *identity.Context
	Deps     capability.Deps
	Signer   *wallet.LocalSigner
	Provider *wallet.ResilientProvider
	Audit    *audit.Logger

	closers []func() error
}

// Option adjusts the runtime before it is returned.
type Option func(*Runtime)

// WithConfirmer replaces the policy confirmer from configuration.
func WithConfirmer(c confirm.Confirmer) Option {
	return func(r *Runtime) { r.Deps.Confirmer = c }
}

// WithProvider replaces the chain provider.
func WithProvider(p wallet.Provider) Option {
	return func(r *Runtime) { r.Deps.Provider = p }
}

// Build wires signer, provider, store, audit trail and Auth Context.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (*Runtime, error) {
	rt := &Runtime{}

	signer, err := loadSigner(cfg.Wallet, logger)
	if err != nil {
		return nil, err
	}
	rt.Signer = signer

	rpcProvider, err := wallet.DialProvider(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() error { rpcProvider.Close(); return nil })

	retry := wallet.DefaultRetryConfig()
	retry.MaxRetries = cfg.Chain.MaxRetries
	if cfg.Chain.InitialBackoff > 0 {
		retry.InitialBackoff = cfg.Chain.InitialBackoff
	}
	breaker := wallet.DefaultCircuitBreakerConfig()
	if cfg.Chain.FailureLimit > 0 {
		breaker.FailureThreshold = cfg.Chain.FailureLimit
	}
	if cfg.Chain.OpenTimeout > 0 {
		breaker.Timeout = cfg.Chain.OpenTimeout
	}
	breaker.OnStateChange = func(from, to wallet.CircuitState) {
		logger.WithFields(map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
		}).Warn("provider circuit state changed")
	}
	rt.Provider = wallet.NewResilientProvider(rpcProvider, retry, breaker)

	appStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt.closers = append(rt.closers, appStore.Close)

	if cfg.Audit.Enabled {
		sinks := audit.MultiSink{audit.NewLogSink(logger)}
		if cfg.Audit.AMQPURL != "" {
			amqpSink, err := audit.DialAMQPSink(cfg.Audit.AMQPURL, cfg.Audit.Exchange)
			if err != nil {
				rt.Close(ctx)
				return nil, fmt.Errorf("audit sink: %w", err)
			}
			rt.closers = append(rt.closers, amqpSink.Close)
			sinks = append(sinks, amqpSink)
		}
		rt.Audit = audit.NewLogger(sinks, cfg.Audit.Buffer, 0)
		rt.Audit.Start()
	}

	policy, err := confirm.ParsePolicy(cfg.Confirm.Policy)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.Auth = identity.NewContext(initialIdentity(cfg.Identity, signer))

	headless := host.NewHeadless(logger)
	rt.Deps = capability.Deps{
		Signer:    signer,
		Provider:  rt.Provider,
		Confirmer: policy,
		Store:     appStore,
		Audit:     rt.Audit,
		Logger:    logger,
		Opener:    headless,
		Alerter:   headless,
		Haptics:   headless,
		Client: identity.ClientInfo{
			PlatformType: cfg.Client.PlatformType,
			ClientFID:    cfg.Client.ClientFID,
			SafeAreaInsets: protocol.SafeAreaInsets{
				Top:    cfg.Client.SafeAreaInsets.Top,
				Bottom: cfg.Client.SafeAreaInsets.Bottom,
				Left:   cfg.Client.SafeAreaInsets.Left,
				Right:  cfg.Client.SafeAreaInsets.Right,
			},
		},
		SignInChainID:   cfg.Chain.SignInChainID,
		SignInStatement: cfg.SignIn.Statement,
		ManifestTTL:     cfg.Manifest.TTL,
		SupportedChains: cfg.Chain.SupportedChains,
	}

	for _, opt := range opts {
		opt(rt)
	}

	logger.WithFields(map[string]interface{}{
		"address":      signer.Address().Hex(),
		"store":        cfg.Store.Driver,
		"confirmation": cfg.Confirm.Policy,
		"audit":        cfg.Audit.Enabled,
	}).Info("runtime ready")
	return rt, nil
}

// Close flushes the audit trail and releases resources in reverse order.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []string
	if r.Audit != nil {
		if err := r.Audit.Stop(ctx); err != nil {
			errs = append(errs, err.Error())
		}
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err.Error())
		}
	}
	r.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close runtime: %s", strings.Join(errs, "; "))
	}
	return nil
}

func loadSigner(cfg config.WalletConfig, logger *logging.Logger) (*wallet.LocalSigner, error) {
	if cfg.PrivateKey == "" {
		logger.Warn("MINIAPP_WALLET_PRIVATE_KEY not set; using an ephemeral wallet")
		return wallet.GenerateLocalSigner()
	}
	signer, err := wallet.NewLocalSignerFromHex(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	return signer, nil
}

// initialIdentity returns nil unless the config names an account. The
// wallet address always comes from the signer.
func initialIdentity(cfg config.IdentityConfig, signer wallet.Signer) *identity.Identity {
	if cfg.Username == "" && cfg.FID == 0 {
		return nil
	}
	fid := cfg.FID
	if cfg.Local {
		fid = 0
	}
	return &identity.Identity{
		FID:           fid,
		Username:      cfg.Username,
		DisplayName:   cfg.DisplayName,
		PfpURL:        cfg.PfpURL,
		WalletAddress: signer.Address().Hex(),
	}
}
