package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis keeps added apps in one hash, field = domain, value = JSON record.
type Redis struct {
	client *redis.Client
	key    string
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, prefix string) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis store requires an address")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedis(client, prefix), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, key: prefix + "added_apps"}
}

func (r *Redis) Add(ctx context.Context, app AddedApp) (bool, error) {
	if app.Domain == "" {
		return false, fmt.Errorf("domain is required")
	}
	if app.AddedAt.IsZero() {
		app.AddedAt = time.Now().UTC()
	}
	value, err := json.Marshal(app)
	if err != nil {
		return false, err
	}
	created, err := r.client.HSetNX(ctx, r.key, app.Domain, value).Result()
	if err != nil {
		return false, fmt.Errorf("redis hsetnx: %w", err)
	}
	return created, nil
}

func (r *Redis) IsAdded(ctx context.Context, domain string) (bool, error) {
	ok, err := r.client.HExists(ctx, r.key, domain).Result()
	if err != nil {
		return false, fmt.Errorf("redis hexists: %w", err)
	}
	return ok, nil
}

func (r *Redis) Get(ctx context.Context, domain string) (AddedApp, error) {
	raw, err := r.client.HGet(ctx, r.key, domain).Bytes()
	if errors.Is(err, redis.Nil) {
		return AddedApp{}, ErrNotFound
	}
	if err != nil {
		return AddedApp{}, fmt.Errorf("redis hget: %w", err)
	}
	var app AddedApp
	if err := json.Unmarshal(raw, &app); err != nil {
		return AddedApp{}, fmt.Errorf("decode added app: %w", err)
	}
	return app, nil
}

func (r *Redis) Remove(ctx context.Context, domain string) error {
	n, err := r.client.HDel(ctx, r.key, domain).Result()
	if err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]AddedApp, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	out := make([]AddedApp, 0, len(all))
	for _, raw := range all {
		var app AddedApp
		if err := json.Unmarshal([]byte(raw), &app); err != nil {
			return nil, fmt.Errorf("decode added app: %w", err)
		}
		out = append(out, app)
	}
	sortApps(out)
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
