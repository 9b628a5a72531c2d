// Package store persists the set of mini apps the user has added to the host.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/miniapp-host/internal/config"
)

// ErrNotFound is returned when a domain was never added.
var ErrNotFound = errors.New("mini app not added")

// AddedApp is one added mini app, keyed by domain.
type AddedApp struct {
	Domain  string    `json:"domain"`
	URL     string    `json:"url"`
	AddedAt time.Time `json:"added_at"`
}

// AppStore is the added-app registry.
type AppStore interface {
	// Add records app. created is false when the domain was already present,
	// in which case the stored record is left unchanged.
	Add(ctx context.Context, app AddedApp) (created bool, err error)
	IsAdded(ctx context.Context, domain string) (bool, error)
	Get(ctx context.Context, domain string) (AddedApp, error)
	Remove(ctx context.Context, domain string) error
	List(ctx context.Context) ([]AddedApp, error)
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (AppStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "postgres":
		return OpenSQL(ctx, cfg.Driver, cfg.DSN)
	case "redis":
		return OpenRedis(ctx, cfg.RedisAddr, cfg.KeyPrefix)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Memory is an in-process AppStore.
type Memory struct {
	mu   sync.RWMutex
	apps map[string]AddedApp
}

func NewMemory() *Memory {
	return &Memory{apps: make(map[string]AddedApp)}
}

func (m *Memory) Add(ctx context.Context, app AddedApp) (bool, error) {
	if app.Domain == "" {
		return false, fmt.Errorf("domain is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[app.Domain]; ok {
		return false, nil
	}
	if app.AddedAt.IsZero() {
		app.AddedAt = time.Now().UTC()
	}
	m.apps[app.Domain] = app
	return true, nil
}

func (m *Memory) IsAdded(ctx context.Context, domain string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.apps[domain]
	return ok, nil
}

func (m *Memory) Get(ctx context.Context, domain string) (AddedApp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.apps[domain]
	if !ok {
		return AddedApp{}, ErrNotFound
	}
	return app, nil
}

func (m *Memory) Remove(ctx context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[domain]; !ok {
		return ErrNotFound
	}
	delete(m.apps, domain)
	return nil
}

func (m *Memory) List(ctx context.Context) ([]AddedApp, error) {
	m.mu.RLock()
	out := make([]AddedApp, 0, len(m.apps))
	for _, app := range m.apps {
		out = append(out, app)
	}
	m.mu.RUnlock()
	sortApps(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }

func sortApps(apps []AddedApp) {
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].AddedAt.Equal(apps[j].AddedAt) {
			return apps[i].Domain < apps[j].Domain
		}
		return apps[i].AddedAt.Before(apps[j].AddedAt)
	})
}
