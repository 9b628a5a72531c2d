// Package host ties the Auth Context, Host UI Controller, Capability Registry
// and Transport together for each embedded-content session.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/miniapp-host/internal/capability"
	"github.com/R3E-Network/miniapp-host/internal/hostui"
	"github.com/R3E-Network/miniapp-host/internal/identity"
	"github.com/R3E-Network/miniapp-host/internal/logging"
	"github.com/R3E-Network/miniapp-host/internal/metrics"
	"github.com/R3E-Network/miniapp-host/internal/protocol"
	"github.com/R3E-Network/miniapp-host/internal/transport"
)

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// WithClock overrides the activity clock.
func WithClock(now func() time.Time) Option {
	return func(h *Host) { h.now = now }
}

// Host owns the open sessions.
type Host struct {
	auth   *identity.Context
	deps   capability.Deps
	logger *logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates a Host. deps is the template for every session's registry;
// its Identity and ContextChanged fields are set per session.
func New(auth *identity.Context, deps capability.Deps, opts ...Option) *Host {
	h := &Host{
		auth:     auth,
		deps:     deps,
		logger:   logging.NewDiscard(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.deps.Logger == nil {
		h.deps.Logger = h.logger
	}
	return h
}

// Auth returns the Auth Context shared by all sessions.
func (h *Host) Auth() *identity.Context { return h.auth }

// DomainOf extracts the session domain from a mini app URL.
func DomainOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("url must be http(s), got %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url has no host")
	}
	return host, nil
}

// SessionOption configures one session.
type SessionOption func(*Session)

// OnClosed registers fn to run after the session is torn down.
func OnClosed(fn func()) SessionOption {
	return func(s *Session) { s.onClosed = append(s.onClosed, fn) }
}

// Open starts a session for the content at rawURL. Frames from the content
// must be passed to Session.Deliver; frames to it go to pipe, and context
// pushes go to injector.
func (h *Host) Open(ctx context.Context, rawURL string, pipe transport.Pipe, injector hostui.ScriptInjector, opts ...SessionOption) (*Session, error) {
	domain, err := DomainOf(rawURL)
	if err != nil {
		return nil, err
	}

	s := &Session{
		host:   h,
		domain: domain,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.touch()

	s.controller = hostui.New(
		hostui.WithLogger(h.logger),
		hostui.WithCloseFunc(func(string) { s.teardown() }),
	)
	s.id = s.controller.Open(rawURL, injector)

	deps := h.deps
	deps.Identity = h.auth.Accessor()
	deps.ContextChanged = s.contextChanged
	s.registry = capability.New(deps, s.controller, domain)

	s.adapter = transport.NewAdapter(ctx, domain, pipe, s,
		transport.WithLogger(h.logger),
		transport.WithScrollSink(s.controller),
		transport.WithSessionID(s.id),
	)
	s.click = s.controller.OnPrimaryButtonClick(func() {
		if err := s.adapter.Emit(protocol.EventPrimaryButtonClicked, nil); err != nil {
			h.logger.WithContext(s.adapter.Context()).WithError(err).Debug("click event not delivered")
		}
	})
	s.unsubscribe = h.auth.Subscribe(func(*identity.Identity) { s.contextChanged() })

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	metrics.SessionOpened()

	h.logger.WithContext(s.adapter.Context()).WithField("url", rawURL).Info("session opened")
	s.pushContext()
	return s, nil
}

// Session looks up an open session.
func (h *Host) Session(id string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	return s, ok
}

// SessionInfo describes an open session.
type SessionInfo struct {
	hostui.Status
	Domain     string    `json:"domain"`
	LastActive time.Time `json:"lastActive"`
	InFlight   int       `json:"inFlight"`
}

// Sessions lists open sessions ordered by id.
func (h *Host) Sessions() []SessionInfo {
	h.mu.Lock()
	list := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		list = append(list, s)
	}
	h.mu.Unlock()

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// SweepIdle closes sessions with no traffic for longer than maxIdle and
// returns how many were closed.
func (h *Host) SweepIdle(maxIdle time.Duration) int {
	cutoff := h.now().Add(-maxIdle)

	h.mu.Lock()
	var idle []*Session
	for _, s := range h.sessions {
		if s.LastActive().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	h.mu.Unlock()

	for _, s := range idle {
		h.logger.WithContext(s.adapter.Context()).Info("closing idle session")
		s.Close()
	}
	return len(idle)
}

// CloseAll closes every open session.
func (h *Host) CloseAll() {
	h.mu.Lock()
	all := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}

func (h *Host) remove(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// Session is one open embedded-content surface.
type Session struct {
	host   *Host
	id     string
	domain string

	controller  *hostui.Controller
	registry    *capability.Registry
	adapter     *transport.Adapter
	click       *hostui.ClickRegistration
	unsubscribe func()
	onClosed    []func()

	mu         sync.Mutex
	lastActive time.Time

	done     chan struct{}
	tearOnce sync.Once
}

// ID is the session id.
func (s *Session) ID() string { return s.id }

// Domain is the hostname the session is bound to.
func (s *Session) Domain() string { return s.domain }

// Controller exposes the session's Host UI Controller.
func (s *Session) Controller() *hostui.Controller { return s.controller }

// Done is closed after teardown.
func (s *Session) Done() <-chan struct{} { return s.done }

// Deliver passes one frame from the content to the transport.
func (s *Session) Deliver(raw string) {
	s.touch()
	s.adapter.Deliver(raw)
}

// Invoke serves a capability call through the session's registry.
func (s *Session) Invoke(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	s.touch()
	return s.registry.Invoke(ctx, method, params)
}

// NavigationFinished reports network load-end for the content.
func (s *Session) NavigationFinished() { s.controller.NavigationFinished() }

// ClickPrimaryButton routes a user click to the content.
func (s *Session) ClickPrimaryButton() bool {
	s.touch()
	return s.controller.ClickPrimaryButton()
}

// Close closes the surface; teardown follows through the controller.
func (s *Session) Close() {
	s.controller.RequestClose()
	s.teardown()
}

// Wait blocks until in-flight calls have returned.
func (s *Session) Wait(ctx context.Context) error { return s.adapter.Wait(ctx) }

// Info describes the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		Status:     s.controller.Status(),
		Domain:     s.domain,
		LastActive: s.LastActive(),
		InFlight:   s.adapter.InFlight(),
	}
}

// LastActive is the time of the last inbound frame or click.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch() {
	now := s.host.now()
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *Session) pushContext() (protocol.HostContext, bool) {
	if s.adapter == nil {
		return protocol.HostContext{}, false
	}
	ctx := s.adapter.Context()
	if ctx.Err() != nil {
		return protocol.HostContext{}, false
	}
	snapshot := s.registry.Snapshot(ctx)
	if err := s.controller.PushContext(snapshot); err != nil {
		s.host.logger.WithContext(ctx).WithError(err).Warn("context push failed")
		return snapshot, false
	}
	return snapshot, true
}

// contextChanged re-injects the host context and tells listening content.
func (s *Session) contextChanged() {
	snapshot, ok := s.pushContext()
	if !ok {
		return
	}
	if err := s.adapter.Emit(protocol.EventContextChanged, snapshot); err != nil {
		s.host.logger.WithContext(s.adapter.Context()).WithError(err).Debug("context event not delivered")
	}
}

func (s *Session) teardown() {
	s.tearOnce.Do(func() {
		if s.adapter != nil {
			s.adapter.Close()
		}
		if s.click != nil {
			s.click.Unregister()
		}
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.host.remove(s.id)
		metrics.SessionClosed()
		close(s.done)
		s.host.logger.WithFields(map[string]interface{}{
			"session_id": s.id,
			"domain":     s.domain,
		}).Info("session closed")
		for _, fn := range s.onClosed {
			fn()
		}
	})
}
