// Package server exposes the mini app host over HTTP: one websocket per
// bridge session plus operator endpoints for identity and session control.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/miniapp-host/internal/config"
	"github.com/R3E-Network/miniapp-host/internal/host"
	"github.com/R3E-Network/miniapp-host/internal/httputil"
	"github.com/R3E-Network/miniapp-host/internal/identity"
	"github.com/R3E-Network/miniapp-host/internal/logging"
	"github.com/R3E-Network/miniapp-host/internal/metrics"
	"github.com/R3E-Network/miniapp-host/internal/middleware"
	"github.com/R3E-Network/miniapp-host/internal/transport"
)

// limiterIdle is how long an unused per-client limiter is kept.
const limiterIdle = 10 * time.Minute

// Server is the host daemon's HTTP surface.
type Server struct {
	cfg    config.ServerConfig
	host   *host.Host
	logger *logging.Logger

	router   *mux.Router
	handler  http.Handler
	upgrader websocket.Upgrader
	limiter  *middleware.RateLimiter
	cors     *middleware.CORS
	cron     *cron.Cron

	// ctx outlives individual requests; sessions derive from it.
	ctx    context.Context
	cancel context.CancelFunc

	httpServer *http.Server
}

// New builds the server and its routes.
func New(cfg config.ServerConfig, h *host.Host, logger *logging.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		host:    h,
		logger:  logger,
		router:  mux.NewRouter(),
		limiter: middleware.NewRateLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst, logger),
		cors:    middleware.NewCORS(cfg.AllowedOrigins),
		cron:    cron.New(),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.cors.CheckOrigin,
	}
	s.routes()
	s.handler = metrics.InstrumentHandler(
		middleware.NewTracing(logger).Handler(
			s.cors.Handler(s.router)))
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	limited := s.router.NewRoute().Subrouter()
	limited.Use(s.limiter.Handler)
	limited.HandleFunc(s.cfg.BridgePath, s.handleBridge).Methods(http.MethodGet)

	admin := limited.PathPrefix("/v1").Subrouter()
	admin.Use(middleware.NewAdminAuth(s.cfg.AdminToken, s.logger).Handler)
	admin.HandleFunc("/identity", s.handleGetIdentity).Methods(http.MethodGet)
	admin.HandleFunc("/identity", s.handleSetIdentity).Methods(http.MethodPut)
	admin.HandleFunc("/identity", s.handleClearIdentity).Methods(http.MethodDelete)
	admin.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	admin.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	admin.HandleFunc("/sessions/{id}", s.handleCloseSession).Methods(http.MethodDelete)
	admin.HandleFunc("/sessions/{id}/primary-button/click", s.handleClick).Methods(http.MethodPost)
}

// Handler is the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start schedules the sweep job.
func (s *Server) Start() error {
	if s.cfg.SweepSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.SweepSchedule, s.Sweep); err != nil {
			return fmt.Errorf("schedule sweep: %w", err)
		}
	}
	s.cron.Start()
	return nil
}

// Sweep closes idle sessions and prunes stale rate limiters.
func (s *Server) Sweep() {
	closed := 0
	if s.cfg.IdleTimeout > 0 {
		closed = s.host.SweepIdle(s.cfg.IdleTimeout)
	}
	pruned := s.limiter.Prune(limiterIdle)
	if closed > 0 || pruned > 0 {
		s.logger.WithFields(map[string]interface{}{
			"sessions_closed": closed,
			"limiters_pruned": pruned,
		}).Info("sweep completed")
	}
}

// ListenAndServe serves until Shutdown.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.logger.WithField("addr", s.cfg.ListenAddr).Info("host daemon listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown stops the sweep job, closes every session and drains HTTP.
func (s *Server) Shutdown(ctx context.Context) error {
	<-s.cron.Stop().Done()
	s.cancel()
	s.host.CloseAll()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": len(s.host.Sessions()),
	})
}

// handleBridge upgrades to a websocket and runs one session over it until
// either side closes.
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if _, err := host.DomainOf(target); err != nil {
		httputil.BadRequest(w, "url: "+err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Warn("websocket upgrade failed")
		return
	}
	pipe := transport.NewWSPipe(conn)

	ctx := logging.WithTraceID(s.ctx, logging.GetTraceID(r.Context()))
	session, err := s.host.Open(ctx, target, pipe, pipe, host.OnClosed(func() { _ = pipe.Close() }))
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Warn("session open failed")
		_ = pipe.Close()
		return
	}
	session.NavigationFinished()

	go pipe.KeepAlive()
	if err := pipe.ReadLoop(ctx, session.Deliver); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("session_id", session.ID()).Debug("bridge connection ended")
	}
	session.Close()
}

// identityBody is the wire form of an identity.
type identityBody struct {
	FID           int64  `json:"fid"`
	Username      string `json:"username"`
	DisplayName   string `json:"displayName,omitempty"`
	PfpURL        string `json:"pfpUrl,omitempty"`
	BackendUserID string `json:"backendUserId,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

func (s *Server) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	id := s.host.Auth().Current()
	if id == nil {
		httputil.NotFound(w, "no identity")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, identityBody{
		FID:           id.FID,
		Username:      id.Username,
		DisplayName:   id.DisplayName,
		PfpURL:        id.PfpURL,
		BackendUserID: id.BackendUserID,
		WalletAddress: id.WalletAddress,
	})
}

func (s *Server) handleSetIdentity(w http.ResponseWriter, r *http.Request) {
	var body identityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, "invalid identity body")
		return
	}
	if body.FID < 0 {
		httputil.BadRequest(w, "fid must not be negative")
		return
	}
	if body.Username == "" {
		httputil.BadRequest(w, "username is required")
		return
	}
	s.host.Auth().Set(&identity.Identity{
		FID:           body.FID,
		Username:      body.Username,
		DisplayName:   body.DisplayName,
		PfpURL:        body.PfpURL,
		BackendUserID: body.BackendUserID,
		WalletAddress: body.WalletAddress,
	})
	s.logger.WithContext(r.Context()).WithField("fid", body.FID).Info("identity set")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearIdentity(w http.ResponseWriter, r *http.Request) {
	s.host.Auth().Clear()
	s.logger.WithContext(r.Context()).Info("identity cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.host.Sessions(),
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*host.Session, bool) {
	sess, ok := s.host.Session(mux.Vars(r)["id"])
	if !ok {
		httputil.NotFound(w, "session not found")
	}
	return sess, ok
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		httputil.WriteJSON(w, http.StatusOK, sess.Info())
	}
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		sess.Close()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if !sess.ClickPrimaryButton() {
		httputil.WriteError(w, http.StatusConflict, "BUTTON_UNAVAILABLE",
			"primary button is hidden, disabled, loading or has no handler", nil)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"delivered": true})
}
