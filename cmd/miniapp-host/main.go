// Command miniapp-host runs the mini app host daemon: each websocket on the
// bridge path is one embedded-content session.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/miniapp-host/internal/bootstrap"
	"github.com/R3E-Network/miniapp-host/internal/config"
	"github.com/R3E-Network/miniapp-host/internal/host"
	"github.com/R3E-Network/miniapp-host/internal/logging"
	"github.com/R3E-Network/miniapp-host/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("MINIAPP_CONFIG"), "path to a .yaml or .toml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.NewDefault("miniapp-host").WithError(err).Fatal("load config")
	}
	logger := logging.New("miniapp-host", cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("build runtime")
	}

	h := host.New(rt.Auth, rt.Deps, host.WithLogger(logger))
	srv := server.New(cfg.Server, h, logger)
	if err := srv.Start(); err != nil {
		logger.WithError(err).Fatal("start server")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	if err := rt.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("runtime close")
	}
	logger.Info("stopped")
}
