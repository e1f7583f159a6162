// Package main serves a directory of images as host documents and streams
// their pixels to one connected viewer over a websocket bridge.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/texlink/internal/bridge"
	"github.com/Faultbox/texlink/internal/config"
	"github.com/Faultbox/texlink/internal/host/imagehost"
	"github.com/Faultbox/texlink/internal/logger"
	"github.com/Faultbox/texlink/internal/metrics"
	"github.com/Faultbox/texlink/internal/producer"
	"github.com/Faultbox/texlink/internal/settings"
)

func main() {
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("=== texlinkd ===")
	logger.Sugar.Debugf("Config: %+v", cfg)

	if err := run(cfg); err != nil {
		logger.Error("texlinkd failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("texlinkd stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := imagehost.New(imagehost.WithLogger(logger.Named("host")))
	ids, err := h.LoadDir(cfg.Host.DocumentsDir)
	if err != nil {
		return err
	}
	logger.Info("documents loaded", zap.String("dir", cfg.Host.DocumentsDir), zap.Int("count", len(ids)))

	store := settings.NewStore(cfg.Settings.File, logger.Named("settings"))
	if err := store.Load(); err != nil {
		logger.Warn("using default user settings", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Host.Watch {
		g.Go(func() error { return h.WatchDir(ctx, cfg.Host.DocumentsDir) })
	}

	// Each viewer connection gets a fresh producer, so a reconnecting viewer
	// starts from an empty encoder cache and receives everything again.
	handler := bridge.NewHandler(ctx, cfg.Bridge.OutboxSize, logger.Named("bridge"),
		func(ctx context.Context, c bridge.Conn) {
			p := producer.New(h, c, store, cfg.Producer)
			if err := p.Run(ctx); err != nil {
				logger.Warn("producer stopped", zap.Error(err))
			}
		})
	mux := http.NewServeMux()
	mux.Handle(cfg.Bridge.Path, handler)
	serve(ctx, g, &http.Server{
		Addr:              cfg.Bridge.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	})
	logger.Info("bridge listening", zap.String("addr", cfg.Bridge.ListenAddr), zap.String("path", cfg.Bridge.Path))

	if cfg.Metrics.Enabled {
		serve(ctx, g, metrics.NewServer(cfg.Metrics.Addr))
		logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
	}

	return g.Wait()
}

// serve runs srv until ctx is done.
func serve(ctx context.Context, g *errgroup.Group, srv *http.Server) {
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
