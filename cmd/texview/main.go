// Package main is a viewer for texlinkd: it connects, rebuilds each
// document's texture and writes it to a PNG snapshot as updates arrive.
// Built with the window tag it can also show the active document on screen.
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

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/texlink/internal/bridge"
	"github.com/Faultbox/texlink/internal/config"
	"github.com/Faultbox/texlink/internal/logger"
	"github.com/Faultbox/texlink/internal/metrics"
	"github.com/Faultbox/texlink/internal/settings"
	"github.com/Faultbox/texlink/internal/viewer"
)

const snapshotInterval = 250 * time.Millisecond

// showWindow runs the preview window on the main thread. It is nil unless
// texview is built with the window tag.
var showWindow func(ctx context.Context, cfg config.WindowConfig, v *viewer.Viewer, log *zap.Logger) error

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

	logger.Info("=== texview ===")
	logger.Sugar.Debugf("Config: %+v", cfg)

	if err := run(cfg); err != nil {
		logger.Error("texview failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("texview stopped")
}

func run(cfg *config.Config) error {
	if cfg.Viewer.Window.Enabled && showWindow == nil {
		return errors.New("texview was built without window support (build with -tags window)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := dial(ctx, cfg.Bridge)
	if err != nil {
		return err
	}
	defer conn.Close()

	snaps, err := newSnapshotter(cfg.Viewer.SnapshotDir, logger.Named("snapshot"))
	if err != nil {
		return err
	}
	v := viewer.New(conn,
		viewer.WithLogger(logger.Named("viewer")),
		viewer.WithPreview(true),
		viewer.OnUpdate(func(u viewer.Update) { snaps.mark(u.DocumentID) }),
		viewer.OnClosed(snaps.remove),
		viewer.OnSettings(func(us settings.UserSettings) {
			logger.Info("settings received",
				zap.Float64("textureResolutionScale", us.Display.TextureResolutionScale),
				zap.Stringer("controls", us.Controls.Scheme))
		}),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The host going away ends the session.
		defer cancel()
		return v.Run(ctx)
	})
	g.Go(func() error { return snaps.run(ctx, v, snapshotInterval) })

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Addr)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}

	if cfg.Viewer.Window.Enabled {
		// Closing the window ends the session.
		err := showWindow(ctx, cfg.Viewer.Window, v, logger.Named("window"))
		cancel()
		return errors.Join(err, g.Wait())
	}
	return g.Wait()
}

// dial connects to the host, retrying with backoff until it answers or ctx ends.
func dial(ctx context.Context, cfg config.BridgeConfig) (bridge.Conn, error) {
	var conn bridge.Conn
	op := func() error {
		c, err := bridge.Dial(ctx, cfg.URL, cfg.OutboxSize, logger.Named("bridge"))
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = time.Minute
	notify := func(err error, wait time.Duration) {
		logger.Warn("host not reachable, retrying", zap.String("url", cfg.URL),
			zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.URL, err)
	}
	logger.Info("connected", zap.String("url", cfg.URL))
	return conn, nil
}
