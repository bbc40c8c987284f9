package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Suhridx/pump-dashboard/api"
	"github.com/Suhridx/pump-dashboard/archive"
	"github.com/Suhridx/pump-dashboard/config"
	"github.com/Suhridx/pump-dashboard/health"
	"github.com/Suhridx/pump-dashboard/metric"
	"github.com/Suhridx/pump-dashboard/pkg/tlsutil"
	"github.com/Suhridx/pump-dashboard/view"
)

// Values for the pumpview_service_status gauge.
const (
	statusStopped = iota
	statusStarting
	statusRunning
	statusStopping
	statusFailed
)

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session, the subscriber API and the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.load(cmd.ErrOrStderr()); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts.cfg, opts.logger)
		},
	}
}

// serve runs every long-lived component until ctx is cancelled or one of
// them fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Starting pumpview",
		"version", Version,
		"build_time", BuildTime,
		"transport", cfg.Transport.Kind)

	registry := metric.NewMetricsRegistry()
	core := registry.CoreMetrics()
	core.RecordServiceInfo(Version, cfg.Transport.Kind)

	pub := view.NewPublisher()
	defer pub.Close()

	mgr, err := newSession(cfg, pub, registry, logger, true)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	apiOpts := []api.Option{
		api.WithLogger(logger.With("component", "api")),
		api.WithMetrics(registry),
		api.WithMonitor(health.NewMonitor()),
	}

	var backfiller *archive.Backfiller
	if cfg.Archive.Enabled() {
		client, err := newArchiveClient(cfg.Archive, registry, logger.With("component", "archive"))
		if err != nil {
			return fmt.Errorf("create archive client: %w", err)
		}
		var bf api.Backfiller
		if cfg.Archive.Backfill.Enabled {
			backfiller, err = archive.NewBackfiller(client, mgr, cfg.Archive.Backfill.Archive(),
				logger.With("component", "backfill"))
			if err != nil {
				return fmt.Errorf("create backfiller: %w", err)
			}
			bf = backfiller
		}
		apiOpts = append(apiOpts, api.WithArchive(client, bf))
	}

	serverTLS, err := tlsutil.LoadServer(cfg.HTTP.TLS)
	if err != nil {
		return err
	}
	srv, err := api.NewServer(api.Config{
		Addr:            cfg.HTTP.Addr,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		MaxClients:      cfg.HTTP.MaxClients,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout.Std(),
		TLS:             serverTLS,
	}, mgr, pub, apiOpts...)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	supervise := func(name string, run func(context.Context) error) {
		core.RecordServiceStatus(name, statusStarting)
		g.Go(func() error {
			core.RecordServiceStatus(name, statusRunning)
			err := run(gctx)
			if err != nil {
				core.RecordServiceStatus(name, statusFailed)
				logger.Error("Component failed", "component", name, "error", err)
				return fmt.Errorf("%s: %w", name, err)
			}
			core.RecordServiceStatus(name, statusStopped)
			return nil
		})
	}

	supervise("session", mgr.Run)
	supervise("api", srv.Start)

	if cfg.Metrics.Enabled {
		ms := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		supervise("metrics", ms.Start)
	}

	if backfiller != nil {
		supervise("backfill", func(ctx context.Context) error {
			if err := backfiller.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			core.RecordServiceStatus("backfill", statusStopping)
			backfiller.Stop()
			return nil
		})
	}

	logger.Info("pumpview started", "http_addr", cfg.HTTP.Addr, "metrics", cfg.Metrics.Enabled)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("pumpview shutdown complete")
	return nil
}
