// Package serve provides the long running service command
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gaia-review/gaia/internal/app"
	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/observability"
	"github.com/gaia-review/gaia/internal/review"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the metrics endpoint and the stale lock reaper",
		Long: `Serve exposes /metrics and /health and periodically returns points of
interest and fishnet cells whose review locks have outlived review.lock_timeout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				settings.Server.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, settings)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address of the metrics and health endpoint")

	return cmd
}

func run(ctx context.Context, settings *conf.Settings) error {
	log := logger.Global().Module("serve")

	services, err := app.New(ctx, settings)
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			log.Warn("shutdown incomplete", logger.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	reaper := review.NewReaper(services.Engine, settings.Review.ReapInterval, settings.Review.LockTimeout)
	reaper.Start(gctx)
	defer reaper.Wait()

	if settings.Server.Listen != "" {
		endpoint := observability.NewEndpoint(settings.Server.Listen, services.Metrics, services.HealthChecks(), nil)
		g.Go(func() error { return endpoint.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	log.Info("service running",
		logger.String("listen", settings.Server.Listen),
		logger.Duration("reap_interval", settings.Review.ReapInterval),
		logger.Duration("lock_timeout", settings.Review.LockTimeout))

	err = g.Wait()
	log.Info("service stopping")
	return err
}
