package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/studiolink/smshub/internal/app"
	"github.com/studiolink/smshub/internal/metrics"
	"github.com/studiolink/smshub/internal/worker"
	"go.uber.org/zap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the follow-up sweep on an interval (alternative to the cron endpoint)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := load(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		a, err := app.New(cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		job := worker.NewSweepJob(a.Sweeper, cfg.Cron.Interval, log)
		log.Info("sweep worker started",
			zap.Duration("interval", cfg.Cron.Interval),
			zap.Duration("window", cfg.Cron.Window),
		)
		return job.Run(ctx)
	},
}
