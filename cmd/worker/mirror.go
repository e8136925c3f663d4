package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/studiolink/smshub/internal/db"
	"github.com/studiolink/smshub/internal/kafka"
	"github.com/studiolink/smshub/internal/metrics"
	"github.com/studiolink/smshub/internal/repository"
	"github.com/studiolink/smshub/internal/worker"
	"go.uber.org/zap"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Copy message events from Kafka into ClickHouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := load(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		chDB, err := db.ClickHouse(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()

		groupID := cfg.Kafka.GroupID
		if groupID == "" {
			groupID = "smshub-mirror"
		}
		consumer := kafka.NewConsumer(kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.Topic,
			GroupID:        groupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		})
		defer consumer.Close()

		w := worker.NewMirror(consumer, repository.NewCHMessagesRepository(chDB), log)
		if cfg.Mirror.BatchSize > 0 {
			w.BatchSize = cfg.Mirror.BatchSize
		}
		if cfg.Mirror.BatchWait > 0 {
			w.BatchWait = cfg.Mirror.BatchWait
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("mirror started",
			zap.String("topic", cfg.Kafka.Topic),
			zap.String("group", groupID),
			zap.Int("batch_size", w.BatchSize),
			zap.Duration("batch_wait", w.BatchWait),
		)
		return w.Run(ctx)
	},
}
