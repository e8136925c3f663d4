package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"github.com/studiolink/smshub/internal/app"
	"github.com/studiolink/smshub/internal/config"
	"github.com/studiolink/smshub/internal/db"
	httpSrv "github.com/studiolink/smshub/internal/http"
	"github.com/studiolink/smshub/internal/logger"
	"github.com/studiolink/smshub/internal/repository"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log, err := logger.New(cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer func() { _ = log.Sync() }()

		a, err := app.New(cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		// Reporting is optional: without ClickHouse the /v1/reports route is off.
		var reports repository.CHMessagesRepository
		var chDB *sqlx.DB
		if chDB, err = db.ClickHouse(cfg.ClickHouse); err != nil {
			log.Warn("clickhouse unavailable, reports disabled", zap.Error(err))
		} else {
			defer func() { _ = chDB.Close() }()
			reports = repository.NewCHMessagesRepository(chDB)
		}

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Inbound:       a.Inbound,
			Welcome:       a.Guard,
			Sweeper:       a.Sweeper,
			Sender:        a.Dispatcher,
			Conversations: a.Conversations,
			Studios:       a.Studios,
			Reports:       reports,
			Redis:         a.Redis,
			Log:           log,
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}
