// Package app wires the stores, clients and services shared by the serve and
// worker commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/studiolink/smshub/internal/cache"
	"github.com/studiolink/smshub/internal/config"
	"github.com/studiolink/smshub/internal/credential"
	"github.com/studiolink/smshub/internal/crm"
	"github.com/studiolink/smshub/internal/db"
	"github.com/studiolink/smshub/internal/dispatcher"
	"github.com/studiolink/smshub/internal/events"
	"github.com/studiolink/smshub/internal/kafka"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/provider"
	"github.com/studiolink/smshub/internal/repository"
	"github.com/studiolink/smshub/internal/service/conversation"
	"github.com/studiolink/smshub/internal/service/followup"
	"github.com/studiolink/smshub/internal/service/inbound"
	"github.com/studiolink/smshub/internal/service/sweep"
	"github.com/twilio/twilio-go"
	"go.uber.org/zap"
)

const sweepLockKey = "smshub:lock:follow_up_sweep"

type App struct {
	Config config.Config
	Log    *zap.Logger

	MySQL    *sqlx.DB
	Redis    *redis.Client
	Producer *kafka.Producer

	Messages repository.MessagesRepository
	Studios  repository.StudiosRepository
	Tasks    repository.ZohoTasksRepository

	Directory     *cache.StudioDirectory
	Dispatcher    *dispatcher.Dispatcher
	Guard         *followup.Guard
	Inbound       *inbound.Processor
	Conversations *conversation.Service
	Sweeper       *sweep.Sweeper

	closers []func() error
}

// New connects MySQL, Redis and the Kafka producer and builds every service
// on top. Close releases them in reverse order.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	mysqlDB, err := db.MySQL(cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}
	a.MySQL = mysqlDB
	a.closers = append(a.closers, mysqlDB.Close)

	rdb, err := db.Redis(cfg.Redis)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	a.Redis = rdb
	a.closers = append(a.closers, rdb.Close)

	a.Producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	a.closers = append(a.closers, a.Producer.Close)

	a.build()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.MySQL.PingTimeout+time.Second)
	defer cancel()
	if err := inbound.CheckAdminNumber(ctx, a.Studios, cfg.Workflow.AdminNumber); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() {
	cfg, log := a.Config, a.Log

	a.Messages = repository.NewMessagesRepository(a.MySQL)
	a.Studios = repository.NewStudiosRepository(a.MySQL)
	a.Tasks = repository.NewZohoTasksRepository(a.MySQL)
	accounts := repository.NewAccountsRepository(a.MySQL)

	resolver := credential.NewResolver(accounts, map[model.Platform]credential.Refresher{
		model.PlatformZoho:        credential.NewZohoRefresher(cfg.Zoho.AccountsURL, cfg.Zoho.Timeout),
		model.PlatformRingCentral: credential.NewRingCentralRefresher(cfg.RingCentral.TokenURL, cfg.RingCentral.Timeout),
	}, log)
	zoho := crm.NewZoho(cfg.Zoho.APIURL, cfg.Zoho.Timeout, resolver)

	pub := events.NewKafkaPublisher(a.Producer, log)
	rec := dispatcher.NewStoreRecorder(a.Messages, pub, log)

	rc := provider.NewRingCentral(provider.RingCentralConfig{
		BaseURL:       cfg.RingCentral.BaseURL,
		Timeout:       cfg.RingCentral.Timeout,
		PageSize:      cfg.RingCentral.ListPageSize,
		FailThreshold: cfg.RingCentral.Breaker.FailThreshold,
		OpenFor:       time.Duration(cfg.RingCentral.Breaker.OpenForMs) * time.Millisecond,
	}, resolver, log)
	adapters := []provider.Adapter{rc}

	// Twilio is optional: only studios that still have a legacy number use it.
	var tw provider.Adapter
	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" {
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.Twilio.AccountSID,
			Password: cfg.Twilio.AuthToken,
		})
		if cfg.Twilio.Timeout > 0 {
			client.SetTimeout(cfg.Twilio.Timeout)
		}
		tw = provider.NewTwilio(client.Api, rec, cfg.Twilio.ListLimit, log)
		adapters = append(adapters, tw)
	} else {
		log.Warn("twilio credentials not configured, legacy provider disabled")
	}

	a.Dispatcher = dispatcher.NewDispatcher(a.Studios, adapters, rec, log)
	a.Guard = followup.NewGuard(a.Messages, a.Tasks, a.Studios, zoho, a.Dispatcher, followup.Config{
		SixDayStudios:         cfg.Workflow.SixDayStudios,
		StatusExcludedNumbers: cfg.Workflow.StatusExcludedNumbers,
		ClaimLease:            cfg.Workflow.ClaimLease,
	}, log)
	a.Inbound = inbound.NewProcessor(a.Messages, a.Studios, a.Tasks, zoho, a.Guard, pub,
		inbound.Config{AdminNumber: cfg.Workflow.AdminNumber}, log)

	a.Directory = cache.NewStudioDirectory(a.Redis, a.Studios, cfg.Workflow.DirectoryTTL, log)
	a.Conversations = conversation.NewService(a.Messages, a.Studios, rc, tw, a.Directory, log)

	lock := cache.NewLock(a.Redis, sweepLockKey, cfg.Cron.LockTTL)
	a.Sweeper = sweep.NewSweeper(a.Messages, a.Studios, zoho, a.Guard, lock, sweep.Config{
		Window:      cfg.Cron.Window,
		Concurrency: cfg.Cron.Concurrency,
	}, log)
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
