// Package main is the entry point for stratd, the multi-strategy trading
// supervisor. It loads strategy definitions from MongoDB, runs one worker
// per definition, keeps the running set converged with the configuration,
// and suspends/resumes workers on the market calendar. Each worker's log is
// routed to its own rotating file and live websocket stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantflow/stratd/internal/auth"
	"github.com/quantflow/stratd/internal/backup"
	"github.com/quantflow/stratd/internal/calendar"
	"github.com/quantflow/stratd/internal/config"
	"github.com/quantflow/stratd/internal/configsource"
	"github.com/quantflow/stratd/internal/domain"
	"github.com/quantflow/stratd/internal/engine"
	"github.com/quantflow/stratd/internal/lifecycle"
	"github.com/quantflow/stratd/internal/logrouter"
	"github.com/quantflow/stratd/internal/orchestrator"
	"github.com/quantflow/stratd/internal/scheduler"
	"github.com/quantflow/stratd/internal/server"
	"github.com/quantflow/stratd/internal/statestore"
	"github.com/quantflow/stratd/internal/worker"
	"github.com/quantflow/stratd/pkg/logger"
)

// sourceLoader adapts the Mongo config source to the orchestrator's Loader.
type sourceLoader struct {
	src *configsource.Source
}

func (l sourceLoader) Load(ctx context.Context) (map[domain.WorkerKey]domain.StrategyConfig, error) {
	return l.src.Load(ctx, configsource.Filter{})
}

func (l sourceLoader) ResolveAccount(ctx context.Context, userID string) domain.AccountInfo {
	return l.src.ResolveAccount(ctx, userID)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Int("port", cfg.Port).Msg("Starting stratd")
	if cfg.AuthEnabled {
		log.Info().Msg("Authentication enabled")
	} else {
		log.Warn().Msg("Authentication disabled, all requests run as the dev identity")
	}

	ctx := context.Background()

	// Configuration store.
	client, err := configsource.Connect(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatal().Err(err).Msg("MongoDB connection failed")
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	source := configsource.New(configsource.Config{
		Client:             client,
		Database:           cfg.MongoDB,
		ConfigCollection:   cfg.ConfigCollection,
		AccountsCollection: cfg.AccountsCollection,
		EnabledFamilies:    cfg.EnabledFamilies(),
	}, log)

	// Engine state persistence.
	store, err := statestore.Open(cfg.StateDBPath(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("State store open failed")
	}
	defer store.Close()

	// Worker factory: one per engine family, both backed by the compiled-in
	// strategy registry. The backtrader family runs engines in backtest mode.
	factory := worker.NewFactory(worker.FactoryConfig{
		Feed:  engine.NewSyntheticFeed(time.Second),
		Store: store,
		Router: logrouter.Config{
			Backends: cfg.LogBackends,
			LogRoot:  cfg.LogRoot,
			LokiURL:  cfg.LokiURL,
			ELKAddr:  cfg.ELKAddr,
		},
		StreamHost:  "0.0.0.0",
		WarmupDays:  cfg.WarmupDays,
		StopTimeout: cfg.StopTimeout,
	}, log)

	factories := make(map[domain.EngineFamily]domain.WorkerFactory)
	for _, family := range cfg.EnabledFamilies() {
		factories[family] = factory.New
	}

	orch := orchestrator.New(sourceLoader{src: source}, factories, cfg.ReloadInterval, log)

	// Market-calendar lifecycle: pre-open recreate, post-close stop, forced
	// cleanup, ticked by the cron scheduler.
	sched := scheduler.New(log)
	if cfg.LifecycleEnabled {
		var markers lifecycle.MarkerStore
		if cfg.LifecyclePersistMarks {
			markers = store
		}

		uploader, err := backup.New(ctx, cfg.BackupS3Bucket, cfg.BackupS3Prefix, store, log)
		if err != nil {
			log.Warn().Err(err).Msg("Snapshot backup unavailable")
		}

		controller := lifecycle.New(lifecycle.Config{
			AutoStart:      cfg.LifecycleAutoStart,
			AutoStop:       cfg.LifecycleAutoStop,
			Calendar:       calendar.ForLocale(cfg.CalendarLocale),
			Markers:        markers,
			AfterPostClose: uploader.UploadAll,
		}, log)

		schedule := fmt.Sprintf("@every %s", cfg.LifecycleInterval)
		if err := sched.AddJob(schedule, &lifecycle.Job{Controller: controller, Set: orch}); err != nil {
			log.Fatal().Err(err).Msg("Lifecycle job registration failed")
		}
	}

	// HTTP read layer.
	srv := server.New(server.Config{
		Log:        log,
		Port:       cfg.Port,
		Supervisor: orch,
		Auth:       auth.New(cfg.JWTSecret, cfg.AuthEnabled, log),
		PublicHost: cfg.PublicHost,
		LogRoot:    cfg.LogRoot,
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Bring the worker set up, then let the scheduler drive the day.
	if err := orch.StartAll(ctx); err != nil {
		log.Error().Err(err).Msg("Initial configuration load failed, starting empty until reload succeeds")
	}
	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	sched.Stop()
	orch.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}
