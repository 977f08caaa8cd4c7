package worker

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantflow/stratd/internal/domain"
	"github.com/quantflow/stratd/internal/engine"
	"github.com/quantflow/stratd/internal/logrouter"
	"github.com/quantflow/stratd/internal/logstream"
	"github.com/quantflow/stratd/internal/registry"
	"github.com/quantflow/stratd/internal/statestore"
)

// DefaultWarmupDays is how much daily history an engine is seeded with
// before live bars arrive.
const DefaultWarmupDays = 90

// FactoryConfig wires the shared dependencies for all workers.
type FactoryConfig struct {
	Feed  engine.Feed
	Store *statestore.Store

	// Router selects each worker's sinks; the stream backend is bound to
	// the worker's own endpoint at build time.
	Router logrouter.Config

	// StreamHost is the bind host for log stream endpoints. Each worker
	// gets its own endpoint on an ephemeral port.
	StreamHost    string
	StreamHistory int

	WarmupDays  int
	StopTimeout time.Duration
}

// Factory builds workers from strategy configs.
type Factory struct {
	cfg FactoryConfig
	log zerolog.Logger

	// resolve is swappable for tests.
	resolve func(cfg domain.StrategyConfig, spec engine.Spec) (engine.Engine, error)
}

// NewFactory returns a factory producing engine-backed workers.
func NewFactory(cfg FactoryConfig, log zerolog.Logger) *Factory {
	if cfg.WarmupDays <= 0 {
		cfg.WarmupDays = DefaultWarmupDays
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Factory{
		cfg:     cfg,
		log:     log.With().Str("component", "worker").Logger(),
		resolve: registry.Resolve,
	}
}

// New builds a worker in the Created state. It is the domain.WorkerFactory
// used by the orchestrator.
func (f *Factory) New(cfg domain.StrategyConfig, account domain.AccountInfo) (domain.Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if f.cfg.Feed == nil {
		return nil, fmt.Errorf("worker factory has no market data feed")
	}
	key := cfg.Key()

	// The endpoint only exists when the stream backend is configured;
	// otherwise the worker runs without a live stream and reports no URL.
	var endpoint *logstream.Endpoint
	routerCfg := f.cfg.Router
	if hasBackend(routerCfg.Backends, "stream") {
		endpoint = logstream.New(f.cfg.StreamHost, 0, f.cfg.StreamHistory, f.log)
		routerCfg.Stream = endpoint
	}
	router, err := logrouter.New(routerCfg, key, cfg.Symbol, f.log)
	if err != nil {
		return nil, fmt.Errorf("build log router for %s: %w", key, err)
	}

	wlog := router.Logger(fmt.Sprintf("strategies.%s.%s", cfg.StrategyKey, cfg.Symbol))

	eng, err := f.resolve(cfg, engine.Spec{
		Symbol:  cfg.Symbol,
		Options: cfg.Params,
		Account: account,
		Log:     wlog,
	})
	if err != nil {
		router.Close()
		return nil, fmt.Errorf("build engine for %s: %w", key, err)
	}

	return &Adapter{
		cfg:         cfg,
		account:     account,
		key:         key,
		hash:        cfg.Hash(),
		eng:         eng,
		feed:        f.cfg.Feed,
		store:       f.cfg.Store,
		router:      router,
		endpoint:    endpoint,
		wlog:        wlog,
		log:         f.log,
		warmupDays:  warmupDaysFor(cfg, f.cfg.WarmupDays),
		stopTimeout: f.cfg.StopTimeout,
		state:       domain.StateCreated,
	}, nil
}

func hasBackend(backends []string, name string) bool {
	for _, b := range backends {
		if strings.EqualFold(strings.TrimSpace(b), name) {
			return true
		}
	}
	return false
}

// warmupDaysFor lets a config override the factory default through its
// params, matching how per-strategy tuning reaches the engine.
func warmupDaysFor(cfg domain.StrategyConfig, def int) int {
	if cfg.Params == nil {
		return def
	}
	switch v := cfg.Params["warmup_days"].(type) {
	case int:
		if v > 0 {
			return v
		}
	case int32:
		if v > 0 {
			return int(v)
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return def
}
