// Package worker runs one strategy engine per goroutine behind the Worker
// contract: explicit lifecycle states, a bounded stop, per-worker log
// routing and an optional live log stream.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantflow/stratd/internal/domain"
	"github.com/quantflow/stratd/internal/engine"
	"github.com/quantflow/stratd/internal/logrouter"
	"github.com/quantflow/stratd/internal/logstream"
	"github.com/quantflow/stratd/internal/statestore"
)

// DefaultStopTimeout bounds how long Stop waits for the run loop to exit
// before abandoning it.
const DefaultStopTimeout = 5 * time.Second

// Adapter wraps a strategy engine as a Worker. It owns the engine's run
// goroutine, its log router and its stream endpoint.
type Adapter struct {
	cfg     domain.StrategyConfig
	account domain.AccountInfo
	key     domain.WorkerKey
	hash    string

	eng    engine.Engine
	feed   engine.Feed
	store  *statestore.Store
	router *logrouter.Router

	// wlog is the worker's own routed logger: messages written here reach
	// the worker's sinks and stream. log is the supervisor's logger.
	wlog zerolog.Logger
	log  zerolog.Logger

	warmupDays  int
	stopTimeout time.Duration

	mu       sync.Mutex
	state    domain.WorkerState
	endpoint *logstream.Endpoint
	cancel   context.CancelFunc
	done     chan struct{}
}

// Start transitions the worker from Created to Running, brings up the log
// stream, restores saved state, warms the engine up and launches the run
// loop. A worker can be started once; lifecycle restarts build a fresh one.
func (a *Adapter) Start() error {
	a.mu.Lock()
	if a.state != domain.StateCreated {
		state := a.state
		a.mu.Unlock()
		return fmt.Errorf("worker %s cannot start from state %s", a.key, state)
	}
	a.state = domain.StateRunning
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	endpoint := a.endpoint
	a.mu.Unlock()

	if endpoint != nil {
		if err := endpoint.Start(); err != nil {
			// The worker is more important than its stream.
			a.log.Warn().Err(err).Str("worker", string(a.key)).Msg("Log stream failed to start, running without it")
			a.mu.Lock()
			a.endpoint = nil
			a.mu.Unlock()
		}
	}

	a.restoreState()
	a.warmup()

	go a.run(ctx)
	a.wlog.Info().Msgf("worker started for %s (%s)", a.cfg.Symbol, a.cfg.StrategyKey)
	return nil
}

func (a *Adapter) restoreState() {
	if a.store == nil {
		return
	}
	if a.LoadState() {
		a.wlog.Info().Msgf("restored saved state for %s", a.cfg.Symbol)
	}
}

func (a *Adapter) warmup() {
	if a.feed == nil || a.warmupDays <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bars, err := a.feed.History(ctx, a.cfg.Symbol, a.warmupDays)
	if err != nil {
		a.log.Warn().Err(err).Str("worker", string(a.key)).Msg("Warmup history unavailable, starting cold")
		return
	}
	if err := a.eng.Warmup(bars); err != nil {
		a.log.Warn().Err(err).Str("worker", string(a.key)).Msg("Engine warmup failed, starting cold")
	}
}

func (a *Adapter) run(ctx context.Context) {
	defer close(a.done)
	defer func() {
		if p := recover(); p != nil {
			a.log.Error().Interface("panic", p).Str("worker", string(a.key)).Msg("Worker run loop panicked")
			a.failAndShutdown()
		}
	}()

	for {
		bar, err := a.feed.Next(ctx, a.cfg.Symbol)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.wlog.Error().Msgf("feed failed for %s: %v", a.cfg.Symbol, err)
			a.failAndShutdown()
			return
		}
		if err := a.eng.OnBar(bar); err != nil {
			a.wlog.Error().Msgf("engine failed for %s: %v", a.cfg.Symbol, err)
			a.failAndShutdown()
			return
		}
	}
}

// failAndShutdown marks the worker failed and releases its stream and
// sinks. The orchestrator will observe the Error state but never restarts
// a self-terminated worker.
func (a *Adapter) failAndShutdown() {
	a.mu.Lock()
	a.state = domain.StateError
	endpoint := a.endpoint
	a.mu.Unlock()

	if endpoint != nil {
		endpoint.Stop()
	}
	a.router.Close()
}

// Stop shuts the worker down, optionally saving engine state first. The
// run loop gets stopTimeout to exit; a loop stuck in an engine call is
// abandoned with a warning rather than blocking the supervisor.
func (a *Adapter) Stop(saveState bool) error {
	a.mu.Lock()
	if a.state == domain.StateStopped {
		a.mu.Unlock()
		return nil
	}
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	a.wlog.Info().Msgf("stopping worker for %s", a.cfg.Symbol)
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(a.stopTimeout):
			a.log.Warn().Str("worker", string(a.key)).Dur("timeout", a.stopTimeout).
				Msg("Worker run loop did not exit before deadline, abandoning it")
		}
	}

	if saveState {
		a.SaveState()
	}

	a.mu.Lock()
	endpoint := a.endpoint
	if a.state != domain.StateError {
		a.state = domain.StateStopped
	}
	a.mu.Unlock()

	if endpoint != nil {
		endpoint.Stop()
	}
	a.router.Close()
	return nil
}

// IsRunning reports whether the run loop is live.
func (a *Adapter) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == domain.StateRunning
}

// GetStats snapshots the worker without touching the run loop.
func (a *Adapter) GetStats() domain.WorkerStats {
	es := a.eng.Stats()

	a.mu.Lock()
	state := a.state
	a.mu.Unlock()

	extras := make(map[string]interface{}, len(es.Extras))
	for k, v := range es.Extras {
		extras[k] = v
	}
	return domain.WorkerStats{
		Symbol:        a.cfg.Symbol,
		Strategy:      a.cfg.StrategyKey,
		Engine:        string(a.cfg.Engine),
		State:         state,
		BarsProcessed: es.BarsProcessed,
		Position:      es.Position,
		EntryPrice:    es.EntryPrice,
		Extras:        extras,
	}
}

// SaveState persists the engine snapshot. Returns false when persistence
// is unavailable or the engine cannot encode itself; failures are logged,
// never fatal.
func (a *Adapter) SaveState() bool {
	if a.store == nil {
		return false
	}
	payload, err := a.eng.SaveState()
	if err != nil {
		a.log.Warn().Err(err).Str("worker", string(a.key)).Msg("Engine state encode failed")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.SaveSnapshot(ctx, a.key, a.eng.Name(), payload); err != nil {
		a.log.Warn().Err(err).Str("worker", string(a.key)).Msg("Engine state save failed")
		return false
	}
	a.wlog.Info().Msgf("state saved for %s", a.cfg.Symbol)
	return true
}

// LoadState restores the engine snapshot if one exists.
func (a *Adapter) LoadState() bool {
	if a.store == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, ok, err := a.store.LoadSnapshot(ctx, a.key)
	if err != nil {
		a.log.Warn().Err(err).Str("worker", string(a.key)).Msg("Engine state load failed")
		return false
	}
	if !ok {
		return false
	}
	if err := a.eng.LoadState(payload); err != nil {
		a.log.Warn().Err(err).Str("worker", string(a.key)).Msg("Engine state decode failed")
		return false
	}
	return true
}

// LogStreamURL returns the live stream address, or "" when the worker runs
// without a stream.
func (a *Adapter) LogStreamURL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.endpoint == nil {
		return ""
	}
	return a.endpoint.URL()
}

func (a *Adapter) Symbol() string        { return a.cfg.Symbol }
func (a *Adapter) StrategyKey() string   { return a.cfg.StrategyKey }
func (a *Adapter) UserID() string        { return a.cfg.UserID }
func (a *Adapter) Key() domain.WorkerKey { return a.key }
func (a *Adapter) ConfigHash() string    { return a.hash }

// Account exposes the securities account the worker trades with.
func (a *Adapter) Account() domain.AccountInfo { return a.account }
