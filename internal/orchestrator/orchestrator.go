// Package orchestrator keeps the set of running strategy workers converged
// with the desired configuration set. Reconciliation is a deterministic
// diff: stop workers whose config disappeared, restart workers whose config
// hash changed, start workers that are desired but absent. The same pass is
// the retry mechanism for transient start failures.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantflow/stratd/internal/domain"
)

// Loader supplies the desired configuration set and the account directory.
type Loader interface {
	Load(ctx context.Context) (map[domain.WorkerKey]domain.StrategyConfig, error)
	ResolveAccount(ctx context.Context, userID string) domain.AccountInfo
}

// Orchestrator owns the running worker set. Mutation happens only inside
// reconcile, which is serialized; readers take consistent snapshots under a
// read lock.
type Orchestrator struct {
	loader    Loader
	factories map[domain.EngineFamily]domain.WorkerFactory
	log       zerolog.Logger

	reloadInterval time.Duration

	// reconcileMu serializes reconciliation passes so hot reload can never
	// overlap StartAll, StopAll or itself.
	reconcileMu sync.Mutex

	mu      sync.RWMutex
	workers map[domain.WorkerKey]domain.Worker
	configs map[domain.WorkerKey]domain.StrategyConfig

	cancelReload context.CancelFunc
	reloadDone   chan struct{}
}

// WorkerStatus is one worker's slice of a status snapshot.
type WorkerStatus struct {
	Alive        bool               `json:"alive"`
	Stats        domain.WorkerStats `json:"stats"`
	LogStreamURL string             `json:"log_stream_url,omitempty"`
}

// Status is the snapshot served to the HTTP layer.
type Status struct {
	TotalWorkers  int                                `json:"total_workers"`
	ActiveConfigs int                                `json:"active_configs"`
	Workers       map[domain.WorkerKey]*WorkerStatus `json:"workers"`
}

// New builds an orchestrator. reloadInterval 0 disables hot reload.
func New(loader Loader, factories map[domain.EngineFamily]domain.WorkerFactory, reloadInterval time.Duration, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		loader:         loader,
		factories:      factories,
		log:            log.With().Str("component", "orchestrator").Logger(),
		reloadInterval: reloadInterval,
		workers:        make(map[domain.WorkerKey]domain.Worker),
		configs:        make(map[domain.WorkerKey]domain.StrategyConfig),
	}
}

// StartAll loads the desired set, reconciles against it, and starts the hot
// reload loop when a reload interval is configured. A failed initial load is
// reported but does not disable hot reload: the supervisor comes up empty
// and the reload cadence retries the load until the source recovers.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	err := o.ReloadOnce(ctx)

	if o.reloadInterval > 0 {
		reloadCtx, cancel := context.WithCancel(context.Background())
		o.cancelReload = cancel
		o.reloadDone = make(chan struct{})
		go o.reloadLoop(reloadCtx)
		o.log.Info().Dur("interval", o.reloadInterval).Msg("Hot reload enabled")
	}
	return err
}

// ReloadOnce performs one load-and-reconcile pass. A load failure keeps the
// previous desired set and running workers untouched.
func (o *Orchestrator) ReloadOnce(ctx context.Context) error {
	desired, err := o.loader.Load(ctx)
	if err != nil {
		o.log.Error().Err(err).Msg("Config load failed, keeping previous desired set")
		return err
	}
	o.Reconcile(ctx, desired)
	return nil
}

func (o *Orchestrator) reloadLoop(ctx context.Context) {
	defer close(o.reloadDone)
	ticker := time.NewTicker(o.reloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = o.ReloadOnce(ctx)
		}
	}
}

// Reconcile converges the running set onto desired. Steps run in order:
// stop removed, stop modified, start new. Keys are processed sorted so the
// same input always produces the same sequence of actions. One worker's
// failure never blocks the others.
func (o *Orchestrator) Reconcile(ctx context.Context, desired map[domain.WorkerKey]domain.StrategyConfig) {
	o.reconcileMu.Lock()
	defer o.reconcileMu.Unlock()

	o.mu.RLock()
	toStop := make([]domain.WorkerKey, 0)
	toRestart := make([]domain.WorkerKey, 0)
	for key := range o.workers {
		cfg, ok := desired[key]
		if !ok {
			toStop = append(toStop, key)
			continue
		}
		if cfg.Hash() != o.workers[key].ConfigHash() {
			toRestart = append(toRestart, key)
		}
	}
	o.mu.RUnlock()
	sortKeys(toStop)
	sortKeys(toRestart)

	for _, key := range toStop {
		o.stopWorker(key, "config removed")
	}
	for _, key := range toRestart {
		o.stopWorker(key, "config changed")
	}

	// The desired set becomes current atomically; readers see either the
	// previous generation or this one, never a mix.
	o.mu.Lock()
	o.configs = desired
	toStart := make([]domain.WorkerKey, 0, len(desired))
	for key := range desired {
		if _, running := o.workers[key]; !running {
			toStart = append(toStart, key)
		}
	}
	o.mu.Unlock()
	sortKeys(toStart)

	for _, key := range toStart {
		o.startWorker(ctx, key, desired[key])
	}

	o.mu.RLock()
	running := len(o.workers)
	o.mu.RUnlock()
	o.log.Info().
		Int("desired", len(desired)).
		Int("running", running).
		Int("stopped", len(toStop)).
		Int("restarted", len(toRestart)).
		Int("started", len(toStart)).
		Msg("Reconciliation complete")
}

func (o *Orchestrator) stopWorker(key domain.WorkerKey, reason string) {
	o.mu.Lock()
	w, ok := o.workers[key]
	delete(o.workers, key)
	o.mu.Unlock()
	if !ok {
		return
	}

	o.log.Info().Str("worker", string(key)).Str("reason", reason).Msg("Stopping worker")
	if err := w.Stop(true); err != nil {
		o.log.Warn().Err(err).Str("worker", string(key)).Msg("Worker stop reported an error")
	}
}

func (o *Orchestrator) startWorker(ctx context.Context, key domain.WorkerKey, cfg domain.StrategyConfig) {
	factory, ok := o.factories[cfg.Engine]
	if !ok {
		o.log.Error().Str("worker", string(key)).Str("engine", string(cfg.Engine)).Msg("No factory for engine family, skipping")
		return
	}

	account := o.loader.ResolveAccount(ctx, cfg.UserID)

	w, err := factory(cfg, account)
	if err != nil {
		o.log.Error().Err(err).Str("worker", string(key)).Msg("Worker construction failed, skipping")
		return
	}
	if err := w.Start(); err != nil {
		o.log.Error().Err(err).Str("worker", string(key)).Msg("Worker start failed, skipping")
		_ = w.Stop(false)
		return
	}

	o.mu.Lock()
	o.workers[key] = w
	o.mu.Unlock()
	o.log.Info().Str("worker", string(key)).Msg("Worker started")
}

// StopAll cancels hot reload and stops every worker with state saving.
func (o *Orchestrator) StopAll() {
	if o.cancelReload != nil {
		o.cancelReload()
		<-o.reloadDone
		o.cancelReload = nil
	}

	o.reconcileMu.Lock()
	defer o.reconcileMu.Unlock()

	o.mu.Lock()
	keys := make([]domain.WorkerKey, 0, len(o.workers))
	for key := range o.workers {
		keys = append(keys, key)
	}
	o.mu.Unlock()
	sortKeys(keys)

	for _, key := range keys {
		o.stopWorker(key, "shutdown")
	}
	o.log.Info().Int("stopped", len(keys)).Msg("All workers stopped")
}

// GetStatus snapshots the orchestrator for the HTTP layer.
func (o *Orchestrator) GetStatus() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st := Status{
		TotalWorkers:  len(o.workers),
		ActiveConfigs: len(o.configs),
		Workers:       make(map[domain.WorkerKey]*WorkerStatus, len(o.workers)),
	}
	for key, w := range o.workers {
		st.Workers[key] = &WorkerStatus{
			Alive:        w.IsRunning(),
			Stats:        w.GetStats(),
			LogStreamURL: w.LogStreamURL(),
		}
	}
	return st
}

// Recreate discards the worker behind key and constructs a fresh one from
// the current desired config: factory, load state, start, replace. Used by
// the lifecycle controller's pre-open event; workers are never reused after
// a stop.
func (o *Orchestrator) Recreate(ctx context.Context, key domain.WorkerKey) error {
	o.reconcileMu.Lock()
	defer o.reconcileMu.Unlock()

	o.mu.RLock()
	cfg, ok := o.configs[key]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no configuration for worker %s", key)
	}

	o.stopWorker(key, "recreate")
	o.startWorker(ctx, key, cfg)

	o.mu.RLock()
	_, started := o.workers[key]
	o.mu.RUnlock()
	if !started {
		return fmt.Errorf("worker %s failed to start after recreate", key)
	}
	return nil
}

// Worker returns the live worker for a key.
func (o *Orchestrator) Worker(key domain.WorkerKey) (domain.Worker, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	w, ok := o.workers[key]
	return w, ok
}

// ConfigFor returns the desired config behind a key; the ownership check
// reads UserID from it.
func (o *Orchestrator) ConfigFor(key domain.WorkerKey) (domain.StrategyConfig, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	cfg, ok := o.configs[key]
	return cfg, ok
}

// Workers returns a snapshot copy of the running set.
func (o *Orchestrator) Workers() map[domain.WorkerKey]domain.Worker {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[domain.WorkerKey]domain.Worker, len(o.workers))
	for key, w := range o.workers {
		out[key] = w
	}
	return out
}

func sortKeys(keys []domain.WorkerKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}
