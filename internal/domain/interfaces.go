package domain

// Worker is the uniform contract the orchestrator and lifecycle controller
// drive without knowing strategy internals. Workers are never reused after
// Stop; a restart means discard and construct a new one from the factory.
type Worker interface {
	// Start transitions Created to Running and begins background activity.
	// Safe to call once.
	Start() error

	// Stop signals the background activity to cease, waits up to a bounded
	// deadline, persists state best-effort when saveState is set, and releases
	// the log stream endpoint. Idempotent.
	Stop(saveState bool) error

	// IsRunning reports state == Running and the background activity alive.
	IsRunning() bool

	// GetStats returns a snapshot of worker metrics. Never blocks on the run
	// loop and never fails.
	GetStats() WorkerStats

	// SaveState / LoadState persist and restore strategy state, reporting
	// success. They never panic out.
	SaveState() bool
	LoadState() bool

	// LogStreamURL returns "ws://host:port" for the worker's stream, or ""
	// when the worker runs without one.
	LogStreamURL() string

	// Identity.
	Symbol() string
	StrategyKey() string
	UserID() string
	Key() WorkerKey
	ConfigHash() string
}

// WorkerFactory constructs a worker from a configuration plus resolved
// account info. Factories are registered per engine family.
type WorkerFactory func(cfg StrategyConfig, account AccountInfo) (Worker, error)
