// Package lifecycle drives the daily market-calendar transitions: recreate
// stopped workers before the open, stop them after the close, and force-stop
// stragglers a few minutes later. Each transition fires at most once per
// calendar date, even when a tick lands mid-window after a wakeup.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantflow/stratd/internal/calendar"
	"github.com/quantflow/stratd/internal/domain"
)

// EventKind names a daily edge event.
type EventKind string

const (
	PreOpen   EventKind = "pre_open"
	PostClose EventKind = "post_close"
	Cleanup   EventKind = "cleanup"
)

// Event windows, local wall clock, [start, end) in minutes since midnight.
var windows = map[EventKind][2]int{
	PreOpen:   {9*60 + 25, 9*60 + 30},
	PostClose: {15*60 + 5, 15*60 + 10},
	Cleanup:   {15*60 + 10, 15*60 + 15},
}

// WorkerSet is the slice of the orchestrator the controller operates on.
type WorkerSet interface {
	Workers() map[domain.WorkerKey]domain.Worker
	Recreate(ctx context.Context, key domain.WorkerKey) error
}

// MarkerStore persists last-fired dates across process restarts. Optional:
// without one the markers live in memory and a restart inside an event
// window re-fires the event (both transitions are idempotent on the worker
// side, so the cost is a redundant stop or recreate).
type MarkerStore interface {
	MarkLifecycleEvent(ctx context.Context, kind, day string) error
	LifecycleEventDay(ctx context.Context, kind string) (string, bool, error)
}

// Config tunes the controller.
type Config struct {
	AutoStart bool
	AutoStop  bool
	Calendar  *calendar.Calendar
	Markers   MarkerStore // nil keeps markers in memory only

	// AfterPostClose runs once after a post-close event completes, with the
	// saved states on disk. The snapshot backup uploader hangs off this.
	AfterPostClose func(ctx context.Context)
}

// Controller is the time-driven state machine. Tick is called from a single
// scheduler context; the fired map is guarded anyway so tests can probe
// concurrently.
type Controller struct {
	cfg Config
	log zerolog.Logger

	mu    sync.Mutex
	fired map[EventKind]string // kind -> date last fired, "2006-01-02"
}

// New builds a controller. When a MarkerStore is configured, last-fired
// dates are reloaded so a restart does not re-fire an event.
func New(cfg Config, log zerolog.Logger) *Controller {
	c := &Controller{
		cfg:   cfg,
		log:   log.With().Str("component", "lifecycle").Logger(),
		fired: make(map[EventKind]string),
	}
	if cfg.Markers != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for kind := range windows {
			if day, ok, err := cfg.Markers.LifecycleEventDay(ctx, string(kind)); err == nil && ok {
				c.fired[kind] = day
			}
		}
	}
	return c
}

// Tick evaluates the clock against the event windows and fires due events
// over the worker set. Non-trading days are skipped entirely.
func (c *Controller) Tick(ctx context.Context, now time.Time, set WorkerSet) {
	if !c.cfg.Calendar.IsTradingDay(now) {
		return
	}

	if c.cfg.AutoStart && c.due(PreOpen, now) {
		c.preOpen(ctx, set)
		c.markFired(ctx, PreOpen, now)
	}
	if c.cfg.AutoStop && c.due(PostClose, now) {
		c.postClose(set)
		c.markFired(ctx, PostClose, now)
		if c.cfg.AfterPostClose != nil {
			c.cfg.AfterPostClose(ctx)
		}
	}
	if c.due(Cleanup, now) {
		c.cleanup(set)
		c.markFired(ctx, Cleanup, now)
	}
}

// due reports whether the event's window contains now and the event has not
// fired today.
func (c *Controller) due(kind EventKind, now time.Time) bool {
	w := windows[kind]
	minutes := now.Hour()*60 + now.Minute()
	if minutes < w[0] || minutes >= w[1] {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired[kind] != dateOf(now)
}

func (c *Controller) markFired(ctx context.Context, kind EventKind, now time.Time) {
	day := dateOf(now)
	c.mu.Lock()
	c.fired[kind] = day
	c.mu.Unlock()

	if c.cfg.Markers != nil {
		if err := c.cfg.Markers.MarkLifecycleEvent(ctx, string(kind), day); err != nil {
			c.log.Warn().Err(err).Str("event", string(kind)).Msg("Lifecycle marker persist failed")
		}
	}
	c.log.Info().Str("event", string(kind)).Str("day", day).Msg("Lifecycle event fired")
}

// preOpen recreates every registered worker that is not running, so the day
// starts with a fresh engine carrying yesterday's saved state.
func (c *Controller) preOpen(ctx context.Context, set WorkerSet) {
	for key, w := range set.Workers() {
		if w.IsRunning() {
			continue
		}
		if err := set.Recreate(ctx, key); err != nil {
			c.log.Error().Err(err).Str("worker", string(key)).Msg("Pre-open recreate failed")
		} else {
			c.log.Info().Str("worker", string(key)).Msg("Worker recreated for the trading day")
		}
	}
}

// postClose stops every running worker with state saving.
func (c *Controller) postClose(set WorkerSet) {
	for key, w := range set.Workers() {
		if !w.IsRunning() {
			continue
		}
		if err := w.Stop(true); err != nil {
			c.log.Warn().Err(err).Str("worker", string(key)).Msg("Post-close stop reported an error")
		} else {
			c.log.Info().Str("worker", string(key)).Msg("Worker stopped after close")
		}
	}
}

// cleanup force-stops anything still alive, without saving: by this point a
// worker that survived post-close is presumed wedged and its state suspect.
func (c *Controller) cleanup(set WorkerSet) {
	for key, w := range set.Workers() {
		if !w.IsRunning() {
			continue
		}
		c.log.Warn().Str("worker", string(key)).Msg("Worker alive past close, force stopping")
		if err := w.Stop(false); err != nil {
			c.log.Warn().Err(err).Str("worker", string(key)).Msg("Forced stop reported an error")
		}
	}
}

// LastFired returns the date an event last fired, for status reporting.
func (c *Controller) LastFired(kind EventKind) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	day, ok := c.fired[kind]
	return day, ok
}

func dateOf(t time.Time) string { return t.Format("2006-01-02") }

// Job adapts the controller to the scheduler's Job interface.
type Job struct {
	Controller *Controller
	Set        WorkerSet
}

func (j *Job) Name() string { return "lifecycle_tick" }

func (j *Job) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	j.Controller.Tick(ctx, time.Now(), j.Set)
	return nil
}
