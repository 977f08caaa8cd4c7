// Package logrouter delivers strategy log records to the sinks configured
// for a worker. Records produced by shared library code carry no worker
// identity of their own, so the router first decides whether a record
// belongs to its worker (see Allowed) and only then fans it out.
package logrouter

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/quantflow/stratd/internal/domain"
)

// Broadcaster is the piece of the log stream endpoint the router needs.
type Broadcaster interface {
	Broadcast(rec domain.LogRecord)
}

// Config selects the sinks a worker's router writes to.
type Config struct {
	// Backends lists sink names: "file", "console", "stream", "loki", "elk".
	// Unknown names are an error at construction time, not at write time.
	Backends []string

	// LogRoot is the base directory for per-worker log files.
	LogRoot string

	// LokiURL is the base URL of a Loki instance, e.g. http://loki:3100.
	LokiURL string

	// ELKAddr is the host:port of a Logstash TCP input.
	ELKAddr string

	// Stream receives records for WebSocket fan-out. May be nil, in which
	// case the "stream" backend is silently skipped (the worker runs fine
	// without its live stream).
	Stream Broadcaster
}

// Router owns the sink set for one worker and filters records by symbol
// attribution before delivery.
type Router struct {
	key      domain.WorkerKey
	symbol   string
	log      zerolog.Logger
	fallback Sink

	mu    sync.Mutex
	sinks []Sink
}

// New builds a router for the given worker. The console fallback sink is
// always available even when "console" is not a configured backend, so a
// failing sink never loses a record entirely.
func New(cfg Config, key domain.WorkerKey, symbol string, log zerolog.Logger) (*Router, error) {
	r := &Router{
		key:      key,
		symbol:   symbol,
		log:      log.With().Str("component", "logrouter").Str("worker", string(key)).Logger(),
		fallback: newConsoleSink(nil),
	}

	for _, name := range cfg.Backends {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
			continue
		case "file":
			path := filepath.Join(cfg.LogRoot, "workers", string(key)+".log")
			sink, err := newFileSink(path)
			if err != nil {
				return nil, fmt.Errorf("file sink for %s: %w", key, err)
			}
			r.sinks = append(r.sinks, sink)
		case "console":
			r.sinks = append(r.sinks, newConsoleSink(nil))
		case "stream":
			if cfg.Stream != nil {
				r.sinks = append(r.sinks, newStreamSink(cfg.Stream))
			}
		case "loki":
			if cfg.LokiURL == "" {
				return nil, fmt.Errorf("loki backend requires a loki url")
			}
			r.sinks = append(r.sinks, newLokiSink(cfg.LokiURL, key))
		case "elk":
			if cfg.ELKAddr == "" {
				return nil, fmt.Errorf("elk backend requires an address")
			}
			r.sinks = append(r.sinks, newELKSink(cfg.ELKAddr))
		default:
			return nil, fmt.Errorf("unknown log backend %q", name)
		}
	}

	return r, nil
}

// AddSink appends a sink after construction. Used by tests and by callers
// that wire the stream endpoint later than the router.
func (r *Router) AddSink(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

// Route delivers the record to every sink if it is attributed to this
// router's worker, and drops it otherwise. A sink write failure is warned
// about and the record falls back to the console; the remaining sinks
// still receive it.
func (r *Router) Route(rec domain.LogRecord) {
	if !Allowed(r.symbol, rec.LoggerName, rec.Message) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sink := range r.sinks {
		if err := sink.Write(rec); err != nil {
			r.log.Warn().Err(err).Str("sink", sink.Name()).Msg("Log sink write failed, falling back to console")
			if wErr := r.fallback.Write(rec); wErr != nil {
				r.log.Warn().Err(wErr).Msg("Console fallback write failed")
			}
		}
	}
}

// Close releases every sink. Safe to call once per router.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil {
			r.log.Warn().Err(err).Str("sink", sink.Name()).Msg("Log sink close failed")
		}
	}
	r.sinks = nil
}

// SinkCount reports how many sinks are attached.
func (r *Router) SinkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}
