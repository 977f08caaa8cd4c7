// Package logstream provides the per-worker websocket endpoint that pushes
// log records to subscribers with a bounded replay buffer for late joiners.
package logstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/quantflow/stratd/internal/domain"
)

const (
	// DefaultHistory is the replay buffer capacity.
	DefaultHistory = 100

	// subscriber queue depth; a subscriber that falls this far behind is
	// disconnected rather than allowed to block the producer.
	sendQueueSize = 256

	writeWait     = 10 * time.Second
	drainDeadline = 5 * time.Second
)

// subscriber is one connected stream client.
type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan domain.LogRecord
}

// Endpoint is a single worker's push server. One endpoint serves exactly one
// worker; its replay buffer only ever holds records that passed that worker's
// attribution filter.
type Endpoint struct {
	log           zerolog.Logger
	host          string
	requestedPort int

	mu       sync.Mutex
	ring     *replayRing
	subs     map[string]*subscriber
	listener net.Listener
	started  bool
	stopped  bool

	server *http.Server
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an endpoint bound later by Start. port 0 selects any free port.
func New(host string, port int, history int, log zerolog.Logger) *Endpoint {
	if host == "" {
		host = "0.0.0.0"
	}
	if history <= 0 {
		history = DefaultHistory
	}
	return &Endpoint{
		log:           log.With().Str("component", "logstream").Logger(),
		host:          host,
		requestedPort: port,
		ring:          newReplayRing(history),
		subs:          make(map[string]*subscriber),
		done:          make(chan struct{}),
	}
}

// Start binds the listener, resolves the real port and begins serving in the
// background. The bound address is visible as soon as Start returns.
func (e *Endpoint) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("log stream endpoint already started")
	}

	addr := net.JoinHostPort(e.host, fmt.Sprintf("%d", e.requestedPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind log stream endpoint on %s: %w", addr, err)
	}
	e.listener = listener
	e.started = true

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	mux := http.NewServeMux()
	mux.HandleFunc("/", e.handleSubscribe)
	e.server = &http.Server{
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		defer close(e.done)
		if err := e.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			e.log.Debug().Err(err).Msg("Log stream serve loop ended")
		}
	}()

	e.log.Debug().Str("addr", listener.Addr().String()).Msg("Log stream endpoint listening")
	return nil
}

// Addr returns the bound host and port. Port is 0 before Start succeeds.
func (e *Endpoint) Addr() (string, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return e.host, 0
	}
	if tcp, ok := e.listener.Addr().(*net.TCPAddr); ok {
		return e.host, tcp.Port
	}
	return e.host, 0
}

// URL returns "ws://host:port", or "" before Start succeeds.
func (e *Endpoint) URL() string {
	host, port := e.Addr()
	if port == 0 {
		return ""
	}
	return fmt.Sprintf("ws://%s:%d", host, port)
}

// Broadcast appends the record to the replay buffer and queues it to every
// subscriber. It never blocks on subscriber I/O: a subscriber whose queue is
// full is dropped, the others are unaffected.
func (e *Endpoint) Broadcast(rec domain.LogRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.ring.Append(rec)

	for id, sub := range e.subs {
		select {
		case sub.send <- rec:
		default:
			e.log.Warn().Str("subscriber", id).Msg("Subscriber too slow, dropping connection")
			delete(e.subs, id)
			close(sub.send)
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (e *Endpoint) SubscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// HistoryLen returns the number of records currently held for replay.
func (e *Endpoint) HistoryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ring.Len()
}

// Stop closes the listener and every subscriber connection, then waits up to
// the drain deadline for the serve loop to finish. After the deadline it logs
// a warning and leaves the loop to die with the process. Idempotent.
func (e *Endpoint) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true

	subs := make([]*subscriber, 0, len(e.subs))
	for id, sub := range e.subs {
		subs = append(subs, sub)
		delete(e.subs, id)
		close(sub.send)
	}
	cancel := e.cancel
	server := e.server
	e.mu.Unlock()

	for _, sub := range subs {
		_ = sub.conn.Close(websocket.StatusNormalClosure, "endpoint shutting down")
	}

	if cancel != nil {
		cancel()
	}
	if server != nil {
		ctx, cancelTimeout := context.WithTimeout(context.Background(), drainDeadline)
		defer cancelTimeout()
		if err := server.Shutdown(ctx); err != nil {
			e.log.Warn().Err(err).Msg("Log stream shutdown did not drain in time")
		}
	}

	select {
	case <-e.done:
	case <-time.After(drainDeadline):
		e.log.Warn().Msg("Log stream serve loop still running after deadline, abandoning")
	}
}

// handleSubscribe upgrades the connection, replays the buffer and then
// forwards live records until either side closes.
func (e *Endpoint) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // stream consumers connect cross-origin from the console page
	})
	if err != nil {
		e.log.Debug().Err(err).Msg("Websocket accept failed")
		return
	}

	sub := &subscriber{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan domain.LogRecord, sendQueueSize),
	}

	// Snapshot and register under one critical section so a record broadcast
	// concurrently with the join lands either in the snapshot or in the send
	// queue, never both, never neither.
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "endpoint stopped")
		return
	}
	replay := e.ring.Snapshot()
	e.subs[sub.id] = sub
	e.mu.Unlock()

	e.log.Debug().Str("subscriber", sub.id).Int("replay", len(replay)).Msg("Subscriber connected")

	// CloseRead discards inbound frames and cancels the context when the
	// client goes away.
	ctx := conn.CloseRead(r.Context())

	defer func() {
		e.removeSubscriber(sub.id)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for _, rec := range replay {
		if err := writeRecord(ctx, conn, rec); err != nil {
			return
		}
	}

	for {
		select {
		case rec, ok := <-sub.send:
			if !ok {
				return
			}
			if err := writeRecord(ctx, conn, rec); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Endpoint) removeSubscriber(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sub, ok := e.subs[id]; ok {
		delete(e.subs, id)
		close(sub.send)
	}
}

// writeRecord sends one record as a single JSON text message.
func writeRecord(ctx context.Context, conn *websocket.Conn, rec domain.LogRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
