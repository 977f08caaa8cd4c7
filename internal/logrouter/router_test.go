package logrouter

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/stratd/internal/domain"
)

// captureSink records everything written to it and can be told to fail.
type captureSink struct {
	name   string
	mu     sync.Mutex
	recs   []domain.LogRecord
	err    error
	closed bool
}

func (s *captureSink) Name() string { return s.name }

func (s *captureSink) Write(rec domain.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *captureSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) records() []domain.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.LogRecord, len(s.recs))
	copy(out, s.recs)
	return out
}

func testRecord(loggerName, message string) domain.LogRecord {
	return domain.LogRecord{
		Timestamp:  time.Now(),
		Level:      "INFO",
		Message:    message,
		LoggerName: loggerName,
		Module:     "strategy",
		FuncName:   "onBar",
		LineNo:     42,
	}
}

func newTestRouter(t *testing.T, symbol string) *Router {
	t.Helper()
	key := domain.NewWorkerKey("u1", symbol, "turtle")
	r, err := New(Config{}, key, symbol, zerolog.Nop())
	require.NoError(t, err)
	return r
}

func TestRouteFansOutToAllSinks(t *testing.T) {
	r := newTestRouter(t, "000001.SZ")
	a := &captureSink{name: "a"}
	b := &captureSink{name: "b"}
	r.AddSink(a)
	r.AddSink(b)

	r.Route(testRecord("strategies.turtle.000001.SZ", "bar processed"))

	require.Len(t, a.records(), 1)
	require.Len(t, b.records(), 1)
	assert.Equal(t, "bar processed", a.records()[0].Message)
}

func TestRouteDropsForeignRecords(t *testing.T) {
	r := newTestRouter(t, "000001.SZ")
	sink := &captureSink{name: "a"}
	r.AddSink(sink)

	r.Route(testRecord("strategies.common", "order for 600000.SH filled"))

	assert.Empty(t, sink.records())
}

func TestRouteSinkFailureFallsBackToConsole(t *testing.T) {
	r := newTestRouter(t, "000001.SZ")
	failing := &captureSink{name: "failing", err: errors.New("disk full")}
	healthy := &captureSink{name: "healthy"}
	fallback := &captureSink{name: "fallback"}
	r.fallback = fallback
	r.AddSink(failing)
	r.AddSink(healthy)

	r.Route(testRecord("strategies.turtle.000001.SZ", "still alive"))

	// The record must survive via the fallback and the remaining sinks
	// must not be skipped.
	require.Len(t, fallback.records(), 1)
	require.Len(t, healthy.records(), 1)
	assert.Equal(t, "still alive", fallback.records()[0].Message)
}

func TestCloseClosesEverySink(t *testing.T) {
	r := newTestRouter(t, "000001.SZ")
	a := &captureSink{name: "a"}
	b := &captureSink{name: "b"}
	r.AddSink(a)
	r.AddSink(b)

	r.Close()

	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Equal(t, 0, r.SinkCount())
}

func TestNewFileBackendWritesJSONLines(t *testing.T) {
	root := t.TempDir()
	key := domain.NewWorkerKey("u1", "000001.SZ", "turtle")
	r, err := New(Config{Backends: []string{"file"}, LogRoot: root}, key, "000001.SZ", zerolog.Nop())
	require.NoError(t, err)
	defer r.Close()

	r.Route(testRecord("strategies.turtle.000001.SZ", "hello file"))

	path := filepath.Join(root, "workers", string(key)+".log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	line := strings.TrimSpace(string(data))
	var rec domain.LogRecord
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "hello file", rec.Message)
	assert.Equal(t, "strategies.turtle.000001.SZ", rec.LoggerName)
	assert.Equal(t, 42, rec.LineNo)
}

func TestNewUnknownBackendFails(t *testing.T) {
	key := domain.NewWorkerKey("u1", "000001.SZ", "turtle")
	_, err := New(Config{Backends: []string{"syslog"}}, key, "000001.SZ", zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log backend")
}

func TestNewStreamBackendWithoutEndpointIsSkipped(t *testing.T) {
	key := domain.NewWorkerKey("u1", "000001.SZ", "turtle")
	r, err := New(Config{Backends: []string{"stream"}}, key, "000001.SZ", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 0, r.SinkCount())
}

type stubBroadcaster struct {
	mu   sync.Mutex
	recs []domain.LogRecord
}

func (b *stubBroadcaster) Broadcast(rec domain.LogRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recs = append(b.recs, rec)
}

func (b *stubBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.recs)
}

func TestNewStreamBackendDeliversToBroadcaster(t *testing.T) {
	key := domain.NewWorkerKey("u1", "000001.SZ", "turtle")
	stream := &stubBroadcaster{}
	r, err := New(Config{Backends: []string{"stream"}, Stream: stream}, key, "000001.SZ", zerolog.Nop())
	require.NoError(t, err)
	defer r.Close()

	r.Route(testRecord("strategies.turtle.000001.SZ", "to the stream"))

	assert.Equal(t, 1, stream.count())
}

func TestNewRemoteBackendsRequireTargets(t *testing.T) {
	key := domain.NewWorkerKey("u1", "000001.SZ", "turtle")

	_, err := New(Config{Backends: []string{"loki"}}, key, "000001.SZ", zerolog.Nop())
	require.Error(t, err)

	_, err = New(Config{Backends: []string{"elk"}}, key, "000001.SZ", zerolog.Nop())
	require.Error(t, err)
}
