package logstream

import "github.com/quantflow/stratd/internal/domain"

// replayRing is a fixed-capacity FIFO of the most recent log records.
// Not safe for concurrent use; the endpoint guards it with its mutex.
type replayRing struct {
	buf  []domain.LogRecord
	head int // index of the oldest record
	size int
}

func newReplayRing(capacity int) *replayRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &replayRing{buf: make([]domain.LogRecord, capacity)}
}

// Append adds a record, evicting the oldest when full.
func (r *replayRing) Append(rec domain.LogRecord) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = rec
		r.size++
		return
	}
	r.buf[r.head] = rec
	r.head = (r.head + 1) % len(r.buf)
}

// Snapshot returns the retained records oldest first.
func (r *replayRing) Snapshot() []domain.LogRecord {
	out := make([]domain.LogRecord, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of retained records.
func (r *replayRing) Len() int {
	return r.size
}
