package logstream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/stratd/internal/domain"
)

func rec(n int) domain.LogRecord {
	return domain.LogRecord{Message: fmt.Sprintf("record %d", n)}
}

func TestReplayRing_AppendBelowCapacity(t *testing.T) {
	r := newReplayRing(5)
	r.Append(rec(1))
	r.Append(rec(2))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "record 1", snap[0].Message)
	assert.Equal(t, "record 2", snap[1].Message)
}

func TestReplayRing_EvictsOldest(t *testing.T) {
	r := newReplayRing(3)
	for i := 1; i <= 5; i++ {
		r.Append(rec(i))
	}

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "record 3", snap[0].Message)
	assert.Equal(t, "record 4", snap[1].Message)
	assert.Equal(t, "record 5", snap[2].Message)
}

func TestReplayRing_LateJoinWindow(t *testing.T) {
	// 120 appends against capacity 100 must retain exactly 21..120.
	r := newReplayRing(100)
	for i := 1; i <= 120; i++ {
		r.Append(rec(i))
	}

	snap := r.Snapshot()
	require.Len(t, snap, 100)
	assert.Equal(t, "record 21", snap[0].Message)
	assert.Equal(t, "record 120", snap[99].Message)
	for i, got := range snap {
		assert.Equal(t, fmt.Sprintf("record %d", 21+i), got.Message)
	}
}

func TestReplayRing_SnapshotIsCopy(t *testing.T) {
	r := newReplayRing(3)
	r.Append(rec(1))

	snap := r.Snapshot()
	snap[0].Message = "mutated"

	assert.Equal(t, "record 1", r.Snapshot()[0].Message)
}

func TestReplayRing_ZeroCapacity(t *testing.T) {
	r := newReplayRing(0)
	r.Append(rec(1))
	assert.Equal(t, 1, r.Len())
}
