package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs atomic.Int64
	err  error
}

func (j *countingJob) Name() string { return j.name }
func (j *countingJob) Run() error {
	j.runs.Add(1)
	return j.err
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "tick"}
	require.NoError(t, s.AddJob("@every 1h", job))

	require.NoError(t, s.RunNow("tick"))
	assert.Equal(t, int64(1), job.runs.Load())
}

func TestScheduler_RunNow_UnknownJob(t *testing.T) {
	s := New(zerolog.Nop())
	assert.Error(t, s.RunNow("nope"))
}

func TestScheduler_RunNow_PropagatesError(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "tick", err: errors.New("boom")}
	require.NoError(t, s.AddJob("@every 1h", job))

	assert.Error(t, s.RunNow("tick"))

	info, ok := s.Info("tick")
	require.True(t, ok)
	assert.Equal(t, int64(1), info.Runs)
	assert.Equal(t, int64(1), info.Failures)
	assert.Error(t, info.LastErr)
}

func TestScheduler_AddJob_BadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	assert.Error(t, s.AddJob("not a schedule", &countingJob{name: "tick"}))

	// A rejected schedule must not leave the name occupied.
	assert.NoError(t, s.AddJob("@every 1h", &countingJob{name: "tick"}))
}

func TestScheduler_AddJob_DuplicateName(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.AddJob("@every 1h", &countingJob{name: "tick"}))
	assert.Error(t, s.AddJob("@every 1h", &countingJob{name: "tick"}))
}

func TestScheduler_RunsScheduledJob(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "tick"}
	require.NoError(t, s.AddJob("@every 10ms", job))

	s.Start()
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for job.runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	info, ok := s.Info("tick")
	require.True(t, ok)
	assert.GreaterOrEqual(t, info.Runs, int64(1))
	assert.False(t, info.LastRun.IsZero())
}
