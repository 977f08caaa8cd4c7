// Package scheduler drives the supervisor's recurring jobs (the lifecycle
// tick is the main one) on cron schedules, keeping per-job run accounting
// for status reporting.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a named unit of recurring work.
type Job interface {
	Run() error
	Name() string
}

// RunInfo is one job's accounting snapshot.
type RunInfo struct {
	Runs     int64
	Failures int64
	LastRun  time.Time
	LastErr  error
}

type entry struct {
	job Job

	mu   sync.Mutex
	info RunInfo
}

// Scheduler owns the cron runner and the registered job table. Job names
// are unique and address jobs in RunNow and Info.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New builds an idle scheduler. Schedules carry a seconds field; "@every"
// interval syntax works too.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		log:     log.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]*entry),
	}
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.entries)).Msg("Scheduler started")
}

// Stop stops firing and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job under a cron schedule. A duplicate name or an
// unparsable schedule is rejected.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	s.mu.Lock()
	if _, dup := s.entries[job.Name()]; dup {
		s.mu.Unlock()
		return fmt.Errorf("job %q already registered", job.Name())
	}
	e := &entry{job: job}
	s.entries[job.Name()] = e
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(schedule, func() { _ = s.execute(e) }); err != nil {
		s.mu.Lock()
		delete(s.entries, job.Name())
		s.mu.Unlock()
		return err
	}

	s.log.Info().Str("job", job.Name()).Str("schedule", schedule).Msg("Job registered")
	return nil
}

// RunNow fires a registered job outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no job named %q", name)
	}
	s.log.Info().Str("job", name).Msg("Running job on demand")
	return s.execute(e)
}

// Info reports a job's run accounting.
func (s *Scheduler) Info(name string) (RunInfo, bool) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return RunInfo{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info, true
}

func (s *Scheduler) execute(e *entry) error {
	started := time.Now()
	err := e.job.Run()
	elapsed := time.Since(started)

	e.mu.Lock()
	e.info.Runs++
	e.info.LastRun = started
	e.info.LastErr = err
	if err != nil {
		e.info.Failures++
	}
	e.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("job", e.job.Name()).Dur("elapsed", elapsed).Msg("Job failed")
		return err
	}
	s.log.Debug().Str("job", e.job.Name()).Dur("elapsed", elapsed).Msg("Job completed")
	return nil
}
