// Package scheduler runs registered jobs at fixed intervals. The dispatch
// loop ticks once a second; due jobs run serially in registration order, and
// a job's next run advances by its interval whether it succeeded or failed.
package scheduler

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// tickInterval is the dispatch loop resolution.
const tickInterval = 1 * time.Second

// JobFunc is one schedulable unit of work.
type JobFunc func(ctx context.Context) error

// job is the registry entry for one scheduled function.
type job struct {
	name     string
	fn       JobFunc
	interval time.Duration
	enabled  bool

	nextRun      time.Time
	runCount     uint64
	errorCount   uint64
	lastError    string
	lastDuration time.Duration
}

// JobStatus is the externally visible state of one job.
type JobStatus struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Enabled      bool          `json:"enabled"`
	NextRun      time.Time     `json:"next_run"`
	RunCount     uint64        `json:"run_count"`
	ErrorCount   uint64        `json:"error_count"`
	LastError    string        `json:"last_error,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
}

// Health is one scheduler health snapshot: per-job stats plus process usage.
type Health struct {
	Jobs       []JobStatus `json:"jobs"`
	CPUPercent float64     `json:"cpu_percent"`
	RSSBytes   uint64      `json:"rss_bytes"`
	TakenAt    time.Time   `json:"taken_at"`
}

// Scheduler owns the job registry and the dispatch loop.
type Scheduler struct {
	mu   sync.Mutex
	jobs []*job

	log     zerolog.Logger
	now     func() time.Time
	stop    chan struct{}
	stopped sync.WaitGroup
	proc    *process.Process
}

// New creates an empty scheduler.
func New(log zerolog.Logger) *Scheduler {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Scheduler{
		log:  log.With().Str("component", "scheduler").Logger(),
		now:  time.Now,
		stop: make(chan struct{}),
		proc: proc,
	}
}

// Register adds a job. The first run is due immediately.
func (s *Scheduler) Register(name string, interval time.Duration, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &job{
		name:     name,
		fn:       fn,
		interval: interval,
		enabled:  true,
		nextRun:  s.now(),
	})
	s.log.Info().Str("job", name).Dur("interval", interval).Msg("Job registered")
}

// SetEnabled toggles a job by name.
func (s *Scheduler) SetEnabled(name string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.name == name {
			j.enabled = enabled
		}
	}
}

// Start launches the dispatch loop. It returns immediately; Stop shuts the
// loop down and waits for an in-flight job to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.stopped.Add(1)
	go func() {
		defer s.stopped.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()

		s.log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
}

// runDue executes every due job serially in registration order.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()
	for _, j := range s.due(now) {
		s.runOne(ctx, j)
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Scheduler) due(now time.Time) []*job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*job
	for _, j := range s.jobs {
		if j.enabled && !now.Before(j.nextRun) {
			due = append(due, j)
		}
	}
	return due
}

// runOne invokes the job and advances its schedule. The next run moves by
// the full interval even on failure; a broken job must not spin.
func (s *Scheduler) runOne(ctx context.Context, j *job) {
	start := s.now()
	err := j.fn(ctx)
	took := s.now().Sub(start)

	s.mu.Lock()
	j.runCount++
	j.nextRun = start.Add(j.interval)
	j.lastDuration = took
	if err != nil {
		j.errorCount++
		j.lastError = err.Error()
	} else {
		j.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("job", j.name).Dur("took", took).Msg("Job failed")
		return
	}
	s.log.Info().Str("job", j.name).Dur("took", took).Msg("Job completed")
}

// Stop shuts down the dispatch loop and blocks until it exits or the grace
// period lapses.
func (s *Scheduler) Stop(grace time.Duration) {
	close(s.stop)

	done := make(chan struct{})
	go func() {
		s.stopped.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Msg("Scheduler stopped")
	case <-time.After(grace):
		s.log.Warn().Dur("grace", grace).Msg("Scheduler stop grace period lapsed")
	}
}

// HealthSnapshot reports per-job stats and current process usage.
func (s *Scheduler) HealthSnapshot() Health {
	s.mu.Lock()
	h := Health{TakenAt: s.now()}
	for _, j := range s.jobs {
		h.Jobs = append(h.Jobs, JobStatus{
			Name:         j.name,
			Interval:     j.interval,
			Enabled:      j.enabled,
			NextRun:      j.nextRun,
			RunCount:     j.runCount,
			ErrorCount:   j.errorCount,
			LastError:    j.lastError,
			LastDuration: j.lastDuration,
		})
	}
	s.mu.Unlock()

	if s.proc != nil {
		if cpu, err := s.proc.CPUPercent(); err == nil {
			h.CPUPercent = cpu
		}
		if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
			h.RSSBytes = mem.RSS
		}
	}
	return h
}
