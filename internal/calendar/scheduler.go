package calendar

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs periodic jobs on a shared cron instance.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger

	mu      sync.Mutex
	handles map[cron.EntryID]*CancelHandle
}

// CancelHandle removes a scheduled job. Cancel is idempotent.
type CancelHandle struct {
	once      sync.Once
	id        cron.EntryID
	scheduler *Scheduler
}

// Cancel unschedules the job. A run already in progress is not interrupted.
func (h *CancelHandle) Cancel() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.scheduler.remove(h.id)
	})
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// NewScheduler creates a scheduler. Panicking jobs are recovered and a job
// still running when its next tick fires is skipped.
func NewScheduler(logger zerolog.Logger) *Scheduler {
	logger = logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{logger: logger}

	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		handles: make(map[cron.EntryID]*CancelHandle),
	}
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("scheduler started")
}

// Stop halts the scheduler and waits for running jobs to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

// SchedulePeriodic runs fn every interval until the returned handle is
// cancelled. The interval must be at least one second.
func (s *Scheduler) SchedulePeriodic(interval time.Duration, fn func()) (*CancelHandle, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("interval %s is below one second", interval)
	}
	if fn == nil {
		return nil, errors.New("nil job")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc("@every "+interval.String(), fn)
	if err != nil {
		return nil, fmt.Errorf("scheduling job: %w", err)
	}

	h := &CancelHandle{id: id, scheduler: s}
	s.handles[id] = h
	s.logger.Debug().Dur("interval", interval).Int("entry_id", int(id)).Msg("job scheduled")
	return h, nil
}

// NextRun returns the next run of the job behind h, or nil if it is not
// scheduled or the scheduler is not running.
func (s *Scheduler) NextRun(h *CancelHandle) *time.Time {
	if h == nil {
		return nil
	}

	s.mu.Lock()
	_, ok := s.handles[h.id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	entry := s.cron.Entry(h.id)
	if entry.Next.IsZero() {
		return nil
	}
	next := entry.Next
	return &next
}

// Scheduled returns the number of scheduled jobs.
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *Scheduler) remove(id cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cron.Remove(id)
	delete(s.handles, id)
	s.logger.Debug().Int("entry_id", int(id)).Msg("job cancelled")
}
