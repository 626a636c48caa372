package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Recycler restarts every scrape loop with a fresh browser
type Recycler interface {
	Recycle(ctx context.Context) error
}

// Service runs browser recycling on a cron schedule
type Service struct {
	recycler Recycler
	timeout  time.Duration
	cron     *cron.Cron
	logger   arbor.ILogger

	mu        sync.Mutex
	running   bool
	schedule  string
	isRunning bool // A recycle is in progress
	lastRun   *time.Time
	lastError string
}

// Status describes the recycle job
type Status struct {
	Schedule  string     `json:"schedule"`
	Running   bool       `json:"running"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// NewService creates a scheduler. timeout bounds a single recycle.
func NewService(recycler Recycler, timeout time.Duration, logger arbor.ILogger) *Service {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Service{
		recycler: recycler,
		timeout:  timeout,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start begins recycling on the cron expression. An empty expression leaves recycling off.
func (s *Service) Start(cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if cronExpr == "" {
		s.logger.Info().Msg("Browser recycling disabled (no schedule)")
		return nil
	}

	if _, err := s.cron.AddFunc(cronExpr, s.runRecycle); err != nil {
		return fmt.Errorf("failed to add recycle job: %w", err)
	}
	s.cron.Start()
	s.running = true
	s.schedule = cronExpr

	s.logger.Info().Str("cron_expr", cronExpr).Msg("Browser recycling scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running recycle to finish
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// TriggerNow runs a recycle immediately in the background
func (s *Service) TriggerNow() error {
	s.mu.Lock()
	busy := s.isRunning
	s.mu.Unlock()
	if busy {
		return fmt.Errorf("recycle already in progress")
	}

	go s.runRecycle()
	return nil
}

// GetStatus returns the recycle job status
func (s *Service) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Schedule:  s.schedule,
		Running:   s.isRunning,
		LastRun:   s.lastRun,
		LastError: s.lastError,
	}
	if s.running {
		if entries := s.cron.Entries(); len(entries) > 0 && !entries[0].Next.IsZero() {
			next := entries[0].Next
			status.NextRun = &next
		}
	}
	return status
}

func (s *Service) runRecycle() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in browser recycle")
			s.finish(fmt.Errorf("panic: %v", r))
		}
	}()

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		s.logger.Debug().Msg("Recycle skipped, previous one still running")
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	start := time.Now()
	s.logger.Info().Msg("Browser recycle started")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.recycler.Recycle(ctx)
	if err != nil {
		s.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Browser recycle failed")
	} else {
		s.logger.Info().Dur("duration", time.Since(start)).Msg("Browser recycle completed")
	}
	s.finish(err)
}

func (s *Service) finish(err error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isRunning = false
	s.lastRun = &now
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
}
