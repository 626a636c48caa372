package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/interfaces"
	"github.com/ternarybob/transitwatch/internal/ipc"
	"github.com/ternarybob/transitwatch/internal/models"
	"github.com/ternarybob/transitwatch/internal/services/hub"
)

// Service keeps the hub's tracked set and the worker's target set in step
type Service struct {
	channel *ipc.Channel
	hub     *hub.Hub
	storage interfaces.TargetStorage // nil when persistence is disabled
	logger  arbor.ILogger

	mu sync.Mutex // Serializes reconfigurations
}

var _ interfaces.MonitorService = (*Service)(nil)

// NewService creates the service
func NewService(channel *ipc.Channel, h *hub.Hub, storage interfaces.TargetStorage, logger arbor.ILogger) *Service {
	return &Service{
		channel: channel,
		hub:     h,
		storage: storage,
		logger:  logger,
	}
}

// Start tracks the targets and launches the worker with them
func (s *Service) Start(ctx context.Context, targets []models.Target) error {
	if err := models.ValidateTargets(targets); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.hub.SetTargets(targets)
	if err := s.channel.Start(ctx, targets); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	s.logger.Info().
		Int("targets", len(targets)).
		Strs("ids", models.TargetIDs(targets)).
		Msg("Monitoring started")
	return nil
}

// Targets returns the tracked set
func (s *Service) Targets() []models.Target {
	return s.hub.Targets()
}

// Reconfigure applies a new target set.
// The hub tracks the new set before the worker switches, so messages from
// the old loops are discarded and the first status of each new loop is kept.
// Cache entries of removed targets survive until the worker acknowledges.
//
// On error the worker still runs the previous set: either the command was
// never sent, the worker rejected it, or the worker was declared lost and
// Relaunch restores the last acknowledged set.
func (s *Service) Reconfigure(ctx context.Context, targets []models.Target) error {
	if err := models.ValidateTargets(targets); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	swap := s.hub.Stage(targets)

	if err := s.channel.Reconfigure(ctx, targets); err != nil {
		s.hub.Rollback(swap)
		s.logger.Warn().Err(err).Msg("Worker did not apply target set, previous set restored")
		return err
	}

	s.hub.Commit(swap)
	s.saveTargets(targets)

	s.logger.Info().
		Int("targets", len(targets)).
		Strs("ids", models.TargetIDs(targets)).
		Msg("Targets reconfigured")
	return nil
}

// Relaunch replaces the worker and restores the tracked set on it
func (s *Service) Relaunch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.channel.Relaunch(ctx); err != nil {
		return fmt.Errorf("failed to relaunch worker: %w", err)
	}
	s.logger.Info().Int("targets", len(s.hub.Targets())).Msg("Worker relaunched")
	return nil
}

// Recycle restarts every loop with a fresh browser
func (s *Service) Recycle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel.Recycle(ctx)
}

// WorkerAlive reports whether the worker is reachable
func (s *Service) WorkerAlive() bool {
	return s.channel.Alive()
}

// Shutdown stops the worker
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel.Shutdown(ctx)
}

func (s *Service) saveTargets(targets []models.Target) {
	if s.storage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.storage.SaveTargets(ctx, targets); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist target set")
	}
}
