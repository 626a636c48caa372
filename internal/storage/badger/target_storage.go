package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/interfaces"
	"github.com/ternarybob/transitwatch/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

const currentTargetSetKey = "current"

// targetSet is the persisted record of the active targets
type targetSet struct {
	Key       string          `badgerhold:"key"`
	Targets   []models.Target `json:"targets"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TargetStorage implements interfaces.TargetStorage for Badger
type TargetStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewTargetStorage creates a new TargetStorage instance
func NewTargetStorage(db *DB, logger arbor.ILogger) interfaces.TargetStorage {
	return &TargetStorage{
		db:     db,
		logger: logger,
	}
}

// SaveTargets replaces the persisted target set
func (s *TargetStorage) SaveTargets(ctx context.Context, targets []models.Target) error {
	record := targetSet{
		Key:       currentTargetSetKey,
		Targets:   append([]models.Target{}, targets...),
		UpdatedAt: time.Now(),
	}
	if err := s.db.Store().Upsert(currentTargetSetKey, &record); err != nil {
		return fmt.Errorf("failed to save target set: %w", err)
	}
	s.logger.Debug().Int("targets", len(targets)).Msg("Target set persisted")
	return nil
}

// LoadTargets returns the persisted target set
func (s *TargetStorage) LoadTargets(ctx context.Context) ([]models.Target, bool, error) {
	var record targetSet
	err := s.db.Store().Get(currentTargetSetKey, &record)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load target set: %w", err)
	}
	return record.Targets, true, nil
}
