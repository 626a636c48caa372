package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/interfaces"
	"github.com/ternarybob/transitwatch/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ArrivalStorage implements interfaces.ArrivalStorage for Badger
type ArrivalStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewArrivalStorage creates a new ArrivalStorage instance
func NewArrivalStorage(db *DB, logger arbor.ILogger) interfaces.ArrivalStorage {
	return &ArrivalStorage{
		db:     db,
		logger: logger,
	}
}

// SaveArrival inserts or replaces the entry for entry.ID
func (s *ArrivalStorage) SaveArrival(ctx context.Context, entry *models.ArrivalEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("arrival entry has no id")
	}
	if err := s.db.Store().Upsert(entry.ID, entry); err != nil {
		return fmt.Errorf("failed to save arrival %s: %w", entry.ID, err)
	}
	return nil
}

// GetArrival retrieves the entry for a target id
func (s *ArrivalStorage) GetArrival(ctx context.Context, id string) (*models.ArrivalEntry, error) {
	var entry models.ArrivalEntry
	err := s.db.Store().Get(id, &entry)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrArrivalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get arrival %s: %w", id, err)
	}
	return &entry, nil
}

// ListArrivals returns all entries ordered by id
func (s *ArrivalStorage) ListArrivals(ctx context.Context) ([]models.ArrivalEntry, error) {
	var entries []models.ArrivalEntry
	if err := s.db.Store().Find(&entries, badgerhold.Where("ID").Ne("").SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list arrivals: %w", err)
	}
	return entries, nil
}

// DeleteArrival removes the entry for a target id, missing ids are not an error
func (s *ArrivalStorage) DeleteArrival(ctx context.Context, id string) error {
	err := s.db.Store().Delete(id, &models.ArrivalEntry{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete arrival %s: %w", id, err)
	}
	return nil
}

// PruneArrivals removes every entry not in keep
func (s *ArrivalStorage) PruneArrivals(ctx context.Context, keep []string) (int, error) {
	entries, err := s.ListArrivals(ctx)
	if err != nil {
		return 0, err
	}

	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}

	removed := 0
	for _, entry := range entries {
		if keepSet[entry.ID] {
			continue
		}
		if err := s.DeleteArrival(ctx, entry.ID); err != nil {
			s.logger.Warn().Str("target_id", entry.ID).Err(err).Msg("Failed to prune arrival")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("Pruned stale arrivals")
	}
	return removed, nil
}
