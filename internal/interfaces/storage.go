package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/transitwatch/internal/models"
)

// ErrArrivalNotFound is returned when no arrival is stored for an id
var ErrArrivalNotFound = errors.New("arrival not found")

// ArrivalStorage persists the latest accepted arrival per target
type ArrivalStorage interface {
	// SaveArrival inserts or replaces the entry for entry.ID
	SaveArrival(ctx context.Context, entry *models.ArrivalEntry) error

	// GetArrival returns ErrArrivalNotFound when the id has no entry
	GetArrival(ctx context.Context, id string) (*models.ArrivalEntry, error)

	// ListArrivals returns every stored entry ordered by id
	ListArrivals(ctx context.Context) ([]models.ArrivalEntry, error)

	DeleteArrival(ctx context.Context, id string) error

	// PruneArrivals deletes every entry whose id is not in keep and returns the count removed
	PruneArrivals(ctx context.Context, keep []string) (int, error)
}

// TargetStorage persists the active target set across restarts
type TargetStorage interface {
	SaveTargets(ctx context.Context, targets []models.Target) error

	// LoadTargets returns the saved set and whether one was ever saved.
	// A saved empty set is distinct from no saved set.
	LoadTargets(ctx context.Context) ([]models.Target, bool, error)
}

// StorageManager groups the storage interfaces behind one database
type StorageManager interface {
	ArrivalStorage() ArrivalStorage
	TargetStorage() TargetStorage
	Close() error
}
