package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *DB
	arrivals interfaces.ArrivalStorage
	targets  interfaces.TargetStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := Open(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		arrivals: NewArrivalStorage(db, logger),
		targets:  NewTargetStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// ArrivalStorage returns the arrival storage interface
func (m *Manager) ArrivalStorage() interfaces.ArrivalStorage {
	return m.arrivals
}

// TargetStorage returns the target storage interface
func (m *Manager) TargetStorage() interfaces.TargetStorage {
	return m.targets
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
