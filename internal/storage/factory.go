package storage

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/interfaces"
	"github.com/ternarybob/transitwatch/internal/storage/badger"
)

// NewStorageManager creates the storage manager described by config.
// It returns nil when persistence is disabled; callers then run memory-only.
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	if !config.Storage.Badger.Enabled {
		logger.Info().Msg("Persistence disabled - arrivals and targets are kept in memory only")
		return nil, nil
	}
	return badger.NewManager(logger, &config.Storage.Badger)
}
