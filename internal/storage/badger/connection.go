package badger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/timshannon/badgerhold/v4"
)

// gcDiscardRatio is the share of stale data a value log file needs before it is rewritten
const gcDiscardRatio = 0.5

// DB is the badgerhold store holding cached arrivals and the tracked target set
type DB struct {
	store  *badgerhold.Store
	path   string
	logger arbor.ILogger
}

// Open opens (and on first run creates) the store at config.Path
func Open(logger arbor.ILogger, config *common.BadgerConfig) (*DB, error) {
	if config.ResetOnStartup {
		resetDir(logger, config.Path)
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	// Only the latest arrival per target matters
	options.NumVersionsToKeep = 1
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", config.Path, err)
	}

	logger.Debug().Str("path", config.Path).Msg("Badger database opened")
	return &DB{store: store, path: config.Path, logger: logger}, nil
}

func resetDir(logger arbor.ILogger, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	logger.Debug().Str("path", path).Msg("Removing database (reset_on_startup=true)")
	if err := os.RemoveAll(path); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Failed to remove database directory")
	}
}

func (d *DB) Store() *badgerhold.Store {
	return d.store
}

// CollectGarbage rewrites value log files left mostly stale by repeated
// arrival upserts. Returns false when nothing was rewritten.
func (d *DB) CollectGarbage() (bool, error) {
	err := d.store.Badger().RunValueLogGC(gcDiscardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("value log gc failed: %w", err)
	}
	return true, nil
}

// Close runs a final value log GC pass and closes the store
func (d *DB) Close() error {
	if d.store == nil {
		return nil
	}
	if rewritten, err := d.CollectGarbage(); err != nil {
		d.logger.Warn().Err(err).Str("path", d.path).Msg("Badger value log GC failed")
	} else if rewritten {
		d.logger.Debug().Str("path", d.path).Msg("Badger value log compacted")
	}
	return d.store.Close()
}
