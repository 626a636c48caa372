package interfaces

import (
	"context"

	"github.com/ternarybob/transitwatch/internal/models"
)

// MonitorService coordinates the worker and the hub on the server side
type MonitorService interface {
	// Targets returns the tracked set
	Targets() []models.Target

	// Reconfigure validates and applies a new target set.
	// Invalid sets fail with *models.ReconfigurationFailure and change nothing.
	Reconfigure(ctx context.Context, targets []models.Target) error

	// Relaunch replaces a lost worker. The tracked set is restored.
	Relaunch(ctx context.Context) error

	// Recycle restarts every loop with a fresh browser
	Recycle(ctx context.Context) error

	WorkerAlive() bool
}
