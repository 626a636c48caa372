package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/transitwatch/internal/models"
)

// Session is one isolated browser page owned by a single scrape loop
type Session interface {
	// Navigate loads the locator, failing with *models.NavigationError
	Navigate(ctx context.Context, locator string, timeout time.Duration) error

	// Interact waits for the control to become visible and clicks it,
	// failing with *models.InteractionError
	Interact(ctx context.Context, control string, timeout time.Duration) error

	// Extract waits for the result table and parses its rows.
	// A table that never appears fails with *models.ExtractionTimeout;
	// a table with no rows returns an empty slice and no error.
	Extract(ctx context.Context, result string, timeout time.Duration) (models.ParsedRows, error)

	// Reload reloads the current page in place
	Reload(ctx context.Context, timeout time.Duration) error

	// Close releases the browser resources. Safe to call more than once.
	Close() error

	// Alive reports whether the underlying browser is still usable
	Alive() bool
}

// SessionManager opens browser sessions for scrape loops
type SessionManager interface {
	Open(ctx context.Context, targetID string) (Session, error)

	// OpenCount returns the number of sessions opened and not yet closed
	OpenCount() int

	Shutdown() error
}

// LoopEmitter receives the messages produced by scrape loops
type LoopEmitter interface {
	EmitResult(result models.ScrapeResult)
	EmitStatus(status models.StatusUpdate)
}
