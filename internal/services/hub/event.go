package hub

import (
	"time"

	"github.com/ternarybob/transitwatch/internal/models"
)

// EventType identifies a message pushed to subscribers
type EventType string

const (
	EventArrival EventType = "arrival" // A cache entry was written
	EventStatus  EventType = "status"  // A loop changed phase
	EventWorker  EventType = "worker"  // The worker channel went up or down
	EventTargets EventType = "targets" // The tracked set changed
)

// WorkerState describes the worker channel
type WorkerState struct {
	Alive  bool   `json:"alive"`
	Reason string `json:"reason,omitempty"`
}

// Event is one push update
type Event struct {
	Type      EventType            `json:"type"`
	TargetID  string               `json:"target_id,omitempty"`
	Arrival   *models.ArrivalEntry `json:"arrival,omitempty"`
	Status    *models.StatusUpdate `json:"status,omitempty"`
	Worker    *WorkerState         `json:"worker,omitempty"`
	Targets   []string             `json:"targets,omitempty"`
	Replay    bool                 `json:"replay,omitempty"` // Sent from the cache when the subscriber joined
	Timestamp time.Time            `json:"timestamp"`
}
