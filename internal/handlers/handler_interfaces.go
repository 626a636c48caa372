package handlers

import (
	"github.com/ternarybob/transitwatch/internal/models"
	"github.com/ternarybob/transitwatch/internal/services/hub"
	"github.com/ternarybob/transitwatch/internal/services/scheduler"
)

// ArrivalReader reads the arrival cache
type ArrivalReader interface {
	Query(id string) (models.ArrivalEntry, error)
	Snapshot() []models.ArrivalEntry
	Legacy() []models.LegacyArrival
	Statuses() map[string]models.StatusUpdate
}

// EventSource hands out live update subscriptions
type EventSource interface {
	Subscribe() *hub.Subscriber
	SubscriberCount() int
	Worker() hub.WorkerState
}

// RecycleTrigger runs and reports browser recycling
type RecycleTrigger interface {
	TriggerNow() error
	GetStatus() scheduler.Status
}

var (
	_ ArrivalReader = (*hub.Hub)(nil)
	_ EventSource   = (*hub.Hub)(nil)
)
