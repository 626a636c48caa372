package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/interfaces"
	"github.com/ternarybob/transitwatch/internal/ipc"
	"github.com/ternarybob/transitwatch/internal/metrics"
	"github.com/ternarybob/transitwatch/internal/models"
)

// ErrNoArrival is returned by Query for a tracked target with no result yet
var ErrNoArrival = errors.New("no arrival yet")

const storageTimeout = 5 * time.Second

// Subscriber receives push updates until it is closed or dropped
type Subscriber struct {
	ID     string
	events chan Event
	hub    *Hub
}

// Events is closed when the subscriber is removed
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Close unregisters the subscriber
func (s *Subscriber) Close() {
	s.hub.Unsubscribe(s)
}

// Hub owns the arrival cache and fans updates out to subscribers.
// Every cache write and broadcast happens under one lock, so a subscriber
// sees its replay followed by every later update exactly once.
type Hub struct {
	bufferSize int
	storage    interfaces.ArrivalStorage // nil when persistence is disabled
	logger     arbor.ILogger

	mu          sync.RWMutex
	targets     map[string]models.Target
	order       []string
	cache       map[string]models.ArrivalEntry
	statuses    map[string]models.StatusUpdate
	subscribers map[*Subscriber]struct{}
	worker      WorkerState
}

var _ ipc.Handler = (*Hub)(nil)

// New creates an empty hub
func New(bufferSize int, storage interfaces.ArrivalStorage, logger arbor.ILogger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		bufferSize:  bufferSize,
		storage:     storage,
		logger:      logger,
		targets:     make(map[string]models.Target),
		cache:       make(map[string]models.ArrivalEntry),
		statuses:    make(map[string]models.StatusUpdate),
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// OnResult caches a result and broadcasts it.
// Results for untracked targets, error placeholders and results older than
// the cached entry are discarded.
func (h *Hub) OnResult(result models.ScrapeResult) {
	if result.IsErrorPlaceholder() {
		metrics.ObserveDiscarded("error")
		h.logger.Debug().Str("target_id", result.TargetID).Str("error", result.Error).Msg("Discarded error result")
		return
	}

	h.mu.Lock()
	target, tracked := h.targets[result.TargetID]
	if !tracked {
		h.mu.Unlock()
		metrics.ObserveDiscarded("untracked")
		h.logger.Debug().Str("target_id", result.TargetID).Msg("Discarded result for untracked target")
		return
	}
	if cached, ok := h.cache[result.TargetID]; ok && result.Timestamp.Before(cached.Timestamp) {
		h.mu.Unlock()
		metrics.ObserveDiscarded("stale")
		return
	}

	entry := models.NewArrivalEntry(target, result)
	h.cache[entry.ID] = entry
	h.broadcastLocked(Event{
		Type:      EventArrival,
		TargetID:  entry.ID,
		Arrival:   &entry,
		Timestamp: time.Now(),
	})
	h.mu.Unlock()

	metrics.ObserveAccepted(result)
	h.persist(entry)
}

// OnStatus records the latest loop status and broadcasts it. The cache is untouched.
func (h *Hub) OnStatus(status models.StatusUpdate) {
	metrics.ObservePhase(status.Phase)

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, tracked := h.targets[status.TargetID]; !tracked {
		return
	}
	h.statuses[status.TargetID] = status
	h.broadcastLocked(Event{
		Type:      EventStatus,
		TargetID:  status.TargetID,
		Status:    &status,
		Timestamp: time.Now(),
	})
}

// OnWorkerState records whether the worker is reachable and tells subscribers.
// Cached arrivals are kept while the worker is down.
func (h *Hub) OnWorkerState(alive bool, reason string) {
	metrics.SetWorkerUp(alive)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.worker = WorkerState{Alive: alive, Reason: reason}
	state := h.worker
	h.broadcastLocked(Event{
		Type:      EventWorker,
		Worker:    &state,
		Timestamp: time.Now(),
	})
}

// TargetSwap is a change of the tracked set that can still be rolled back
type TargetSwap struct {
	previous []models.Target
	keep     []string
	evicted  map[string]models.ArrivalEntry
	statuses map[string]models.StatusUpdate
}

// SetTargets replaces the tracked set, evicts cache entries of removed
// targets and prunes them from storage
func (h *Hub) SetTargets(targets []models.Target) {
	h.Commit(h.Stage(targets))
}

// Stage tracks targets at once, so messages from removed targets are
// discarded from now on. Evicted entries are held on the swap and stay in
// storage until Commit; Rollback puts them back.
func (h *Hub) Stage(targets []models.Target) *TargetSwap {
	h.mu.Lock()

	swap := &TargetSwap{
		previous: h.targetsLocked(),
		evicted:  make(map[string]models.ArrivalEntry),
		statuses: make(map[string]models.StatusUpdate),
	}
	h.trackLocked(targets)
	swap.keep = append([]string{}, h.order...)

	for id, entry := range h.cache {
		if _, ok := h.targets[id]; !ok {
			swap.evicted[id] = entry
			delete(h.cache, id)
		}
	}
	for id, status := range h.statuses {
		if _, ok := h.targets[id]; !ok {
			swap.statuses[id] = status
			delete(h.statuses, id)
		}
	}
	h.mu.Unlock()

	metrics.SetTargets(len(targets))
	h.logger.Info().Int("targets", len(targets)).Int("evicted", len(swap.evicted)).Msg("Tracked targets updated")
	return swap
}

// Commit makes a staged swap final by dropping evicted entries from storage
func (h *Hub) Commit(swap *TargetSwap) {
	h.prune(swap.keep)
}

// Rollback restores the tracked set, cache entries and statuses from before
// the swap. Entries cached for the staged targets in the meantime are dropped.
func (h *Hub) Rollback(swap *TargetSwap) {
	h.mu.Lock()

	h.trackLocked(swap.previous)
	for id := range h.cache {
		if _, ok := h.targets[id]; !ok {
			delete(h.cache, id)
		}
	}
	for id := range h.statuses {
		if _, ok := h.targets[id]; !ok {
			delete(h.statuses, id)
		}
	}

	now := time.Now()
	for id, entry := range swap.evicted {
		h.cache[id] = entry
		restored := entry
		h.broadcastLocked(Event{
			Type:      EventArrival,
			TargetID:  id,
			Arrival:   &restored,
			Timestamp: now,
		})
	}
	for id, status := range swap.statuses {
		h.statuses[id] = status
	}
	keep := append([]string{}, h.order...)
	h.mu.Unlock()

	metrics.SetTargets(len(swap.previous))
	h.logger.Info().Int("targets", len(swap.previous)).Int("restored", len(swap.evicted)).Msg("Tracked targets rolled back")

	h.prune(keep)
}

// trackLocked replaces the tracked set and announces it (must be called with mutex held)
func (h *Hub) trackLocked(targets []models.Target) {
	h.targets = make(map[string]models.Target, len(targets))
	h.order = make([]string, 0, len(targets))
	for _, t := range targets {
		h.targets[t.ID] = t
		h.order = append(h.order, t.ID)
	}

	h.broadcastLocked(Event{
		Type:      EventTargets,
		Targets:   append([]string{}, h.order...),
		Timestamp: time.Now(),
	})
}

func (h *Hub) targetsLocked() []models.Target {
	out := make([]models.Target, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.targets[id])
	}
	return out
}

func (h *Hub) prune(keep []string) {
	if h.storage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	if _, err := h.storage.PruneArrivals(ctx, keep); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to prune stored arrivals")
	}
}

// Seed loads entries into the cache without broadcasting.
// Entries for untracked targets are ignored.
func (h *Hub) Seed(entries []models.ArrivalEntry) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	seeded := 0
	for _, e := range entries {
		if _, ok := h.targets[e.ID]; !ok {
			continue
		}
		h.cache[e.ID] = e
		seeded++
	}
	return seeded
}

// Subscribe registers a subscriber and queues the current cache as replay events
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &Subscriber{
		ID:     common.NewSubscriberID(),
		events: make(chan Event, h.bufferSize+len(h.cache)+1),
		hub:    h,
	}

	now := time.Now()
	state := h.worker
	s.events <- Event{Type: EventWorker, Worker: &state, Replay: true, Timestamp: now}
	for _, id := range h.order {
		entry, ok := h.cache[id]
		if !ok {
			continue
		}
		s.events <- Event{Type: EventArrival, TargetID: id, Arrival: &entry, Replay: true, Timestamp: now}
	}

	h.subscribers[s] = struct{}{}
	metrics.SetSubscribers(len(h.subscribers))
	return s
}

// Unsubscribe removes the subscriber and closes its channel
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

// Close removes every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subscribers {
		h.removeLocked(s)
	}
}

// Query returns the cached entry for one target
func (h *Hub) Query(id string) (models.ArrivalEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, tracked := h.targets[id]; !tracked {
		return models.ArrivalEntry{}, models.ErrTargetNotFound
	}
	entry, ok := h.cache[id]
	if !ok {
		return models.ArrivalEntry{}, ErrNoArrival
	}
	return entry, nil
}

// Snapshot returns every cached entry in target order
func (h *Hub) Snapshot() []models.ArrivalEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entries := make([]models.ArrivalEntry, 0, len(h.cache))
	for _, id := range h.order {
		if entry, ok := h.cache[id]; ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Legacy returns one flat entry per tracked target in target order.
// Targets without a result yet report not found with an empty time.
func (h *Hub) Legacy() []models.LegacyArrival {
	h.mu.RLock()
	defer h.mu.RUnlock()

	arrivals := make([]models.LegacyArrival, 0, len(h.order))
	for _, id := range h.order {
		arrival := models.LegacyArrival{ID: id, Line: h.targets[id].Line}
		if entry, ok := h.cache[id]; ok {
			arrival.Found = entry.Found
			arrival.Time = entry.Time
		}
		arrivals = append(arrivals, arrival)
	}
	return arrivals
}

// Statuses returns the latest status of every tracked target that reported one
func (h *Hub) Statuses() map[string]models.StatusUpdate {
	h.mu.RLock()
	defer h.mu.RUnlock()

	statuses := make(map[string]models.StatusUpdate, len(h.statuses))
	for id, s := range h.statuses {
		statuses[id] = s
	}
	return statuses
}

// Targets returns the tracked set in order
func (h *Hub) Targets() []models.Target {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.targetsLocked()
}

// Tracked reports whether the id is in the tracked set
func (h *Hub) Tracked(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.targets[id]
	return ok
}

// SubscriberCount returns the number of registered subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Worker returns the last known worker state
func (h *Hub) Worker() WorkerState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.worker
}

// broadcastLocked queues the event for every subscriber, dropping the ones
// whose buffer is full (must be called with mutex held)
func (h *Hub) broadcastLocked(event Event) {
	for s := range h.subscribers {
		select {
		case s.events <- event:
		default:
			h.logger.Warn().Str("subscriber_id", s.ID).Msg("Dropping slow subscriber")
			metrics.ObserveSubscriberDropped()
			h.removeLocked(s)
		}
	}
}

// removeLocked unregisters a subscriber (must be called with mutex held)
func (h *Hub) removeLocked(s *Subscriber) {
	if _, ok := h.subscribers[s]; !ok {
		return
	}
	delete(h.subscribers, s)
	close(s.events)
	metrics.SetSubscribers(len(h.subscribers))
}

func (h *Hub) persist(entry models.ArrivalEntry) {
	if h.storage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	if err := h.storage.SaveArrival(ctx, &entry); err != nil {
		h.logger.Warn().Err(err).Str("target_id", entry.ID).Msg("Failed to persist arrival")
	}
}
