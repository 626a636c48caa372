package scraper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/transitwatch/internal/interfaces"
	"github.com/ternarybob/transitwatch/internal/models"
)

// fakeSession scripts each step through optional hooks
type fakeSession struct {
	manager *fakeManager

	navigate func(call int) error
	interact func(call int) error
	extract  func(call int) (models.ParsedRows, error)
	reload   func(call int) error

	mu            sync.Mutex
	navigateCalls int
	interactCalls int
	extractCalls  int
	reloadCalls   int
	closed        bool
}

func (s *fakeSession) Navigate(ctx context.Context, locator string, timeout time.Duration) error {
	s.mu.Lock()
	s.navigateCalls++
	call := s.navigateCalls
	s.mu.Unlock()

	s.manager.record("navigate")
	if s.navigate != nil {
		if err := s.navigate(call); err != nil {
			return &models.NavigationError{Locator: locator, Err: err}
		}
	}
	return ctx.Err()
}

func (s *fakeSession) Interact(ctx context.Context, control string, timeout time.Duration) error {
	s.mu.Lock()
	s.interactCalls++
	call := s.interactCalls
	s.mu.Unlock()

	if s.interact != nil {
		if err := s.interact(call); err != nil {
			return &models.InteractionError{Control: control, Err: err}
		}
	}
	return ctx.Err()
}

func (s *fakeSession) Extract(ctx context.Context, result string, timeout time.Duration) (models.ParsedRows, error) {
	s.mu.Lock()
	s.extractCalls++
	call := s.extractCalls
	s.mu.Unlock()

	if s.extract != nil {
		return s.extract(call)
	}
	return models.ParsedRows{{Line: "561", LineName: "ULUS", Time: "4 dk"}}, ctx.Err()
}

func (s *fakeSession) Reload(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	s.reloadCalls++
	call := s.reloadCalls
	s.mu.Unlock()

	s.manager.record("reload")
	if s.reload != nil {
		return s.reload(call)
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.manager.closed()
	}
	return nil
}

func (s *fakeSession) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// fakeManager hands out sessions built by configure and records step order
type fakeManager struct {
	configure func(s *fakeSession)
	openErr   func(call int) error

	mu       sync.Mutex
	opened   int
	open     int
	calls    []string
	sessions []*fakeSession
}

func (m *fakeManager) Open(ctx context.Context, targetID string) (interfaces.Session, error) {
	m.mu.Lock()
	m.opened++
	call := m.opened
	m.calls = append(m.calls, "open")
	m.mu.Unlock()

	if m.openErr != nil {
		if err := m.openErr(call); err != nil {
			return nil, &models.SessionCrash{Err: err}
		}
	}

	s := &fakeSession{manager: m}
	if m.configure != nil {
		m.configure(s)
	}

	m.mu.Lock()
	m.open++
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()
	return s, nil
}

func (m *fakeManager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *fakeManager) Shutdown() error { return nil }

func (m *fakeManager) closed() {
	m.mu.Lock()
	m.open--
	m.calls = append(m.calls, "close")
	m.mu.Unlock()
}

func (m *fakeManager) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *fakeManager) openedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// recordingEmitter keeps every message in order
type recordingEmitter struct {
	mu       sync.Mutex
	results  []models.ScrapeResult
	statuses []models.StatusUpdate
}

func (e *recordingEmitter) EmitResult(result models.ScrapeResult) {
	e.mu.Lock()
	e.results = append(e.results, result)
	e.mu.Unlock()
}

func (e *recordingEmitter) EmitStatus(status models.StatusUpdate) {
	e.mu.Lock()
	e.statuses = append(e.statuses, status)
	e.mu.Unlock()
}

func (e *recordingEmitter) Results() []models.ScrapeResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.ScrapeResult{}, e.results...)
}

func (e *recordingEmitter) Phases(targetID string) []models.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	phases := []models.Phase{}
	for _, s := range e.statuses {
		if s.TargetID == targetID {
			phases = append(phases, s.Phase)
		}
	}
	return phases
}

// ErrorCounts returns the consecutive error count of every ERROR status
func (e *recordingEmitter) ErrorCounts(targetID string) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	counts := []int{}
	for _, s := range e.statuses {
		if s.TargetID == targetID && s.Phase == models.PhaseError {
			counts = append(counts, s.ConsecutiveErrors)
		}
	}
	return counts
}

func (e *recordingEmitter) ResultsFor(targetID string) []models.ScrapeResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	results := []models.ScrapeResult{}
	for _, r := range e.results {
		if r.TargetID == targetID {
			results = append(results, r)
		}
	}
	return results
}

// fastPolicy keeps every delay short enough for unit tests
func fastPolicy() Policy {
	p := NewPolicy()
	p.NavigationTimeout = time.Second
	p.ControlTimeout = time.Second
	p.ResultTimeout = time.Second
	p.PollInterval = 5 * time.Millisecond
	p.RetryDelay = 5 * time.Millisecond
	p.CooldownDelay = 20 * time.Millisecond
	return p
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

var errBoom = errors.New("boom")
