package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/interfaces"
	"github.com/ternarybob/transitwatch/internal/models"
)

// LoopState is a snapshot of a loop's progress
type LoopState struct {
	Phase             models.Phase
	ConsecutiveErrors int
	HasSession        bool
	LastResult        *models.ScrapeResult
}

// Loop scrapes one target forever, until its context is cancelled.
//
// Each phase has a method that does the phase's work and returns the next
// phase. Every transition is reported to the emitter as a status update.
type Loop struct {
	target   models.Target
	sessions interfaces.SessionManager
	emitter  interfaces.LoopEmitter
	policy   Policy
	logger   arbor.ILogger

	// owned by the Run goroutine
	session      interfaces.Session
	lastErr      error
	message      string
	pending      models.ScrapeResult
	navigationMs int64
	cycleStart   time.Time

	mu    sync.RWMutex
	state LoopState
}

// NewLoop creates a loop for the target
func NewLoop(target models.Target, sessions interfaces.SessionManager, emitter interfaces.LoopEmitter, policy Policy, logger arbor.ILogger) *Loop {
	return &Loop{
		target:   target,
		sessions: sessions,
		emitter:  emitter,
		policy:   policy,
		logger:   logger.WithCorrelationId(target.ID),
		state:    LoopState{Phase: models.PhaseStarting},
	}
}

// Target returns the loop's target
func (l *Loop) Target() models.Target {
	return l.target
}

// State returns a snapshot of the loop state
func (l *Loop) State() LoopState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	state := l.state
	if state.LastResult != nil {
		last := *state.LastResult
		state.LastResult = &last
	}
	return state
}

// Run drives the state machine until ctx is cancelled.
// The session is always released before Run returns.
func (l *Loop) Run(ctx context.Context) {
	defer l.releaseSession()

	l.logger.Info().
		Str("line", l.target.Line).
		Str("stop", l.target.Stop).
		Msg("Scrape loop started")

	phase := models.PhaseStarting
	l.message = "Launching browser"
	for {
		if ctx.Err() != nil && phase != models.PhaseStopped {
			phase = models.PhaseStopped
		}
		if phase == models.PhaseStopped {
			l.releaseSession()
			l.message = "Stopped"
		}

		l.enter(phase)

		if phase == models.PhaseStopped {
			l.logger.Info().Msg("Scrape loop stopped")
			return
		}

		phase = l.step(ctx, phase)
	}
}

func (l *Loop) step(ctx context.Context, phase models.Phase) models.Phase {
	switch phase {
	case models.PhaseStarting:
		return l.starting(ctx)
	case models.PhaseNavigating:
		return l.navigating(ctx)
	case models.PhaseInteracting:
		return l.interacting(ctx)
	case models.PhaseExtracting:
		return l.extracting(ctx)
	case models.PhaseSuccess, models.PhaseEmpty:
		return l.reporting(ctx)
	case models.PhaseError:
		return l.failing()
	case models.PhaseBackoff:
		return l.backingOff(ctx)
	case models.PhaseCooldown:
		return l.coolingDown(ctx)
	default:
		return models.PhaseStopped
	}
}

// enter records the phase and emits the status update for it
func (l *Loop) enter(phase models.Phase) {
	l.mu.Lock()
	l.state.Phase = phase
	l.state.HasSession = l.session != nil
	count := l.state.ConsecutiveErrors
	l.mu.Unlock()

	l.emitter.EmitStatus(models.StatusUpdate{
		TargetID:          l.target.ID,
		Phase:             phase,
		Message:           l.message,
		ConsecutiveErrors: count,
		Timestamp:         time.Now(),
	})
}

func (l *Loop) fail(ctx context.Context, err error) models.Phase {
	if ctx.Err() != nil {
		return models.PhaseStopped
	}
	l.lastErr = err
	l.message = err.Error()

	// Counted here so the ERROR status carries the new count
	l.mu.Lock()
	l.state.ConsecutiveErrors++
	l.mu.Unlock()
	return models.PhaseError
}

func (l *Loop) starting(ctx context.Context) models.Phase {
	session, err := l.sessions.Open(ctx, l.target.ID)
	if err != nil {
		return l.fail(ctx, err)
	}
	l.session = session
	l.message = "Loading page"
	return models.PhaseNavigating
}

func (l *Loop) navigating(ctx context.Context) models.Phase {
	start := time.Now()
	if err := l.session.Navigate(ctx, l.target.Locator, l.policy.NavigationTimeout); err != nil {
		return l.fail(ctx, err)
	}
	l.navigationMs = time.Since(start).Milliseconds()
	l.message = "Requesting arrivals"
	return models.PhaseInteracting
}

func (l *Loop) interacting(ctx context.Context) models.Phase {
	l.cycleStart = time.Now()
	if err := l.session.Interact(ctx, l.policy.Control, l.policy.ControlTimeout); err != nil {
		return l.fail(ctx, err)
	}
	l.message = "Waiting for results"
	return models.PhaseExtracting
}

func (l *Loop) extracting(ctx context.Context) models.Phase {
	rows, err := l.session.Extract(ctx, l.policy.ResultTable, l.policy.ResultTimeout)
	if err != nil {
		return l.fail(ctx, err)
	}

	result := models.NewResultFromRows(l.target, rows, l.policy.NoServiceText)
	extractionMs := time.Since(l.cycleStart).Milliseconds()
	result.Metrics = &models.ScrapeMetrics{
		NavigationMs: l.navigationMs,
		ExtractionMs: extractionMs,
		TotalMs:      l.navigationMs + extractionMs,
	}
	// Navigation is only paid on the first cycle after a page load
	l.navigationMs = 0
	l.pending = result

	if result.Found {
		l.message = fmt.Sprintf("%d buses, line %s in %s", len(rows), l.target.Line, result.Time)
		return models.PhaseSuccess
	}
	l.message = fmt.Sprintf("%d buses, none for line %s", len(rows), l.target.Line)
	return models.PhaseEmpty
}

// reporting publishes the pending result and polls again without re-navigating
func (l *Loop) reporting(ctx context.Context) models.Phase {
	result := l.pending
	l.emitter.EmitResult(result)

	l.mu.Lock()
	l.state.ConsecutiveErrors = 0
	l.state.LastResult = &result
	l.mu.Unlock()

	if !sleep(ctx, l.policy.PollInterval) {
		return models.PhaseStopped
	}
	l.message = "Requesting arrivals"
	return models.PhaseInteracting
}

func (l *Loop) failing() models.Phase {
	l.mu.RLock()
	count := l.state.ConsecutiveErrors
	l.mu.RUnlock()

	l.logger.Warn().
		Err(l.lastErr).
		Int("consecutive_errors", count).
		Int("max_errors", l.policy.MaxErrors).
		Msg("Scrape attempt failed")

	if count >= l.policy.MaxErrors {
		l.releaseSession()
		l.message = fmt.Sprintf("Too many errors, waiting %s", l.policy.CooldownDelay)
		return models.PhaseCooldown
	}
	l.message = fmt.Sprintf("Retrying in %s (%d/%d)", l.policy.RetryDelay, count, l.policy.MaxErrors)
	return models.PhaseBackoff
}

// backingOff waits, then reloads the page in place, falling back to a fresh session
func (l *Loop) backingOff(ctx context.Context) models.Phase {
	if !sleep(ctx, l.policy.RetryDelay) {
		return models.PhaseStopped
	}

	if l.session == nil || !l.session.Alive() {
		l.releaseSession()
		l.message = "Relaunching browser"
		return models.PhaseStarting
	}

	if err := l.session.Reload(ctx, l.policy.NavigationTimeout); err != nil {
		if ctx.Err() != nil {
			return models.PhaseStopped
		}
		l.logger.Warn().Err(err).Msg("Page reload failed, relaunching browser")
		l.releaseSession()
		l.message = "Reload failed, relaunching browser"
		return models.PhaseStarting
	}

	l.message = "Loading page"
	return models.PhaseNavigating
}

func (l *Loop) coolingDown(ctx context.Context) models.Phase {
	if !sleep(ctx, l.policy.CooldownDelay) {
		return models.PhaseStopped
	}
	l.mu.Lock()
	l.state.ConsecutiveErrors = 0
	l.mu.Unlock()

	l.message = "Launching browser"
	return models.PhaseStarting
}

func (l *Loop) releaseSession() {
	if l.session == nil {
		return
	}
	if err := l.session.Close(); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to close browser session")
	}
	l.session = nil

	l.mu.Lock()
	l.state.HasSession = false
	l.mu.Unlock()
}
