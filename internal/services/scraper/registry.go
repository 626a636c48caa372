package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/interfaces"
	"github.com/ternarybob/transitwatch/internal/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrRegistryStopped is returned by Replace after Stop
var ErrRegistryStopped = errors.New("target registry stopped")

type runningLoop struct {
	loop   *Loop
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns the active target set and one scrape loop per target
type Registry struct {
	sessions interfaces.SessionManager
	emitter  interfaces.LoopEmitter
	policy   Policy
	stagger  time.Duration
	logger   arbor.ILogger

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu      sync.Mutex
	targets []models.Target
	loops   map[string]*runningLoop
	stopped bool
}

// NewRegistry creates an empty registry. Loops start on the first Replace.
func NewRegistry(sessions interfaces.SessionManager, emitter interfaces.LoopEmitter, policy Policy, stagger time.Duration, logger arbor.ILogger) *Registry {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Registry{
		sessions:   sessions,
		emitter:    emitter,
		policy:     policy,
		stagger:    stagger,
		logger:     logger,
		baseCtx:    baseCtx,
		cancelBase: cancel,
		loops:      make(map[string]*runningLoop),
	}
}

// Replace swaps the whole target set.
// The new set is validated first; on failure the current loops keep running.
// Otherwise every current loop is stopped and its session released before
// the new loops start, staggered so browsers do not launch all at once.
func (r *Registry) Replace(ctx context.Context, targets []models.Target) error {
	if err := models.ValidateTargets(targets); err != nil {
		r.logger.Warn().Err(err).Msg("Rejected target set")
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrRegistryStopped
	}

	previous := len(r.loops)
	if err := r.stopLoopsLocked(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Some loops did not stop before the deadline")
	}

	r.targets = append([]models.Target{}, targets...)
	r.startLoopsLocked()

	r.logger.Info().
		Int("previous", previous).
		Int("targets", len(targets)).
		Strs("ids", models.TargetIDs(targets)).
		Msg("Target set replaced")

	return nil
}

// Recycle restarts every loop with a fresh browser session and the same targets
func (r *Registry) Recycle(ctx context.Context) error {
	r.mu.Lock()
	targets := append([]models.Target{}, r.targets...)
	r.mu.Unlock()

	r.logger.Info().Int("targets", len(targets)).Msg("Recycling browser sessions")
	return r.Replace(ctx, targets)
}

// Targets returns a copy of the active target set
func (r *Registry) Targets() []models.Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Target{}, r.targets...)
}

// Has reports whether the id is in the active set
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loops[id]
	return ok
}

// States returns the current state of every loop
func (r *Registry) States() map[string]LoopState {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]LoopState, len(r.loops))
	for id, rl := range r.loops {
		states[id] = rl.loop.State()
	}
	return states
}

// Stop tears down every loop and refuses further replacements
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil
	}
	r.stopped = true

	err := r.stopLoopsLocked(ctx)
	r.targets = nil
	r.cancelBase()

	r.logger.Info().Msg("Target registry stopped")
	return err
}

// stopLoopsLocked cancels every loop and waits for all of them in parallel (must be called with mutex held)
func (r *Registry) stopLoopsLocked(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for id, rl := range r.loops {
		rl.cancel()
		g.Go(func() error {
			select {
			case <-rl.done:
				return nil
			case <-gctx.Done():
				return fmt.Errorf("loop %s did not stop: %w", id, gctx.Err())
			}
		})
	}
	err := g.Wait()
	r.loops = make(map[string]*runningLoop)
	return err
}

// startLoopsLocked launches one loop per target (must be called with mutex held)
func (r *Registry) startLoopsLocked() {
	var limiter *rate.Limiter
	if r.stagger > 0 {
		limiter = rate.NewLimiter(rate.Every(r.stagger), 1)
	}

	for _, target := range r.targets {
		loopCtx, cancel := context.WithCancel(r.baseCtx)
		rl := &runningLoop{
			loop:   NewLoop(target, r.sessions, r.emitter, r.policy, r.logger),
			cancel: cancel,
			done:   make(chan struct{}),
		}
		r.loops[target.ID] = rl

		common.SafeGo(r.logger, "loop:"+target.ID, func() {
			defer close(rl.done)
			if limiter != nil {
				if err := limiter.Wait(loopCtx); err != nil {
					return
				}
			}
			rl.loop.Run(loopCtx)
		})
	}
}
