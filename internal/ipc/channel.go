package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/models"
)

// Handler receives worker output on the orchestrator side.
// Calls come from the channel's reader goroutine and must not block.
type Handler interface {
	OnResult(result models.ScrapeResult)
	OnStatus(status models.StatusUpdate)
	OnWorkerState(alive bool, reason string)
}

// Channel is the orchestrator side of the result channel.
// Once the worker goes away every command fails with models.ErrChannelLost
// until Relaunch is called.
type Channel struct {
	launcher   Launcher
	handler    Handler
	ackTimeout time.Duration
	logger     arbor.ILogger

	mu          sync.Mutex
	transport   *Transport
	enc         *Encoder
	alive       bool
	generation  int
	seq         uint64
	pending     map[uint64]chan error
	lastTargets []models.Target
	hasTargets  bool
	shutdown    bool
}

// NewChannel creates a channel. Nothing is launched until Start.
func NewChannel(launcher Launcher, handler Handler, ackTimeout time.Duration, logger arbor.ILogger) *Channel {
	if ackTimeout <= 0 {
		ackTimeout = 60 * time.Second
	}
	return &Channel{
		launcher:   launcher,
		handler:    handler,
		ackTimeout: ackTimeout,
		logger:     logger,
		pending:    make(map[uint64]chan error),
	}
}

// Start launches the worker and sends it the target set
func (c *Channel) Start(ctx context.Context, targets []models.Target) error {
	if err := c.launch(ctx); err != nil {
		return err
	}
	return c.Reconfigure(ctx, targets)
}

// Relaunch replaces the worker with a fresh one and restores the last target set
func (c *Channel) Relaunch(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return models.ErrChannelLost
	}
	old := c.transport
	targets := append([]models.Target{}, c.lastTargets...)
	hasTargets := c.hasTargets
	c.mu.Unlock()

	c.logger.Info().Int("targets", len(targets)).Msg("Relaunching worker")

	if old != nil {
		if err := old.Kill(); err != nil {
			c.logger.Warn().Err(err).Msg("Previous worker did not stop cleanly")
		}
	}

	if err := c.launch(ctx); err != nil {
		return err
	}
	if !hasTargets {
		return nil
	}
	return c.Reconfigure(ctx, targets)
}

// Reconfigure sends a new target set and waits for the worker to apply it.
// A rejected set comes back as *models.ReconfigurationFailure.
func (c *Channel) Reconfigure(ctx context.Context, targets []models.Target) error {
	if err := c.request(ctx, Message{Kind: KindReconfigure, Targets: targets}); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastTargets = append([]models.Target{}, targets...)
	c.hasTargets = true
	c.mu.Unlock()
	return nil
}

// Recycle asks the worker to restart every loop with a fresh browser
func (c *Channel) Recycle(ctx context.Context) error {
	return c.request(ctx, Message{Kind: KindRecycle})
}

// Shutdown stops the worker. The channel cannot be used afterwards.
func (c *Channel) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	transport := c.transport
	alive := c.alive
	c.mu.Unlock()

	var err error
	if alive {
		if err = c.request(ctx, Message{Kind: KindShutdown}); err != nil {
			c.logger.Warn().Err(err).Msg("Worker did not acknowledge shutdown")
		}
	}
	if transport != nil {
		if killErr := transport.Kill(); killErr != nil && err == nil {
			err = killErr
		}
	}

	c.mu.Lock()
	wasAlive := c.alive
	c.alive = false
	c.mu.Unlock()
	if wasAlive {
		c.handler.OnWorkerState(false, "shutdown")
	}

	c.logger.Info().Msg("Result channel shut down")
	return err
}

// Alive reports whether the worker is reachable
func (c *Channel) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// Targets returns the target set last sent to the worker
func (c *Channel) Targets() []models.Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Target{}, c.lastTargets...)
}

func (c *Channel) launch(ctx context.Context) error {
	transport, err := c.launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("failed to launch worker: %w", err)
	}

	c.mu.Lock()
	c.generation++
	generation := c.generation
	c.transport = transport
	c.enc = NewEncoder(transport.Commands)
	c.alive = true
	c.mu.Unlock()

	common.SafeGo(c.logger, "ipc-channel-reader", func() {
		c.read(generation, transport)
	})

	c.handler.OnWorkerState(true, "worker started")
	return nil
}

// request sends a command and waits for its ack.
// ctx is honoured until the command is written. After that the worker
// decides the outcome, so the wait ends only on the ack or the ack timeout,
// except for shutdown, whose transport is killed right after.
func (c *Channel) request(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return models.ErrChannelLost
	}
	generation := c.generation
	c.seq++
	msg.Seq = c.seq
	ack := make(chan error, 1)
	c.pending[msg.Seq] = ack
	enc := c.enc
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.Seq)
		c.mu.Unlock()
	}()

	if err := enc.Encode(msg); err != nil {
		c.logger.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("Failed to send command")
		return fmt.Errorf("%w: %v", models.ErrChannelLost, err)
	}

	var cancelled <-chan struct{}
	if msg.Kind == KindShutdown {
		cancelled = ctx.Done()
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	select {
	case err := <-ack:
		return err
	case <-cancelled:
		return ctx.Err()
	case <-timer.C:
		reason := fmt.Sprintf("no ack for %s within %s", msg.Kind, c.ackTimeout)
		c.abandon(generation, reason)
		return fmt.Errorf("%w: %s: %w", models.ErrChannelLost, reason, models.ErrAckTimeout)
	}
}

// abandon gives up on an unresponsive worker. Its state is unknown, so it is
// marked lost and killed; Relaunch restores the last acknowledged set.
func (c *Channel) abandon(generation int, reason string) {
	c.mu.Lock()
	transport := c.transport
	current := generation == c.generation
	c.mu.Unlock()
	if !current {
		return
	}

	c.lost(generation, reason)
	if transport != nil {
		common.SafeGo(c.logger, "worker-abandon", func() {
			if err := transport.Kill(); err != nil {
				c.logger.Warn().Err(err).Msg("Unresponsive worker did not stop cleanly")
			}
		})
	}
}

// current reports whether generation is the running worker
func (c *Channel) current(generation int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return generation == c.generation
}

// read consumes worker frames until the stream ends
func (c *Channel) read(generation int, transport *Transport) {
	dec := NewDecoder(transport.Events)
	for {
		msg, err := dec.Decode()
		if err != nil {
			reason := "worker exited"
			if !errors.Is(err, io.EOF) {
				reason = err.Error()
			}
			transport.Events.Close()
			c.lost(generation, reason)
			return
		}

		switch msg.Kind {
		case KindReady:
			c.logger.Debug().Int("generation", generation).Msg("Worker reported ready")
		case KindResult, KindStatus:
			if !c.current(generation) {
				c.logger.Debug().Int("generation", generation).Str("kind", string(msg.Kind)).Msg("Dropping event from previous worker")
				continue
			}
			if msg.Kind == KindResult {
				c.handler.OnResult(*msg.Result)
			} else {
				c.handler.OnStatus(*msg.Status)
			}
		case KindAck:
			c.resolve(msg)
		default:
			c.logger.Warn().Str("kind", string(msg.Kind)).Msg("Ignoring unexpected frame from worker")
		}
	}
}

func (c *Channel) resolve(msg Message) {
	c.mu.Lock()
	ack, ok := c.pending[msg.Seq]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug().Int("seq", int(msg.Seq)).Msg("Ack for unknown command")
		return
	}
	deliver(ack, ackError(msg))
}

// deliver hands an outcome to a waiting request without blocking
func deliver(ack chan error, err error) {
	select {
	case ack <- err:
	default:
	}
}

// lost marks the channel down if the ended stream belongs to the current worker
func (c *Channel) lost(generation int, reason string) {
	c.mu.Lock()
	if generation != c.generation || !c.alive {
		c.mu.Unlock()
		return
	}
	c.alive = false
	for seq, ack := range c.pending {
		deliver(ack, models.ErrChannelLost)
		delete(c.pending, seq)
	}
	shutdown := c.shutdown
	c.mu.Unlock()

	if shutdown {
		c.logger.Info().Str("reason", reason).Msg("Worker stopped")
	} else {
		c.logger.Error().Str("reason", reason).Msg("Result channel lost, relaunch required")
	}
	c.handler.OnWorkerState(false, reason)
}
