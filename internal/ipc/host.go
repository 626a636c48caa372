package ipc

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/interfaces"
	"github.com/ternarybob/transitwatch/internal/models"
	"github.com/ternarybob/transitwatch/internal/services/scraper"
)

// teardownTimeout bounds how long the host waits for loops to release their browsers
const teardownTimeout = 30 * time.Second

// Host is the worker side of the channel.
// It applies commands to its registry and forwards loop output as frames.
type Host struct {
	registry *scraper.Registry
	sessions interfaces.SessionManager
	logger   arbor.ILogger

	mu       sync.Mutex
	enc      *Encoder
	stopOnce sync.Once
}

var _ interfaces.LoopEmitter = (*Host)(nil)

// NewHost creates a host whose loops open sessions from the manager
func NewHost(sessions interfaces.SessionManager, policy scraper.Policy, stagger time.Duration, logger arbor.ILogger) *Host {
	h := &Host{
		sessions: sessions,
		logger:   logger,
	}
	h.registry = scraper.NewRegistry(sessions, h, policy, stagger, logger)
	return h
}

// EmitResult forwards a loop result
func (h *Host) EmitResult(result models.ScrapeResult) {
	h.send(Message{Kind: KindResult, Result: &result})
}

// EmitStatus forwards a loop status update
func (h *Host) EmitStatus(status models.StatusUpdate) {
	h.send(Message{Kind: KindStatus, Status: &status})
}

func (h *Host) send(msg Message) {
	h.mu.Lock()
	enc := h.enc
	h.mu.Unlock()

	if enc == nil {
		return
	}
	if err := enc.Encode(msg); err != nil {
		h.logger.Debug().Err(err).Str("kind", string(msg.Kind)).Msg("Dropped frame, orchestrator unreachable")
	}
}

// Serve reads commands until shutdown, end of stream or ctx cancellation.
// Every loop is stopped and browsers are released before Serve returns.
func (h *Host) Serve(ctx context.Context, commands io.Reader, events io.Writer) error {
	h.mu.Lock()
	h.enc = NewEncoder(events)
	h.mu.Unlock()

	defer h.teardown()

	frames := make(chan Message)
	readErr := make(chan error, 1)
	common.SafeGo(h.logger, "ipc-host-reader", func() {
		dec := NewDecoder(commands)
		for {
			msg, err := dec.Decode()
			if err != nil {
				readErr <- err
				return
			}
			if !msg.Kind.IsCommand() {
				h.logger.Warn().Str("kind", string(msg.Kind)).Msg("Ignoring unexpected frame")
				continue
			}
			select {
			case frames <- msg:
			case <-ctx.Done():
				return
			}
		}
	})

	h.send(Message{Kind: KindReady})
	h.logger.Info().Msg("Worker ready")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("Worker context cancelled")
			return nil

		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				h.logger.Info().Msg("Command stream closed, stopping worker")
				return nil
			}
			h.logger.Error().Err(err).Msg("Command stream failed")
			return err

		case msg := <-frames:
			if done := h.handle(ctx, msg); done {
				return nil
			}
		}
	}
}

// handle applies one command and acks it. It reports true after shutdown.
func (h *Host) handle(ctx context.Context, msg Message) bool {
	switch msg.Kind {
	case KindReconfigure:
		err := h.registry.Replace(ctx, msg.Targets)
		h.send(newAck(msg.Seq, err))

	case KindRecycle:
		err := h.registry.Recycle(ctx)
		h.send(newAck(msg.Seq, err))

	case KindShutdown:
		h.logger.Info().Msg("Shutdown requested")
		h.teardown()
		h.send(newAck(msg.Seq, nil))
		return true
	}
	return false
}

// teardown stops the registry and the browsers. Safe to call more than once.
func (h *Host) teardown() {
	h.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		if err := h.registry.Stop(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("Registry did not stop cleanly")
		}
		if err := h.sessions.Shutdown(); err != nil {
			h.logger.Warn().Err(err).Msg("Browser shutdown failed")
		}
	})
}
