package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/interfaces"
	"github.com/ternarybob/transitwatch/internal/ipc"
	"github.com/ternarybob/transitwatch/internal/models"
	"github.com/ternarybob/transitwatch/internal/services/hub"
	"github.com/ternarybob/transitwatch/internal/services/scraper"
)

type stubSession struct{}

func (stubSession) Navigate(ctx context.Context, locator string, timeout time.Duration) error {
	return ctx.Err()
}

func (stubSession) Interact(ctx context.Context, control string, timeout time.Duration) error {
	return ctx.Err()
}

func (stubSession) Extract(ctx context.Context, result string, timeout time.Duration) (models.ParsedRows, error) {
	return models.ParsedRows{{Line: "561", LineName: "ULUS", Time: "4 dk"}}, ctx.Err()
}

func (stubSession) Reload(ctx context.Context, timeout time.Duration) error { return nil }
func (stubSession) Close() error { return nil }
func (stubSession) Alive() bool { return true }

type stubManager struct{}

func (stubManager) Open(ctx context.Context, targetID string) (interfaces.Session, error) {
	return stubSession{}, nil
}
func (stubManager) OpenCount() int { return 0 }
func (stubManager) Shutdown() error { return nil }

type memoryTargets struct {
	mu      sync.Mutex
	targets []models.Target
	saved   bool
}

func (m *memoryTargets) SaveTargets(ctx context.Context, targets []models.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = append([]models.Target(nil), targets...)
	m.saved = true
	return nil
}

func (m *memoryTargets) LoadTargets(ctx context.Context) ([]models.Target, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targets, m.saved, nil
}

func targets(ids ...string) []models.Target {
	out := make([]models.Target, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.NewTarget(id, "561", "50782", ""))
	}
	return out
}

func newTestService(t *testing.T) (*Service, *hub.Hub, *memoryTargets) {
	t.Helper()
	logger := arbor.NewLogger()

	policy := scraper.NewPolicy()
	policy.PollInterval = 5 * time.Millisecond
	policy.RetryDelay = 5 * time.Millisecond

	h := hub.New(16, nil, logger)
	launcher := &ipc.PipeLauncher{
		NewHost: func() *ipc.Host { return ipc.NewHost(stubManager{}, policy, 0, logger) },
		Logger:  logger,
	}
	channel := ipc.NewChannel(launcher, h, 5*time.Second, logger)
	storage := &memoryTargets{}

	service := NewService(channel, h, storage, logger)
	t.Cleanup(func() {
		service.Shutdown(context.Background())
		h.Close()
	})
	return service, h, storage
}

func TestServiceStartFeedsHub(t *testing.T) {
	service, h, _ := newTestService(t)

	require.NoError(t, service.Start(context.Background(), targets("bus-1")))
	assert.True(t, service.WorkerAlive())

	require.Eventually(t, func() bool {
		entry, err := h.Query("bus-1")
		return err == nil && entry.Time == "4 dk"
	}, 3*time.Second, 5*time.Millisecond)
}

func TestServiceReconfigure(t *testing.T) {
	service, h, storage := newTestService(t)
	ctx := context.Background()

	require.NoError(t, service.Start(ctx, targets("bus-1", "bus-2")))
	require.NoError(t, service.Reconfigure(ctx, targets("bus-2", "bus-3")))

	assert.Equal(t, []string{"bus-2", "bus-3"}, models.TargetIDs(service.Targets()))
	saved, ok, _ := storage.LoadTargets(ctx)
	assert.True(t, ok)
	assert.Equal(t, []string{"bus-2", "bus-3"}, models.TargetIDs(saved))

	require.Eventually(t, func() bool {
		_, err := h.Query("bus-3")
		return err == nil
	}, 3*time.Second, 5*time.Millisecond)
	_, err := h.Query("bus-1")
	assert.ErrorIs(t, err, models.ErrTargetNotFound)
}

func TestServiceReconfigureRejectsInvalidSet(t *testing.T) {
	service, _, storage := newTestService(t)
	ctx := context.Background()
	require.NoError(t, service.Start(ctx, targets("bus-1")))

	err := service.Reconfigure(ctx, targets("dup", "dup"))
	require.Error(t, err)
	assert.True(t, models.IsReconfigurationFailure(err))
	assert.Equal(t, []string{"bus-1"}, models.TargetIDs(service.Targets()))

	_, saved, _ := storage.LoadTargets(ctx)
	assert.False(t, saved)
}

func TestServiceReconfigureRestoresSetWhenWorkerLost(t *testing.T) {
	service, h, _ := newTestService(t)
	h.SetTargets(targets("bus-1"))
	h.OnResult(models.ScrapeResult{TargetID: "bus-1", Found: true, Time: "4 dk", Timestamp: time.Now()})

	// Never started, so there is no worker to apply the set
	err := service.Reconfigure(context.Background(), targets("bus-2"))
	assert.ErrorIs(t, err, models.ErrChannelLost)
	assert.Equal(t, []string{"bus-1"}, models.TargetIDs(service.Targets()))

	entry, err := h.Query("bus-1")
	require.NoError(t, err, "cached entry survives the failed swap")
	assert.Equal(t, "4 dk", entry.Time)
}

func TestServiceReconfigureCancelledKeepsWorkerAndHubAligned(t *testing.T) {
	service, h, storage := newTestService(t)
	require.NoError(t, service.Start(context.Background(), targets("bus-1")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := service.Reconfigure(ctx, targets("bus-2"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, service.WorkerAlive())
	assert.Equal(t, []string{"bus-1"}, models.TargetIDs(service.Targets()))

	_, saved, _ := storage.LoadTargets(context.Background())
	assert.False(t, saved, "a set the worker never applied is not persisted")

	// The worker still scrapes bus-1 and the hub still accepts its results
	after := time.Now()
	require.Eventually(t, func() bool {
		entry, err := h.Query("bus-1")
		return err == nil && entry.Timestamp.After(after)
	}, 3*time.Second, 5*time.Millisecond)
	_, err = h.Query("bus-2")
	assert.ErrorIs(t, err, models.ErrTargetNotFound)
}

func TestServiceRelaunchAndRecycle(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, service.Start(ctx, targets("bus-1")))
	require.NoError(t, service.Recycle(ctx))

	require.NoError(t, service.Shutdown(ctx))
	assert.False(t, service.WorkerAlive())
	assert.Error(t, service.Relaunch(ctx), "shut down channel stays down")
}
