package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/models"
	"github.com/ternarybob/transitwatch/internal/services/hub"
	"github.com/ternarybob/transitwatch/internal/services/scheduler"
)

// fakeMonitor applies target sets straight to a hub
type fakeMonitor struct {
	hub *hub.Hub

	mu        sync.Mutex
	alive     bool
	err       error
	relaunch  int
	lastApply []models.Target
}

func (m *fakeMonitor) Targets() []models.Target { return m.hub.Targets() }

func (m *fakeMonitor) Reconfigure(ctx context.Context, targets []models.Target) error {
	if err := models.ValidateTargets(targets); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.lastApply = targets
	m.hub.SetTargets(targets)
	return nil
}

func (m *fakeMonitor) Relaunch(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relaunch++
	m.alive = true
	return nil
}

func (m *fakeMonitor) Recycle(ctx context.Context) error { return nil }

func (m *fakeMonitor) WorkerAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive
}

type fakeRecycler struct {
	triggered int
	busy      bool
}

func (r *fakeRecycler) TriggerNow() error {
	if r.busy {
		return errors.New("recycle already in progress")
	}
	r.triggered++
	return nil
}

func (r *fakeRecycler) GetStatus() scheduler.Status {
	return scheduler.Status{Schedule: "@every 6h"}
}

func testTargets(ids ...string) []models.Target {
	out := make([]models.Target, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.NewTarget(id, "561", "50782", ""))
	}
	return out
}

func newTestHub(ids ...string) *hub.Hub {
	h := hub.New(16, nil, arbor.NewLogger())
	h.SetTargets(testTargets(ids...))
	return h
}

func found(id, arrival string) models.ScrapeResult {
	return models.ScrapeResult{TargetID: id, Found: true, Time: arrival, Timestamp: time.Now()}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestArrivalHandlerList(t *testing.T) {
	h := newTestHub("bus-1", "bus-2")
	h.OnResult(found("bus-1", "4 dk"))
	handler := NewArrivalHandler(h, arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.ListHandler(rec, httptest.NewRequest("GET", "/api/arrivals", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Arrivals []models.ArrivalEntry `json:"arrivals"`
		Count    int                   `json:"count"`
	}
	decode(t, rec, &body)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "bus-1", body.Arrivals[0].ID)
	assert.Equal(t, "4 dk", body.Arrivals[0].Time)

	rec = httptest.NewRecorder()
	handler.ListHandler(rec, httptest.NewRequest("POST", "/api/arrivals", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestArrivalHandlerGet(t *testing.T) {
	h := newTestHub("bus-1", "bus-2")
	h.OnResult(found("bus-1", "4 dk"))
	handler := NewArrivalHandler(h, arbor.NewLogger())

	tests := []struct {
		path string
		code int
	}{
		{"/api/arrivals/bus-1", http.StatusOK},
		{"/api/arrivals/bus-2", http.StatusNotFound},
		{"/api/arrivals/bus-9", http.StatusNotFound},
		{"/api/arrivals/", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		handler.GetHandler(rec, httptest.NewRequest("GET", tt.path, nil))
		assert.Equal(t, tt.code, rec.Code, tt.path)
	}

	rec := httptest.NewRecorder()
	handler.GetHandler(rec, httptest.NewRequest("GET", "/api/arrivals/bus-1", nil))
	var entry models.ArrivalEntry
	decode(t, rec, &entry)
	assert.Equal(t, "561", entry.Line)
	assert.True(t, entry.Found)
}

func TestArrivalHandlerLegacy(t *testing.T) {
	h := newTestHub("bus-1", "bus-2")
	h.OnResult(found("bus-2", "9 dk"))
	handler := NewArrivalHandler(h, arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.LegacyHandler(rec, httptest.NewRequest("GET", "/api/bustimes", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body []models.LegacyArrival
	decode(t, rec, &body)
	require.Len(t, body, 2)
	assert.Equal(t, models.LegacyArrival{ID: "bus-2", Line: "561", Found: true, Time: "9 dk"}, body[1])
	assert.False(t, body[0].Found)
}

func TestTargetHandlerReplace(t *testing.T) {
	h := newTestHub("bus-1")
	monitor := &fakeMonitor{hub: h, alive: true}
	handler := NewTargetHandler(monitor, "", time.Second, arbor.NewLogger())

	put := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ReplaceHandler(rec, httptest.NewRequest("PUT", "/api/targets", bytes.NewBufferString(body)))
		return rec
	}

	rec := put(`[{"id":"bus-2","line":"540","stop":"50781"},{"id":"bus-3","line":"561","stop":"50780"}]`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"bus-2", "bus-3"}, models.TargetIDs(h.Targets()))
	assert.Contains(t, monitor.lastApply[0].Locator, "durak_no=50781")

	rec = put(`[{"id":"dup","line":"1","stop":"2"},{"id":"dup","line":"1","stop":"2"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"bus-2", "bus-3"}, models.TargetIDs(h.Targets()), "rejected set leaves tracking alone")

	rec = put(`{"id":"bus-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "body must be a list")

	rec = put(`[]`)
	assert.Equal(t, http.StatusAccepted, rec.Code, "empty set pauses monitoring")
	assert.Empty(t, h.Targets())

	monitor.err = models.ErrChannelLost
	rec = put(`[{"id":"bus-1","line":"561","stop":"50782"}]`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The channel's own ack timer can fire before the request deadline
	monitor.err = fmt.Errorf("%w: no ack for reconfigure within 1s: %w", models.ErrChannelLost, models.ErrAckTimeout)
	rec = put(`[{"id":"bus-1","line":"561","stop":"50782"}]`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestTargetHandlerList(t *testing.T) {
	h := newTestHub("bus-1", "bus-2")
	handler := NewTargetHandler(&fakeMonitor{hub: h}, "", time.Second, arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.ListHandler(rec, httptest.NewRequest("GET", "/api/targets", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Targets []models.Target `json:"targets"`
	}
	decode(t, rec, &body)
	assert.Equal(t, []string{"bus-1", "bus-2"}, models.TargetIDs(body.Targets))
}

func TestHealthHandler(t *testing.T) {
	h := newTestHub("bus-1", "bus-2")
	monitor := &fakeMonitor{hub: h, alive: true}
	handler := NewAPIHandler(monitor, h, "instance-1", arbor.NewLogger())

	sub := h.Subscribe()
	defer sub.Close()

	rec := httptest.NewRecorder()
	handler.HealthHandler(rec, httptest.NewRequest("GET", "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, true, body["worker_alive"])
	assert.Equal(t, float64(1), body["subscribers"])
	assert.Equal(t, float64(2), body["targets"])
	assert.Equal(t, "instance-1", body["server_instance_id"])

	monitor.alive = false
	rec = httptest.NewRecorder()
	handler.HealthHandler(rec, httptest.NewRequest("GET", "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWorkerHandler(t *testing.T) {
	h := newTestHub("bus-1")
	monitor := &fakeMonitor{hub: h}
	recycler := &fakeRecycler{}
	handler := NewWorkerHandler(monitor, h, recycler, time.Second, arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.RelaunchHandler(rec, httptest.NewRequest("POST", "/api/worker/relaunch", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, monitor.relaunch)
	assert.True(t, monitor.WorkerAlive())

	rec = httptest.NewRecorder()
	handler.RecycleHandler(rec, httptest.NewRequest("POST", "/api/worker/recycle", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, recycler.triggered)

	recycler.busy = true
	rec = httptest.NewRecorder()
	handler.RecycleHandler(rec, httptest.NewRequest("POST", "/api/worker/recycle", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	handler.StatusHandler(rec, httptest.NewRequest("GET", "/api/worker", nil))
	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, true, body["alive"])
	assert.NotNil(t, body["recycle"])
}

func TestConfigHandler(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Browser.ExecPath = "/opt/chrome/chrome"
	handler := NewConfigHandler(arbor.NewLogger(), config)

	rec := httptest.NewRecorder()
	handler.GetConfig(rec, httptest.NewRequest("GET", "/api/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body ConfigResponse
	decode(t, rec, &body)
	require.NotNil(t, body.Config)
	assert.Equal(t, config.Server.Port, body.Port)
	assert.Len(t, body.Config.Targets, len(config.Targets))
	assert.Empty(t, body.Config.Browser.ExecPath)
	assert.Equal(t, "/opt/chrome/chrome", config.Browser.ExecPath, "served copy leaves the live config alone")

	config.Environment = "production"
	rec = httptest.NewRecorder()
	handler.GetConfig(rec, httptest.NewRequest("GET", "/api/config", nil))
	body = ConfigResponse{}
	decode(t, rec, &body)
	assert.Nil(t, body.Config)
}
