package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/app"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/handlers"
	"github.com/ternarybob/transitwatch/internal/models"
	"github.com/ternarybob/transitwatch/internal/services/hub"
	"github.com/ternarybob/transitwatch/internal/services/scheduler"
)

type hubMonitor struct{ hub *hub.Hub }

func (m hubMonitor) Targets() []models.Target { return m.hub.Targets() }
func (m hubMonitor) Reconfigure(ctx context.Context, targets []models.Target) error {
	if err := models.ValidateTargets(targets); err != nil {
		return err
	}
	m.hub.SetTargets(targets)
	return nil
}
func (m hubMonitor) Relaunch(ctx context.Context) error { return nil }
func (m hubMonitor) Recycle(ctx context.Context) error { return nil }
func (m hubMonitor) WorkerAlive() bool { return true }

type idleRecycler struct{}

func (idleRecycler) TriggerNow() error { return nil }
func (idleRecycler) GetStatus() scheduler.Status { return scheduler.Status{} }

func newTestServer(t *testing.T) (*Server, *hub.Hub) {
	t.Helper()
	logger := arbor.NewLogger()
	config := common.NewDefaultConfig()

	h := hub.New(8, nil, logger)
	h.SetTargets([]models.Target{models.NewTarget("bus-1", "561", "50782", "")})
	monitor := hubMonitor{hub: h}

	application := &app.App{
		Config:         config,
		Logger:         logger,
		InstanceID:     "instance-1",
		Hub:            h,
		APIHandler:     handlers.NewAPIHandler(monitor, h, "instance-1", logger),
		ConfigHandler:  handlers.NewConfigHandler(logger, config),
		ArrivalHandler: handlers.NewArrivalHandler(h, logger),
		TargetHandler:  handlers.NewTargetHandler(monitor, "", time.Second, logger),
		WorkerHandler:  handlers.NewWorkerHandler(monitor, h, idleRecycler{}, time.Second, logger),
		WSHandler:      handlers.NewWebSocketHandler(h, "instance-1", logger, &config.WebSocket),
	}
	return New(application), h
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
	return rec
}

func TestRoutes(t *testing.T) {
	s, h := newTestServer(t)

	tests := []struct {
		method string
		path   string
		body   string
		code   int
	}{
		{"GET", "/api/health", "", http.StatusOK},
		{"GET", "/api/version", "", http.StatusOK},
		{"GET", "/api/config", "", http.StatusOK},
		{"GET", "/api/arrivals", "", http.StatusOK},
		{"GET", "/api/arrivals/bus-1", "", http.StatusNotFound},
		{"GET", "/api/bustimes", "", http.StatusOK},
		{"GET", "/api/targets", "", http.StatusOK},
		{"DELETE", "/api/targets", "", http.StatusMethodNotAllowed},
		{"GET", "/api/worker", "", http.StatusOK},
		{"GET", "/api/worker/relaunch", "", http.StatusMethodNotAllowed},
		{"GET", "/api/nope", "", http.StatusNotFound},
		{"GET", "/metrics", "", http.StatusOK},
		{"OPTIONS", "/api/targets", "", http.StatusOK},
		{"PUT", "/api/targets", `[{"id":"bus-7","line":"561","stop":"50782"}]`, http.StatusAccepted},
	}
	for _, tt := range tests {
		rec := serve(s, tt.method, tt.path, tt.body)
		assert.Equal(t, tt.code, rec.Code, "%s %s", tt.method, tt.path)
	}

	assert.Equal(t, []string{"bus-7"}, models.TargetIDs(h.Targets()))
	assert.Equal(t, "GET, PUT", serve(s, "DELETE", "/api/targets", "").Header().Get("Allow"))

	rec := serve(s, "GET", "/api/health", "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestShutdownHandler(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(s, "POST", "/api/shutdown", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code, "no channel wired")

	ch := make(chan struct{})
	s.SetShutdownChannel(ch)

	assert.Equal(t, http.StatusMethodNotAllowed, serve(s, "GET", "/api/shutdown", "").Code)

	rec = serve(s, "POST", "/api/shutdown", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-ch:
	default:
		t.Fatal("shutdown channel not closed")
	}

	// A second request must not panic on the closed channel
	assert.Equal(t, http.StatusAccepted, serve(s, "POST", "/api/shutdown", "").Code)
}
