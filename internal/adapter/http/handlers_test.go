package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/openrelief/responder/internal/config"
	"github.com/openrelief/responder/internal/domain"
	"github.com/openrelief/responder/internal/domain/disaster"
	"github.com/openrelief/responder/internal/domain/situation"
	"github.com/openrelief/responder/internal/domain/workflow"
	"github.com/openrelief/responder/internal/port/dispatch"
	"github.com/openrelief/responder/internal/port/enrich"
	"github.com/openrelief/responder/internal/service"
)

type stubSource struct {
	events map[string]*disaster.Event
}

func (s *stubSource) GetDisasterData(_ context.Context, id string) (*disaster.Event, error) {
	ev, ok := s.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return ev, nil
}

func (s *stubSource) Ping(context.Context) error { return nil }

type stubGeo struct{}

func (stubGeo) Geography(context.Context, *disaster.Event) (*situation.Geography, error) {
	return &situation.Geography{TerrainDifficulty: 0.3}, nil
}

type stubRoutes struct{}

func (stubRoutes) Routes(context.Context, *disaster.Event) ([]situation.Route, error) {
	return []situation.Route{{ID: "r1", Capacity: 4000}}, nil
}

type stubPopulation struct{}

func (stubPopulation) Population(context.Context, *disaster.Event) (*situation.Population, error) {
	return &situation.Population{Total: 30000, Vulnerable: 2500}, nil
}

type stubResources struct{}

func (stubResources) Resources(context.Context, *disaster.Event) (*situation.Resources, error) {
	return &situation.Resources{Shelters: 8}, nil
}

type okTool struct{}

func (okTool) Name() string                        { return "log" }
func (okTool) Capabilities() dispatch.Capabilities { return dispatch.Capabilities{} }
func (okTool) Send(context.Context, dispatch.Payload) (dispatch.Delivery, error) {
	return dispatch.Delivery{ProviderRef: "ref-1"}, nil
}

func apiEvent() *disaster.Event {
	return &disaster.Event{
		ID:         "dx-7",
		Kind:       disaster.KindFlood,
		Severity:   disaster.SeverityHigh,
		Location:   disaster.Location{Latitude: 23.8, Longitude: 90.4},
		OccurredAt: time.Now().Add(-5 * time.Minute),
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.Defaults()
	cfg.Backend.Timeout = 100 * time.Millisecond
	cfg.Backend.MaxRetries = 1
	cfg.Agent.StageTimeout = 2 * time.Second
	cfg.Enrich.LookupTimeout = time.Second
	cfg.Dispatch.RetryBase = time.Millisecond

	monitor, err := service.NewMonitor(noop.NewMeterProvider().Meter("test"), 10)
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	prioritizer, err := service.NewPrioritizer(cfg.Priority)
	if err != nil {
		t.Fatalf("NewPrioritizer: %v", err)
	}

	services := enrich.Services{
		Geo:        stubGeo{},
		Routes:     stubRoutes{},
		Population: stubPopulation{},
		Resources:  stubResources{},
	}
	dispatcher := service.NewDispatcher([]service.Channel{
		{Name: "voice", Tool: okTool{}},
		{Name: "sms", Tool: okTool{}},
		{Name: "push", Tool: okTool{}},
		{Name: "email", Tool: okTool{}},
	}, cfg.Dispatch, cfg.Breaker)

	agent := service.NewAgent(context.Background(), cfg, service.Deps{
		Source:      &stubSource{events: map[string]*disaster.Event{"dx-7": apiEvent()}},
		Builder:     service.NewContextBuilder(services, cfg.Enrich),
		Prioritizer: prioritizer,
		Dispatcher:  dispatcher,
		Monitor:     monitor,
	}, nil)

	r := chi.NewRouter()
	MountRoutes(r, &Handlers{Agent: agent, Monitor: monitor})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestTriggerAcceptedAndStatusReachesCompleted(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/disasters/dx-7/trigger", "application/json", nil)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	accepted := decode[triggerResponse](t, resp)
	if accepted.WorkflowID == "" {
		t.Fatal("expected a workflow id")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(srv.URL + "/api/v1/disasters/dx-7/status")
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		wr := decode[workflow.Response](t, resp)
		if wr.Stage.Terminal() {
			if wr.Stage != workflow.StageCompleted {
				t.Fatalf("stage = %s, want %s", wr.Stage, workflow.StageCompleted)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("workflow stuck in stage %s", wr.Stage)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTriggerUnknownDisasterAcceptedThenFails(t *testing.T) {
	srv := newTestServer(t)

	// The trigger surface acknowledges immediately; the unknown id surfaces
	// asynchronously as a FAILED record.
	resp, err := http.Post(srv.URL+"/api/v1/disasters/dx-missing/trigger", "application/json", nil)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	_ = resp.Body.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(srv.URL + "/api/v1/disasters/dx-missing/status")
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		wr := decode[workflow.Response](t, resp)
		if wr.Stage.Terminal() {
			if wr.Stage != workflow.StageFailed {
				t.Fatalf("stage = %s, want %s", wr.Stage, workflow.StageFailed)
			}
			if len(wr.Errors) == 0 {
				t.Fatal("expected the fetch failure in the error history")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("workflow stuck in stage %s", wr.Stage)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProcessEventSynchronous(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(apiEvent())
	resp, err := http.Post(srv.URL+"/api/v1/disasters/events", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("process event: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	wr := decode[workflow.Response](t, resp)
	if wr.Stage != workflow.StageCompleted {
		t.Fatalf("stage = %s, want %s", wr.Stage, workflow.StageCompleted)
	}
	if wr.Priority == nil || wr.Outcome == nil {
		t.Fatal("expected priority and outcome in response")
	}
}

func TestProcessEventRejectsInvalidPayload(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/disasters/events", "application/json", strings.NewReader(`{"id":""}`))
	if err != nil {
		t.Fatalf("process event: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBatchRequiresDisasterIDs(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/disasters/batch", "application/json", strings.NewReader(`{"disaster_ids":[]}`))
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStatusUnknownReturns404(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/disasters/dx-unknown/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRecordsWithoutArchiveReturns503(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/records")
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestMonitoringSnapshot(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(apiEvent())
	resp, err := http.Post(srv.URL+"/api/v1/disasters/events", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("process event: %v", err)
	}
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/v1/monitoring")
	if err != nil {
		t.Fatalf("monitoring: %v", err)
	}
	stats := decode[service.Stats](t, resp)
	if stats.Started < 1 || stats.Completed < 1 {
		t.Fatalf("stats = %+v, want at least one started and completed workflow", stats)
	}
}

func TestServiceStatusHealthy(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("service status: %v", err)
	}
	report := decode[service.ServiceReport](t, resp)
	if !report.Healthy {
		t.Fatalf("report = %+v, want healthy", report)
	}
	if !report.Degraded {
		t.Fatal("expected degraded report with archive and audit unconfigured")
	}
}
