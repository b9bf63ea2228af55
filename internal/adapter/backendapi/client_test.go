package backendapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openrelief/responder/internal/config"
	"github.com/openrelief/responder/internal/domain"
	"github.com/openrelief/responder/internal/domain/disaster"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.Backend{BaseURL: srv.URL, Timeout: time.Second})
}

func TestGetDisasterData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/disasters/dx-7" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "dx-7", "version": 1, "kind": "flood", "severity": "high",
			"location": {"latitude": 23.8, "longitude": 90.4},
			"occurred_at": "2026-03-01T12:00:00Z"
		}`))
	})

	ev, err := c.GetDisasterData(context.Background(), "dx-7")
	if err != nil {
		t.Fatalf("GetDisasterData: %v", err)
	}
	if ev.ID != "dx-7" || ev.Kind != "flood" {
		t.Fatalf("event = %+v", ev)
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("decoded event invalid: %v", err)
	}
}

func TestGetDisasterDataNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such disaster", http.StatusNotFound)
	})

	_, err := c.GetDisasterData(context.Background(), "dx-missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.GetDisasterData(context.Background(), "dx-7")
	if domain.KindOf(err) != domain.KindTransient {
		t.Fatalf("kind = %s, want transient", domain.KindOf(err))
	}
}

func TestMalformedBodyIsDataError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{truncated`))
	})

	_, err := c.GetDisasterData(context.Background(), "dx-7")
	if domain.KindOf(err) != domain.KindData {
		t.Fatalf("kind = %s, want data", domain.KindOf(err))
	}
}

func TestEnrichmentLookups(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/disasters/dx-7/geography":
			_, _ = w.Write([]byte(`{"affected_areas": [], "terrain_difficulty": 0.4}`))
		case "/api/v1/disasters/dx-7/routes":
			_, _ = w.Write([]byte(`[{"id": "r1", "capacity": 5000}]`))
		case "/api/v1/disasters/dx-7/population":
			_, _ = w.Write([]byte(`{"total": 120000, "vulnerable": 9000}`))
		case "/api/v1/disasters/dx-7/resources":
			_, _ = w.Write([]byte(`{"shelters": 14}`))
		default:
			http.NotFound(w, r)
		}
	})

	ev, ctx := eventForTest(), context.Background()

	g, err := c.Geography(ctx, ev)
	if err != nil || g.TerrainDifficulty != 0.4 {
		t.Fatalf("Geography = %+v, %v", g, err)
	}
	routes, err := c.Routes(ctx, ev)
	if err != nil || len(routes) != 1 || routes[0].Capacity != 5000 {
		t.Fatalf("Routes = %+v, %v", routes, err)
	}
	pop, err := c.Population(ctx, ev)
	if err != nil || pop.Total != 120000 {
		t.Fatalf("Population = %+v, %v", pop, err)
	}
	res, err := c.Resources(ctx, ev)
	if err != nil || res.Shelters != 14 {
		t.Fatalf("Resources = %+v, %v", res, err)
	}
}

func TestPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func eventForTest() *disaster.Event {
	return &disaster.Event{ID: "dx-7"}
}
