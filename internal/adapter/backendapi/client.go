// Package backendapi is the HTTP client for the disaster data backend. It
// implements both the event source port and the four context-enrichment
// ports against the backend's REST API.
package backendapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/openrelief/responder/internal/config"
	"github.com/openrelief/responder/internal/domain"
	"github.com/openrelief/responder/internal/domain/disaster"
	"github.com/openrelief/responder/internal/domain/situation"
)

// Client talks to the backend data source over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client from the backend config.
func New(cfg config.Backend) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// GetDisasterData fetches the raw event for a disaster id.
func (c *Client) GetDisasterData(ctx context.Context, id string) (*disaster.Event, error) {
	var ev disaster.Event
	if err := c.getJSON(ctx, "/api/v1/disasters/"+id, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Ping checks backend reachability.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.TransientErr("backend ping", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return domain.TransientErr("backend ping", fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

// Geography resolves affected areas and safe locations for an event.
func (c *Client) Geography(ctx context.Context, ev *disaster.Event) (*situation.Geography, error) {
	var g situation.Geography
	if err := c.getJSON(ctx, "/api/v1/disasters/"+ev.ID+"/geography", &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Routes resolves evacuation route summaries for an event.
func (c *Client) Routes(ctx context.Context, ev *disaster.Event) ([]situation.Route, error) {
	var routes []situation.Route
	if err := c.getJSON(ctx, "/api/v1/disasters/"+ev.ID+"/routes", &routes); err != nil {
		return nil, err
	}
	return routes, nil
}

// Population resolves affected population figures for an event.
func (c *Client) Population(ctx context.Context, ev *disaster.Event) (*situation.Population, error) {
	var p situation.Population
	if err := c.getJSON(ctx, "/api/v1/disasters/"+ev.ID+"/population", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Resources resolves responder and shelter capacity for an event.
func (c *Client) Resources(ctx context.Context, ev *disaster.Event) (*situation.Resources, error) {
	var r situation.Resources
	if err := c.getJSON(ctx, "/api/v1/disasters/"+ev.ID+"/resources", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// getJSON issues a GET and decodes the response. A 404 maps to
// domain.ErrNotFound; transport faults and 5xx responses are transient.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return domain.SystemErr("backend request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.TransientErr("backend get "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("backend get %s: %w", path, domain.ErrNotFound)
	case resp.StatusCode >= 500:
		return domain.TransientErr("backend get "+path, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.DataErr("backend get "+path, fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.DataErr("backend decode "+path, err)
	}
	return nil
}
