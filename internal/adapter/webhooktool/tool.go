// Package webhooktool delivers alerts to an incoming-webhook endpoint
// (chat bridges, paging relays, municipal alerting gateways).
package webhooktool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/openrelief/responder/internal/domain"
	"github.com/openrelief/responder/internal/domain/alert"
	"github.com/openrelief/responder/internal/port/dispatch"
)

const providerName = "webhook"

func init() {
	dispatch.Register(providerName, func(config map[string]string) (dispatch.Tool, error) {
		return New(config["url"]), nil
	})
}

// Tool posts alerts to a webhook URL as a JSON document.
type Tool struct {
	url        string
	httpClient *http.Client
}

// New creates a webhook tool for the given URL.
func New(url string) *Tool {
	return &Tool{
		url:        url,
		httpClient: http.DefaultClient,
	}
}

func (t *Tool) Name() string { return providerName }

func (t *Tool) Capabilities() dispatch.Capabilities {
	return dispatch.Capabilities{RichBody: true}
}

// webhookMessage is the wire document posted to the endpoint.
type webhookMessage struct {
	AlertID    string            `json:"alert_id"`
	DisasterID string            `json:"disaster_id"`
	Level      string            `json:"level"`
	Title      string            `json:"title"`
	Text       string            `json:"text"`
	Color      int               `json:"color"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (t *Tool) Send(ctx context.Context, p dispatch.Payload) (dispatch.Delivery, error) {
	if t.url == "" {
		return dispatch.Delivery{}, dispatch.ErrNotConfigured
	}

	msg := webhookMessage{
		AlertID:    p.AlertID,
		DisasterID: p.DisasterID,
		Level:      string(p.Level),
		Title:      p.Headline,
		Text:       p.Body,
		Color:      levelColor(p.Level),
		Metadata:   p.Metadata,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return dispatch.Delivery{}, fmt.Errorf("webhook marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return dispatch.Delivery{}, fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return dispatch.Delivery{}, domain.TransientErr("webhook send", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return dispatch.Delivery{}, domain.TransientErr("webhook send",
			fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return dispatch.Delivery{}, domain.ToolUnavailableErr("webhook send",
			fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}

	return dispatch.Delivery{ProviderRef: resp.Header.Get("X-Request-Id")}, nil
}

// levelColor maps priority levels to display colors for chat-style sinks.
func levelColor(level alert.Level) int {
	switch level {
	case alert.LevelCritical:
		return 0xE74C3C // red
	case alert.LevelHigh:
		return 0xF39C12 // orange
	case alert.LevelMedium:
		return 0xF1C40F // yellow
	default:
		return 0x3498DB // blue
	}
}
