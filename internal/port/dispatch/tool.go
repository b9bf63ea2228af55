// Package dispatch defines the delivery tool port (interface) and registry.
package dispatch

import (
	"context"
	"errors"

	"github.com/openrelief/responder/internal/domain/alert"
)

// ErrNotConfigured is returned when a tool is missing required configuration.
var ErrNotConfigured = errors.New("dispatch: tool not configured")

// Payload is the formatted alert handed to a tool. Tools must not assume
// any particular transport; they receive the schema-neutral payload and
// map it onto their own wire format.
type Payload struct {
	AlertID    string            `json:"alert_id"`
	DisasterID string            `json:"disaster_id"`
	Level      alert.Level       `json:"level"`
	Headline   string            `json:"headline"`
	Body       string            `json:"body"`
	Recipients []string          `json:"recipients,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Delivery is the provider-side acknowledgment of a successful send.
type Delivery struct {
	ProviderRef string `json:"provider_ref,omitempty"`
}

// Capabilities declares which features a tool supports.
type Capabilities struct {
	RichBody         bool `json:"rich_body"`
	DeliveryReceipts bool `json:"delivery_receipts"`
}

// Tool is the port interface for one delivery channel implementation.
type Tool interface {
	// Name returns the provider identifier (e.g. "webhook", "mcp", "log").
	Name() string

	// Capabilities returns what this tool supports.
	Capabilities() Capabilities

	// Send delivers one alert. The context carries the per-attempt timeout.
	Send(ctx context.Context, p Payload) (Delivery, error)
}
