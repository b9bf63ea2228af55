// Package logtool is the development delivery tool: it logs the alert and
// reports success. It is the default provider for every channel until a
// real provider is configured.
package logtool

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openrelief/responder/internal/port/dispatch"
)

const providerName = "log"

func init() {
	dispatch.Register(providerName, func(map[string]string) (dispatch.Tool, error) {
		return &Tool{}, nil
	})
}

// Tool logs alerts instead of delivering them.
type Tool struct{}

func (t *Tool) Name() string { return providerName }

func (t *Tool) Capabilities() dispatch.Capabilities {
	return dispatch.Capabilities{RichBody: true}
}

// Send logs the alert and acknowledges it with a synthetic provider ref.
func (t *Tool) Send(_ context.Context, p dispatch.Payload) (dispatch.Delivery, error) {
	slog.Info("alert (log tool)",
		"alert_id", p.AlertID,
		"disaster_id", p.DisasterID,
		"level", string(p.Level),
		"headline", p.Headline,
	)
	return dispatch.Delivery{ProviderRef: "log-" + uuid.NewString()}, nil
}
