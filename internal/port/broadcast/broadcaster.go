// Package broadcast defines the port for pushing live workflow updates to
// connected dashboard clients.
package broadcast

import (
	"context"
	"time"

	"github.com/openrelief/responder/internal/domain/workflow"
)

// Update is one live workflow state change.
type Update struct {
	DisasterID string         `json:"disaster_id"`
	Stage      workflow.Stage `json:"stage"`
	Degraded   bool           `json:"degraded,omitempty"`
	At         time.Time      `json:"at"`
}

// Broadcaster fans an update out to all connected clients. Implementations
// must never block the workflow goroutine on a slow client.
type Broadcaster interface {
	WorkflowUpdate(ctx context.Context, u Update)
}
