// Package backend defines the port for the external disaster data source.
package backend

import (
	"context"

	"github.com/openrelief/responder/internal/domain/disaster"
)

// Source is the request-response contract with the backend data source.
type Source interface {
	// GetDisasterData fetches the raw event for a disaster id.
	// Returns domain.ErrNotFound when the id is unknown.
	GetDisasterData(ctx context.Context, id string) (*disaster.Event, error)

	// Ping checks reachability during startup capability probing.
	Ping(ctx context.Context) error
}
