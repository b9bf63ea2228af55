// Package archive defines the port for persisting terminal workflow records.
package archive

import (
	"context"
	"time"

	"github.com/openrelief/responder/internal/domain/workflow"
)

// Store persists workflow records after they reach a terminal stage so the
// monitoring surface can serve per-id history beyond the in-memory registry.
type Store interface {
	SaveRecord(ctx context.Context, rec *workflow.Record) error

	// GetRecord returns the most recent archived record for a disaster id.
	// Returns domain.ErrNotFound when none exists.
	GetRecord(ctx context.Context, disasterID string) (*workflow.Record, error)

	// ListRecords returns up to limit records, newest first.
	ListRecords(ctx context.Context, limit int) ([]*workflow.Record, error)

	// DeleteOlderThan removes records completed before cutoff and reports
	// how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
