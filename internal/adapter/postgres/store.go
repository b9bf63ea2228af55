package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openrelief/responder/internal/domain"
	"github.com/openrelief/responder/internal/domain/workflow"
)

// Store implements archive.Store using PostgreSQL. The full record is kept
// as JSONB; the columns mirror the fields the queries filter and sort on.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// SaveRecord upserts one terminal workflow record.
func (s *Store) SaveRecord(ctx context.Context, rec *workflow.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO workflow_records (workflow_id, disaster_id, stage, degraded, record, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (workflow_id) DO UPDATE
		 SET stage = EXCLUDED.stage, degraded = EXCLUDED.degraded,
		     record = EXCLUDED.record, completed_at = EXCLUDED.completed_at`,
		rec.WorkflowID, rec.DisasterID, string(rec.Stage), rec.Degraded, data, rec.CreatedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.WorkflowID, err)
	}
	return nil
}

// GetRecord returns the most recent archived record for a disaster id.
func (s *Store) GetRecord(ctx context.Context, disasterID string) (*workflow.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT record FROM workflow_records
		 WHERE disaster_id = $1 ORDER BY created_at DESC LIMIT 1`, disasterID)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get record %s: %w", disasterID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get record %s: %w", disasterID, err)
	}

	var rec workflow.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", disasterID, err)
	}
	return &rec, nil
}

// ListRecords returns up to limit records, newest first.
func (s *Store) ListRecords(ctx context.Context, limit int) ([]*workflow.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM workflow_records ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*workflow.Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec workflow.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// DeleteOlderThan removes records completed before cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM workflow_records WHERE completed_at IS NOT NULL AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old records: %w", err)
	}
	return tag.RowsAffected(), nil
}
