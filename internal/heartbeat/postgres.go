package heartbeat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"

	"github.com/haasonsaas/aria/pkg/models"
)

// PostgresStore persists heartbeats in the aria_data schema.
type PostgresStore struct {
	db  *sql.DB
	seq atomic.Int64

	stmtInsert *sql.Stmt
	stmtRecent *sql.Stmt
}

// NewPostgresStore creates a heartbeat store over an existing connection
// and seeds the beat counter from the highest persisted beat number.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}

	var err error
	s.stmtInsert, err = db.Prepare(`
		INSERT INTO aria_data.heartbeats (beat_number, job_name, status, details, executed_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert heartbeat: %w", err)
	}
	s.stmtRecent, err = db.Prepare(`
		SELECT beat_number, job_name, status, details, executed_at, duration_ms
		FROM aria_data.heartbeats
		ORDER BY beat_number DESC
		LIMIT $1
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare recent heartbeats: %w", err)
	}

	var max sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(beat_number) FROM aria_data.heartbeats`).Scan(&max); err != nil {
		return nil, fmt.Errorf("seed beat counter: %w", err)
	}
	if max.Valid {
		s.seq.Store(max.Int64)
	}
	return s, nil
}

// Close closes the prepared statements. The connection is owned by the
// caller.
func (s *PostgresStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{s.stmtInsert, s.stmtRecent} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, hb *models.Heartbeat) error {
	if hb == nil {
		return errors.New("heartbeat is required")
	}
	if hb.BeatNumber == 0 {
		hb.BeatNumber = s.seq.Add(1)
	}
	if hb.ExecutedAt.IsZero() {
		hb.ExecutedAt = time.Now()
	}
	details, err := json.Marshal(models.NormalizeHeartbeatDetails(hb.Details))
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	_, err = s.stmtInsert.ExecContext(ctx,
		hb.BeatNumber, hb.JobName, hb.Status, details, hb.ExecutedAt, hb.DurationMs)
	if err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]*models.Heartbeat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.stmtRecent.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent heartbeats: %w", err)
	}
	defer rows.Close()

	var out []*models.Heartbeat
	for rows.Next() {
		var (
			hb      models.Heartbeat
			details []byte
		)
		if err := rows.Scan(&hb.BeatNumber, &hb.JobName, &hb.Status, &details,
			&hb.ExecutedAt, &hb.DurationMs); err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &hb.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		out = append(out, &hb)
	}
	return out, rows.Err()
}
