// Package heartbeat persists liveness records. Every job dispatch and work
// cycle emits one heartbeat row; the admin surface reads them back for
// status reporting.
package heartbeat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/haasonsaas/aria/pkg/models"
)

// Store persists and reads heartbeat rows. Record also satisfies the
// scheduler's heartbeat recorder.
type Store interface {
	Record(ctx context.Context, hb *models.Heartbeat) error
	Recent(ctx context.Context, limit int) ([]*models.Heartbeat, error)
}

// NewBeat builds a heartbeat, normalizing details per the heartbeat
// contract: objects pass through, strings/lists/numbers are wrapped as
// {"raw": <value>}, nil becomes an empty object.
func NewBeat(jobName, status string, details any) *models.Heartbeat {
	return &models.Heartbeat{
		JobName: jobName,
		Status:  status,
		Details: models.NormalizeHeartbeatDetails(details),
	}
}

// memoryCap bounds the in-memory ring.
const memoryCap = 1000

// MemoryStore is an in-memory heartbeat store for tests and ephemeral runs.
type MemoryStore struct {
	mu    sync.Mutex
	beats []*models.Heartbeat
	seq   int64
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// SetNowFunc overrides the clock. For tests.
func (m *MemoryStore) SetNowFunc(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Record stores one heartbeat, assigning a beat number and timestamp when
// the caller left them zero.
func (m *MemoryStore) Record(ctx context.Context, hb *models.Heartbeat) error {
	if hb == nil {
		return errors.New("heartbeat is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *hb
	if clone.BeatNumber == 0 {
		m.seq++
		clone.BeatNumber = m.seq
	} else if clone.BeatNumber > m.seq {
		m.seq = clone.BeatNumber
	}
	if clone.ExecutedAt.IsZero() {
		clone.ExecutedAt = m.now()
	}
	if clone.Details == nil {
		clone.Details = map[string]any{}
	}

	m.beats = append(m.beats, &clone)
	if len(m.beats) > memoryCap {
		m.beats = m.beats[len(m.beats)-memoryCap:]
	}
	hb.BeatNumber = clone.BeatNumber
	return nil
}

// Recent returns up to limit heartbeats, newest first.
func (m *MemoryStore) Recent(ctx context.Context, limit int) ([]*models.Heartbeat, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Heartbeat, 0, limit)
	for i := len(m.beats) - 1; i >= 0 && len(out) < limit; i-- {
		clone := *m.beats[i]
		out = append(out, &clone)
	}
	return out, nil
}
