package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/aria/pkg/models"
)

func newMockStore(t *testing.T, seed int64) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectPrepare("INSERT INTO aria_data.heartbeats")
	mock.ExpectPrepare("FROM aria_data.heartbeats")
	rows := sqlmock.NewRows([]string{"max"})
	if seed > 0 {
		rows.AddRow(seed)
	} else {
		rows.AddRow(nil)
	}
	mock.ExpectQuery("SELECT MAX\\(beat_number\\)").WillReturnRows(rows)

	store, err := NewPostgresStore(db)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	return store, mock
}

func TestPostgresRecordContinuesSequence(t *testing.T) {
	store, mock := newMockStore(t, 41)

	mock.ExpectExec("INSERT INTO aria_data.heartbeats").
		WithArgs(int64(42), "work_cycle", models.HeartbeatOK,
			[]byte(`{"cycle":7}`), sqlmock.AnyArg(), int64(120)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	hb := &models.Heartbeat{
		JobName:    "work_cycle",
		Status:     models.HeartbeatOK,
		Details:    map[string]any{"cycle": 7},
		DurationMs: 120,
	}
	if err := store.Record(context.Background(), hb); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if hb.BeatNumber != 42 {
		t.Errorf("beat number = %d, want 42", hb.BeatNumber)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresRecent(t *testing.T) {
	store, mock := newMockStore(t, 0)

	now := time.Now()
	mock.ExpectQuery("FROM aria_data.heartbeats").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{
			"beat_number", "job_name", "status", "details", "executed_at", "duration_ms",
		}).
			AddRow(int64(2), "pulse", models.HeartbeatDegraded, []byte(`{"raw":"llm circuit open"}`), now, int64(10)).
			AddRow(int64(1), "pulse", models.HeartbeatOK, []byte(`{}`), now.Add(-time.Minute), int64(12)))

	beats, err := store.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(beats) != 2 {
		t.Fatalf("beats = %d, want 2", len(beats))
	}
	if beats[0].Status != models.HeartbeatDegraded {
		t.Errorf("first status = %s", beats[0].Status)
	}
	if beats[0].Details["raw"] != "llm circuit open" {
		t.Errorf("details = %v", beats[0].Details)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
