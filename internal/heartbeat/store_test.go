package heartbeat

import (
	"context"
	"reflect"
	"testing"

	"github.com/haasonsaas/aria/pkg/models"
)

func TestNewBeatNormalizesDetails(t *testing.T) {
	tests := []struct {
		name    string
		details any
		want    map[string]any
	}{
		{"nil", nil, map[string]any{}},
		{"object verbatim", map[string]any{"cycle": 7}, map[string]any{"cycle": 7}},
		{"string wrapped", "all good", map[string]any{"raw": "all good"}},
		{"list wrapped", []any{"a", "b"}, map[string]any{"raw": []any{"a", "b"}}},
		{"number wrapped", 42.0, map[string]any{"raw": 42.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hb := NewBeat("work_cycle", models.HeartbeatOK, tt.details)
			if !reflect.DeepEqual(hb.Details, tt.want) {
				t.Errorf("details = %#v, want %#v", hb.Details, tt.want)
			}
		})
	}
}

func TestMemoryStoreAssignsBeatNumbers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		hb := NewBeat("pulse", models.HeartbeatOK, nil)
		if err := store.Record(ctx, hb); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if hb.BeatNumber != int64(i+1) {
			t.Errorf("beat number = %d, want %d", hb.BeatNumber, i+1)
		}
	}

	// Explicit beat numbers advance the counter.
	explicit := NewBeat("pulse", models.HeartbeatOK, nil)
	explicit.BeatNumber = 10
	if err := store.Record(ctx, explicit); err != nil {
		t.Fatalf("Record: %v", err)
	}
	next := NewBeat("pulse", models.HeartbeatOK, nil)
	if err := store.Record(ctx, next); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if next.BeatNumber != 11 {
		t.Errorf("beat number after explicit = %d, want 11", next.BeatNumber)
	}
}

func TestMemoryStoreRecentNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	statuses := []string{models.HeartbeatOK, models.HeartbeatError, models.HeartbeatDegraded}
	for _, status := range statuses {
		if err := store.Record(ctx, NewBeat("pulse", status, nil)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent = %d rows, want 2", len(recent))
	}
	if recent[0].Status != models.HeartbeatDegraded || recent[1].Status != models.HeartbeatError {
		t.Errorf("order = %s, %s", recent[0].Status, recent[1].Status)
	}
}
