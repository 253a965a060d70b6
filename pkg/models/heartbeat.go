package models

import "time"

// HeartbeatStatus values emitted by the work cycle and job dispatches.
const (
	HeartbeatOK       = "ok"
	HeartbeatError    = "error"
	HeartbeatDegraded = "degraded"
)

// Heartbeat is one liveness record emitted per job dispatch or work cycle.
// Details is always stored as an object: scalar and list payloads are
// wrapped as {"raw": <value>} before persistence.
type Heartbeat struct {
	BeatNumber int64          `json:"beat_number"`
	JobName    string         `json:"job_name"`
	Status     string         `json:"status"`
	Details    map[string]any `json:"details,omitempty"`
	ExecutedAt time.Time      `json:"executed_at"`
	DurationMs int64          `json:"duration_ms"`
}

// NormalizeHeartbeatDetails coerces an arbitrary details payload to an
// object. Objects pass through verbatim (no double wrap); strings, lists,
// numbers, and any other scalar are wrapped under a "raw" key; nil yields
// an empty object.
func NormalizeHeartbeatDetails(details any) map[string]any {
	switch v := details.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		if v == nil {
			return map[string]any{}
		}
		return v
	default:
		return map[string]any{"raw": v}
	}
}
