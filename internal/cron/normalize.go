package cron

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/aria/pkg/models"
)

// ErrContract is returned when job input violates the creation contract.
var ErrContract = errors.New("invalid job input")

// knownJobKeys are the top-level keys the normalizer consumes. Anything
// else is preserved in the params bag rather than dropped.
var knownJobKeys = map[string]bool{
	"id":                   true,
	"name":                 true,
	"action":               true,
	"type":                 true,
	"enabled":              true,
	"schedule":             true,
	"session_target":       true,
	"max_duration_seconds": true,
	"params":               true,
}

// NormalizeJobInput coerces raw job input into a CronJob.
//
// The canonical action key is "action"; the legacy alias "type" is
// accepted and folded in. Input carrying neither fails the creation
// contract. Unknown top-level keys are kept in Params with a warning so
// older callers lose nothing silently.
func NormalizeJobInput(raw map[string]any) (*models.CronJob, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: job input is required", ErrContract)
	}
	base := unwrapJob(raw)
	logger := slog.Default().With("component", "cron")

	job := &models.CronJob{
		Enabled:       true,
		SessionTarget: models.TargetShared,
		Params:        map[string]any{},
	}

	if id, ok := base["id"].(string); ok {
		job.ID = strings.TrimSpace(id)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if name, ok := base["name"].(string); ok {
		job.Name = strings.TrimSpace(name)
	}

	action := strings.TrimSpace(stringValue(base["action"]))
	if action == "" {
		// Legacy callers send the action under "type".
		action = strings.TrimSpace(stringValue(base["type"]))
	}
	if action == "" {
		return nil, fmt.Errorf("%w: action (or type) is required", ErrContract)
	}
	job.Action = models.JobAction(action)
	if !models.KnownActions[job.Action] {
		logger.Warn("job created with unknown action", "job_id", job.ID, "action", action)
	}

	schedule := strings.TrimSpace(stringValue(base["schedule"]))
	if schedule == "" {
		return nil, fmt.Errorf("%w: schedule is required", ErrContract)
	}
	if _, err := ParseSchedule(schedule); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContract, err)
	}
	job.Schedule = schedule

	if enabled, ok := base["enabled"].(bool); ok {
		job.Enabled = enabled
	} else if enabledStr, ok := base["enabled"].(string); ok {
		switch strings.ToLower(strings.TrimSpace(enabledStr)) {
		case "true":
			job.Enabled = true
		case "false":
			job.Enabled = false
		}
	}

	if target, ok := base["session_target"].(string); ok {
		switch models.SessionTarget(strings.TrimSpace(target)) {
		case models.TargetShared, models.TargetIsolated, models.TargetReuseByKey:
			job.SessionTarget = models.SessionTarget(strings.TrimSpace(target))
		case "":
		default:
			return nil, fmt.Errorf("%w: unknown session_target %q", ErrContract, target)
		}
	}

	switch v := base["max_duration_seconds"].(type) {
	case float64:
		job.MaxDuration = time.Duration(v * float64(time.Second))
	case int:
		job.MaxDuration = time.Duration(v) * time.Second
	case int64:
		job.MaxDuration = time.Duration(v) * time.Second
	}

	if params, ok := base["params"].(map[string]any); ok {
		for k, v := range params {
			job.Params[k] = v
		}
	}
	for key, value := range base {
		if knownJobKeys[key] {
			continue
		}
		logger.Warn("unknown job key preserved in params", "job_id", job.ID, "key", key)
		job.Params[key] = value
	}

	return job, nil
}

// unwrapJob extracts the job data from a potentially wrapped input.
func unwrapJob(raw map[string]any) map[string]any {
	if data, ok := raw["data"].(map[string]any); ok {
		return data
	}
	if job, ok := raw["job"].(map[string]any); ok {
		return job
	}
	return raw
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
