package models

import "time"

// JobAction is the canonical action key of a scheduled job.
type JobAction string

const (
	ActionWorkCycle       JobAction = "work_cycle"
	ActionHourlyGoalCheck JobAction = "hourly_goal_check"
	ActionSixHourReview   JobAction = "six_hour_review"
	ActionMorningCheckin  JobAction = "morning_checkin"
	ActionSocialPost      JobAction = "social_post"
	ActionTelegramPoll    JobAction = "telegram_poll"
	ActionHeartbeat       JobAction = "heartbeat"
)

// KnownActions lists every dispatchable action key.
var KnownActions = map[JobAction]bool{
	ActionWorkCycle:       true,
	ActionHourlyGoalCheck: true,
	ActionSixHourReview:   true,
	ActionMorningCheckin:  true,
	ActionSocialPost:      true,
	ActionTelegramPoll:    true,
	ActionHeartbeat:       true,
}

// JobRunStatus records how the last dispatch of a job ended.
type JobRunStatus string

const (
	JobRunOK       JobRunStatus = "ok"
	JobRunError    JobRunStatus = "error"
	JobRunSkipped  JobRunStatus = "skipped"
	JobRunDeadline JobRunStatus = "deadline_exceeded"
)

// SessionTarget determines which session a dispatched job runs in.
type SessionTarget string

const (
	// TargetShared runs the job in the agent's shared cron session.
	TargetShared SessionTarget = "shared"
	// TargetIsolated creates a fresh session per dispatch.
	TargetIsolated SessionTarget = "isolated"
	// TargetReuseByKey reuses a session keyed by the job name.
	TargetReuseByKey SessionTarget = "reuse-by-key"
)

// CronJob is a persisted scheduled job. NextRunAt is advanced by the tick
// loop whenever the job is dispatched.
type CronJob struct {
	ID             string         `json:"job_id"`
	Name           string         `json:"name"`
	Schedule       string         `json:"schedule_expression"`
	Action         JobAction      `json:"action"`
	Enabled        bool           `json:"enabled"`
	SessionTarget  SessionTarget  `json:"session_target,omitempty"`
	MaxDuration    time.Duration  `json:"max_duration_seconds,omitempty"`
	NextRunAt      time.Time      `json:"next_run_at"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	LastStatus     JobRunStatus   `json:"last_status,omitempty"`
	LastDurationMs int64          `json:"last_duration_ms,omitempty"`
	RunCount       int            `json:"run_count"`
	SuccessCount   int            `json:"success_count"`
	FailCount      int            `json:"fail_count"`
	Params         map[string]any `json:"params,omitempty"`
	CreatedAt      time.Time      `json:"created_at,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at,omitempty"`
}
