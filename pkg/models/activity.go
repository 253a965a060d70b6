package models

import (
	"sort"
	"time"
)

// ActivityEntry is one append-only action log row.
type ActivityEntry struct {
	Action       string         `json:"action"`
	Skill        string         `json:"skill,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// GoalStatus is the lifecycle state of a goal.
type GoalStatus string

const (
	GoalActive GoalStatus = "active"
	GoalPaused GoalStatus = "paused"
	GoalDone   GoalStatus = "done"
)

// Goal is a persisted objective the work cycle makes progress on.
type Goal struct {
	ID          string     `json:"goal_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    int        `json:"priority"`
	Status      GoalStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SortGoals orders goals by descending priority (higher number first) with
// descending CreatedAt as tiebreaker. Every view that ranks goals — the
// list endpoint and prompt assembly alike — must use this one ordering.
func SortGoals(goals []*Goal) {
	sort.SliceStable(goals, func(i, j int) bool {
		if goals[i].Priority != goals[j].Priority {
			return goals[i].Priority > goals[j].Priority
		}
		return goals[i].CreatedAt.After(goals[j].CreatedAt)
	})
}
