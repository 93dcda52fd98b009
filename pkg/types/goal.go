// Package types defines core data structures for Keel
package types

import "time"

// GoalLevel distinguishes the two tiers of the goal model
type GoalLevel string

const (
	GoalLevelHigh    GoalLevel = "high"    // domain-spanning objective (career, family, ...)
	GoalLevelProject GoalLevel = "project" // concrete initiative under one high-level goal
)

// Goal represents a high-level or project-level goal
type Goal struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Level       GoalLevel `json:"level" db:"level"`
	ParentID    string    `json:"parent_id,omitempty" db:"parent_id"` // set only for project goals
	Priority    float64   `json:"priority" db:"priority"`             // 0-10, manually settable
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// OverviewStatus reflects the outcome of the last regeneration attempt
type OverviewStatus string

const (
	OverviewStatusOK     OverviewStatus = "ok"
	OverviewStatusStale  OverviewStatus = "stale"  // prior content retained after a failed refresh
	OverviewStatusFailed OverviewStatus = "failed" // no successful generation yet
)

// StatusOverview is the per-goal artifact produced by the overview generator.
// There is at most one row per goal; it is replaced in place on success and
// marked stale on failure so the last-known-good content stays readable.
type StatusOverview struct {
	GoalID      string         `json:"goal_id" db:"goal_id"`
	Summary     string         `json:"summary" db:"summary"`
	Progress    int            `json:"progress" db:"progress"` // 0-100
	Obstacles   []string       `json:"obstacles"`
	SubtaskIDs  []string       `json:"subtask_ids"` // tasks derived from this overview
	GeneratedAt time.Time      `json:"generated_at" db:"generated_at"`
	Status      OverviewStatus `json:"status" db:"status"`
}
