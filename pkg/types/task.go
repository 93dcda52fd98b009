package types

import "time"

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusOpen      TaskStatus = "open"
	TaskStatusDone      TaskStatus = "done"
	TaskStatusDismissed TaskStatus = "dismissed"
)

// TaskSource records where a task came from
type TaskSource string

const (
	TaskSourceManual   TaskSource = "manual"
	TaskSourceTracker  TaskSource = "task-tracker"
	TaskSourceOverview TaskSource = "derived-from-overview"
)

// Task is a unit of work, optionally attached to a goal. Priority is computed
// by the prioritization engine unless Overridden is set, in which case the
// user-supplied value persists until the override is explicitly cleared.
type Task struct {
	ID          string     `json:"id" db:"id"`
	GoalID      string     `json:"goal_id,omitempty" db:"goal_id"` // empty for unassigned tasks
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	Deadline    *time.Time `json:"deadline,omitempty" db:"deadline"`
	Source      TaskSource `json:"source" db:"source"`
	ExternalID  string     `json:"external_id,omitempty" db:"external_id"` // tracker id for synced tasks
	Priority    float64    `json:"priority" db:"priority"`                 // 0-10
	Overridden  bool       `json:"overridden" db:"overridden"`
	Status      TaskStatus `json:"status" db:"status"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Open reports whether the task is still actionable
func (t *Task) Open() bool {
	return t.Status == TaskStatusOpen
}
