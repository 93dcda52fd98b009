package types

import "time"

// JobOutcome is the result of the most recent run of a scheduled job
type JobOutcome string

const (
	JobOutcomeNever JobOutcome = "never" // not run yet
	JobOutcomeOK    JobOutcome = "ok"
	JobOutcomeError JobOutcome = "error"
)

// JobState is a read-only snapshot of one scheduled job, exposed for the
// operations view. The scheduler is the single writer.
type JobState struct {
	Name        string        `json:"name"`
	Interval    time.Duration `json:"interval"`
	NextRun     time.Time     `json:"next_run"`
	Running     bool          `json:"running"`
	LastRun     time.Time     `json:"last_run"`
	LastOutcome JobOutcome    `json:"last_outcome"`
	LastError   string        `json:"last_error,omitempty"`
	Runs        int64         `json:"runs"`
	Failures    int64         `json:"failures"`
}
