package types

import "time"

// Source identifies an external signal source
type Source string

const (
	SourceEmail    Source = "email"
	SourceCalendar Source = "calendar"
	SourceTracker  Source = "task-tracker"
)

// IngestedItem is a normalized external signal. The (Source, ExternalID) pair
// is unique; re-ingesting the same item is a no-op rather than a duplicate.
type IngestedItem struct {
	ID         string    `json:"id" db:"id"`
	Source     Source    `json:"source" db:"source"`
	ExternalID string    `json:"external_id" db:"external_id"`
	Payload    string    `json:"payload" db:"payload"` // raw record, opaque to the core
	Summary    string    `json:"summary" db:"summary"` // normalized one-line summary
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
	IngestedAt time.Time `json:"ingested_at" db:"ingested_at"`
}

// Watermark is the per-source ingestion cursor. It advances only after the
// batch it covers has been durably stored.
type Watermark struct {
	Source    Source    `json:"source" db:"source"`
	Cursor    string    `json:"cursor" db:"cursor"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ContextDocument is a user-maintained free-text document (biography,
// wellbeing priorities) snapshotted into reasoning contexts.
type ContextDocument struct {
	Kind      string    `json:"kind" db:"kind"`
	Content   string    `json:"content" db:"content"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

const (
	DocBiography           = "biography"
	DocWellbeingPriorities = "wellbeing_priorities"
)
