// Package events provides in-process event streaming for job and artifact
// lifecycle events.
package events

import "time"

// Type identifies the kind of event
type Type string

const (
	TypeJobCompleted        Type = "job.completed"
	TypeJobFailed           Type = "job.failed"
	TypeOverviewRegenerated Type = "overview.regenerated"
	TypeOverviewStale       Type = "overview.stale"
	TypeRankingUpdated      Type = "ranking.updated"
	TypeItemsIngested       Type = "items.ingested"
)

// Event is a single lifecycle notification. Data carries small, JSON-safe
// details (job name, goal id, counts), never raw payloads.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}
