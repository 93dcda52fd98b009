// Package ingest pulls external signals (email, calendar, task tracker)
// into the repository behind per-source watermarks.
package ingest

import (
	"context"
	"time"

	"github.com/northhollow/keel/pkg/types"
)

// RawItem is one record as a collector fetched it, before normalization
type RawItem struct {
	ExternalID string
	Summary    string
	Payload    string
	OccurredAt time.Time

	// Tracker-only fields. Collectors for other sources leave them zero.
	TaskName   string
	TaskStatus string
	Deadline   *time.Time
}

// Collector fetches new records from one external source. FetchSince is
// given the stored cursor (empty on first run) and returns the batch plus
// the cursor that covers it; the runner persists both atomically, so a
// collector never has to worry about redelivery.
type Collector interface {
	Source() types.Source
	FetchSince(ctx context.Context, cursor string) (items []RawItem, nextCursor string, err error)
}
