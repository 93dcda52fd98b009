package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/northhollow/keel/internal/db"
	"github.com/northhollow/keel/internal/events"
	"github.com/northhollow/keel/pkg/types"
)

// Runner drives one collector: fetch past the watermark, normalize, store,
// advance the cursor. A run that stores items but crashes before the cursor
// moves is retried harmlessly, since duplicate items are ignored on insert.
type Runner struct {
	store     *db.Store
	collector Collector
	bus       *events.Bus
}

// NewRunner creates a runner for one source
func NewRunner(store *db.Store, collector Collector, bus *events.Bus) *Runner {
	return &Runner{store: store, collector: collector, bus: bus}
}

// Run performs one ingestion pass and returns the number of new items stored
func (r *Runner) Run(ctx context.Context) (int, error) {
	source := r.collector.Source()

	wm, err := r.store.GetWatermark(ctx, source)
	if err != nil {
		return 0, err
	}

	raw, nextCursor, err := r.collector.FetchSince(ctx, wm.Cursor)
	if err != nil {
		return 0, fmt.Errorf("ingesting %s: %w", source, err)
	}
	if len(raw) == 0 {
		log.Debug().Str("source", string(source)).Msg("nothing to ingest")
		return 0, nil
	}

	batch := make([]types.IngestedItem, 0, len(raw))
	for _, item := range raw {
		batch = append(batch, types.IngestedItem{
			Source:     source,
			ExternalID: item.ExternalID,
			Payload:    item.Payload,
			Summary:    item.Summary,
			OccurredAt: item.OccurredAt,
		})
	}

	inserted, err := r.store.AdvanceWatermark(ctx, source, nextCursor, batch)
	if err != nil {
		return 0, err
	}

	if source == types.SourceTracker {
		if err := r.syncTrackerTasks(ctx, raw); err != nil {
			return inserted, err
		}
	}

	log.Info().Str("source", string(source)).Int("fetched", len(raw)).
		Int("inserted", inserted).Msg("ingestion pass complete")
	if r.bus != nil && inserted > 0 {
		r.bus.Publish(events.TypeItemsIngested, map[string]any{
			"source": string(source), "inserted": inserted,
		})
	}
	return inserted, nil
}

// syncTrackerTasks mirrors tracker records into the task table. The tracker
// owns name, deadline and status for its tasks; priority and overrides stay
// under local control.
func (r *Runner) syncTrackerTasks(ctx context.Context, raw []RawItem) error {
	for _, item := range raw {
		name := strings.TrimSpace(item.TaskName)
		if name == "" {
			name = strings.TrimSpace(item.Summary)
		}
		if name == "" {
			continue
		}

		task := &types.Task{
			Name:        name,
			Description: item.Payload,
			Deadline:    item.Deadline,
			Source:      types.TaskSourceTracker,
			ExternalID:  item.ExternalID,
			Status:      trackerStatus(item.TaskStatus),
		}
		existing, err := r.store.FindTaskByExternalID(ctx, types.TaskSourceTracker, item.ExternalID)
		switch {
		case err == nil:
			task.ID = existing.ID
			task.GoalID = existing.GoalID // goal assignment is local, keep it
		case errors.Is(err, db.ErrNotFound):
			// new tracker task
		default:
			return err
		}
		if err := r.store.UpsertTask(ctx, task); err != nil {
			return fmt.Errorf("syncing tracker task %s: %w", item.ExternalID, err)
		}
	}
	return nil
}

func trackerStatus(s string) types.TaskStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "done", "closed", "completed", "resolved":
		return types.TaskStatusDone
	case "dismissed", "cancelled", "canceled", "wontfix":
		return types.TaskStatusDismissed
	default:
		return types.TaskStatusOpen
	}
}
