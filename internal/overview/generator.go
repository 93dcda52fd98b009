// Package overview regenerates per-goal status overviews from assembled
// context and reasoning engine output.
package overview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/northhollow/keel/internal/bundle"
	"github.com/northhollow/keel/internal/db"
	"github.com/northhollow/keel/internal/events"
	"github.com/northhollow/keel/internal/reasoning"
	"github.com/northhollow/keel/pkg/types"
)

// batchConcurrency bounds how many goals regenerate at once. Reasoning calls
// dominate the cost, so the limit mostly protects the engine's rate budget.
const batchConcurrency = 2

// Reasoner is the slice of the reasoning client the generator needs
type Reasoner interface {
	Reason(ctx context.Context, bundle *types.ContextBundle, kind reasoning.TemplateKind) (*reasoning.StructuredResult, error)
}

// Generator produces and maintains status overviews. It is the exclusive
// owner of the status_overviews table.
type Generator struct {
	store    *db.Store
	builder  *bundle.Builder
	reasoner Reasoner
	bus      *events.Bus
}

// New creates a generator
func New(store *db.Store, builder *bundle.Builder, reasoner Reasoner, bus *events.Bus) *Generator {
	return &Generator{store: store, builder: builder, reasoner: reasoner, bus: bus}
}

// Regenerate rebuilds the overview for one goal. On success the previous
// overview is replaced in place and newly derived subtasks are persisted as
// tasks. On reasoning failure the previous overview is kept and marked
// stale; last-known-good content beats an empty state.
func (g *Generator) Regenerate(ctx context.Context, goalID string) error {
	ctxBundle, err := g.builder.BuildGoalContext(ctx, goalID)
	if err != nil {
		return fmt.Errorf("building context for goal %s: %w", goalID, err)
	}

	result, err := g.reasoner.Reason(ctx, ctxBundle, reasoning.TemplateStatusOverview)
	if err != nil {
		g.recordFailure(ctx, goalID, err)
		return err
	}

	ov := result.Overview
	subtaskIDs, err := g.persistSubtasks(ctx, goalID, ctxBundle.Tasks, ov.Subtasks)
	if err != nil {
		return err
	}

	row := &types.StatusOverview{
		GoalID:      goalID,
		Summary:     ov.Summary,
		Progress:    clampProgress(ov.Progress),
		Obstacles:   ov.Obstacles,
		SubtaskIDs:  subtaskIDs,
		GeneratedAt: time.Now(),
		Status:      types.OverviewStatusOK,
	}
	if err := g.store.UpsertStatusOverview(ctx, row); err != nil {
		return err
	}

	log.Info().Str("goal_id", goalID).Int("progress", row.Progress).
		Int("subtasks", len(subtaskIDs)).Msg("status overview regenerated")
	g.publish(events.TypeOverviewRegenerated, map[string]any{
		"goal_id": goalID, "progress": row.Progress, "subtasks": len(subtaskIDs),
	})
	return nil
}

// GoalOutcome records the result of one goal within a batch run
type GoalOutcome struct {
	GoalID string
	Err    error
}

// RegenerateAll regenerates every goal's overview independently. One goal's
// failure never aborts the rest; the returned error summarizes failures
// after the whole batch has run.
func (g *Generator) RegenerateAll(ctx context.Context) ([]GoalOutcome, error) {
	goals, err := g.store.ListGoals(ctx)
	if err != nil {
		return nil, err
	}

	outcomes := make([]GoalOutcome, len(goals))
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(batchConcurrency)

	for i, goal := range goals {
		grp.Go(func() error {
			err := g.Regenerate(gctx, goal.ID)
			outcomes[i] = GoalOutcome{GoalID: goal.ID, Err: err}
			if err != nil {
				log.Warn().Err(err).Str("goal_id", goal.ID).Msg("overview regeneration failed")
			}
			// failures are recorded per goal, never propagated: returning
			// an error here would cancel the sibling goals
			return nil
		})
	}
	_ = grp.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return outcomes, fmt.Errorf("%d of %d overviews failed", failed, len(goals))
	}
	return outcomes, nil
}

// persistSubtasks stores derived subtasks as new tasks, skipping names that
// already exist as open tasks on the goal.
func (g *Generator) persistSubtasks(ctx context.Context, goalID string, existing []types.Task, subtasks []reasoning.Subtask) ([]string, error) {
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[strings.ToLower(strings.TrimSpace(t.Name))] = true
	}

	var ids []string
	for _, st := range subtasks {
		name := strings.TrimSpace(st.Name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		task := &types.Task{
			GoalID:      goalID,
			Name:        name,
			Description: st.Description,
			Source:      types.TaskSourceOverview,
			Status:      types.TaskStatusOpen,
		}
		if err := g.store.UpsertTask(ctx, task); err != nil {
			return nil, fmt.Errorf("persisting derived subtask %q: %w", name, err)
		}
		seen[strings.ToLower(name)] = true
		ids = append(ids, task.ID)
	}
	return ids, nil
}

// recordFailure marks the prior overview stale, or writes a failed
// placeholder for goals that never had one.
func (g *Generator) recordFailure(ctx context.Context, goalID string, cause error) {
	err := g.store.MarkOverviewStale(ctx, goalID)
	if errors.Is(err, db.ErrNotFound) {
		err = g.store.UpsertStatusOverview(ctx, &types.StatusOverview{
			GoalID:      goalID,
			GeneratedAt: time.Now(),
			Status:      types.OverviewStatusFailed,
		})
	}
	if err != nil {
		log.Error().Err(err).Str("goal_id", goalID).Msg("recording overview failure")
		return
	}

	log.Warn().Err(cause).Str("goal_id", goalID).Msg("overview kept stale after reasoning failure")
	g.publish(events.TypeOverviewStale, map[string]any{"goal_id": goalID})
}

func (g *Generator) publish(typ events.Type, data map[string]any) {
	if g.bus != nil {
		g.bus.Publish(typ, data)
	}
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
