// Package prioritize computes the global task priority ranking from weighted
// goal-importance, deadline-urgency and wellbeing signals.
package prioritize

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/northhollow/keel/internal/bundle"
	"github.com/northhollow/keel/internal/config"
	"github.com/northhollow/keel/internal/db"
	"github.com/northhollow/keel/internal/events"
	"github.com/northhollow/keel/internal/reasoning"
	"github.com/northhollow/keel/pkg/types"
)

const (
	// neutralGoalImportance is used for tasks not attached to any goal
	neutralGoalImportance = 5.0
	// neutralWellbeing is assumed when the reasoning engine is unavailable
	neutralWellbeing = 5.0
	// noDeadlineUrgency is the fixed low-urgency baseline for tasks
	// without a deadline
	noDeadlineUrgency = 2.0
	// maxUrgency caps overdue tasks; urgency does not grow further past due
	maxUrgency = 10.0
)

// Reasoner is the slice of the reasoning client the engine needs
type Reasoner interface {
	Reason(ctx context.Context, bundle *types.ContextBundle, kind reasoning.TemplateKind) (*reasoning.StructuredResult, error)
}

// RankedTask is one entry of the produced ranking
type RankedTask struct {
	Task  types.Task
	Score float64
}

// Engine computes and persists the global task ranking
type Engine struct {
	store    *db.Store
	builder  *bundle.Builder
	reasoner Reasoner
	weights  config.Weights
	bus      *events.Bus
	now      func() time.Time
}

// New creates an engine with the configured signal weights
func New(store *db.Store, builder *bundle.Builder, reasoner Reasoner, weights config.Weights, bus *events.Bus) *Engine {
	return &Engine{
		store:    store,
		builder:  builder,
		reasoner: reasoner,
		weights:  weights,
		bus:      bus,
		now:      time.Now,
	}
}

// Reprioritize recomputes the priority of every open, non-overridden task
// and returns the full ranking (overridden tasks included, at their pinned
// values). The wellbeing signal comes from the reasoning engine; when that
// is unavailable the ranking still completes on the two deterministic
// signals plus a neutral default.
func (e *Engine) Reprioritize(ctx context.Context) ([]RankedTask, error) {
	tasks, err := e.store.ListOpenTasks(ctx)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	goals, err := e.store.ListGoals(ctx)
	if err != nil {
		return nil, err
	}
	goalPriority := make(map[string]float64, len(goals))
	for _, g := range goals {
		goalPriority[g.ID] = g.Priority
	}

	wellbeing := e.wellbeingScores(ctx)

	now := e.now()
	ranked := make([]RankedTask, 0, len(tasks))
	for _, t := range tasks {
		if t.Overridden {
			// pinned by the user; untouched until the override is cleared
			ranked = append(ranked, RankedTask{Task: t, Score: t.Priority})
			continue
		}

		score := e.composite(t, goalPriority, wellbeing, now)
		if err := e.store.SetTaskPriority(ctx, t.ID, score); err != nil {
			return nil, fmt.Errorf("persisting priority for task %s: %w", t.ID, err)
		}
		t.Priority = score
		ranked = append(ranked, RankedTask{Task: t, Score: score})
	}

	sortRanking(ranked)

	log.Info().Int("tasks", len(ranked)).Msg("task ranking updated")
	if e.bus != nil {
		e.bus.Publish(events.TypeRankingUpdated, map[string]any{"tasks": len(ranked)})
	}
	return ranked, nil
}

// composite blends the three signals into a 0-10 score
func (e *Engine) composite(t types.Task, goalPriority map[string]float64, wellbeing map[string]float64, now time.Time) float64 {
	goalScore := neutralGoalImportance
	if t.GoalID != "" {
		if p, ok := goalPriority[t.GoalID]; ok {
			goalScore = p
		}
	}

	wellbeingScore := neutralWellbeing
	if w, ok := wellbeing[t.ID]; ok {
		wellbeingScore = w
	}

	score := e.weights.Goal*goalScore +
		e.weights.Deadline*DeadlineUrgency(t.Deadline, now) +
		e.weights.Wellbeing*wellbeingScore
	return clamp(score, 0, 10)
}

// wellbeingScores runs the reasoning prioritization pass. Any failure
// degrades to an empty map (neutral defaults): a reasoning outage lowers
// ranking quality but never blocks the ranking.
func (e *Engine) wellbeingScores(ctx context.Context) map[string]float64 {
	if e.reasoner == nil {
		return nil
	}
	globalCtx, err := e.builder.BuildGlobalContext(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("building global context failed, using neutral wellbeing")
		return nil
	}
	result, err := e.reasoner.Reason(ctx, globalCtx, reasoning.TemplatePrioritization)
	if err != nil {
		log.Warn().Err(err).Msg("wellbeing signal unavailable, using neutral default")
		return nil
	}
	return result.Priority.WellbeingByTask()
}

// DeadlineUrgency maps deadline proximity to a 0-10 urgency. The curve is
// a stepped, monotonically increasing function of proximity: overdue and
// due-today tasks score the clamped maximum, and urgency falls off toward
// a floor of 1 past two weeks out. Tasks without a deadline get a fixed
// low-urgency baseline.
func DeadlineUrgency(deadline *time.Time, now time.Time) float64 {
	if deadline == nil {
		return noDeadlineUrgency
	}
	if !deadline.After(now) {
		return maxUrgency
	}

	days := int(deadline.Sub(now).Hours() / 24)
	switch {
	case days == 0:
		return maxUrgency
	case days <= 1:
		return 9
	case days <= 2:
		return 8
	case days <= 3:
		return 7
	case days <= 5:
		return 6
	case days <= 7:
		return 5
	case days <= 10:
		return 3
	case days <= 14:
		return 2
	default:
		return 1
	}
}

// sortRanking orders by descending score with a deterministic tie-break:
// earlier deadline first, then older creation time, then the stable input
// order (tasks arrive ordered by creation time and id).
func sortRanking(ranked []RankedTask) {
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if c := compareDeadlines(a.Task.Deadline, b.Task.Deadline); c != 0 {
			return c < 0
		}
		if !a.Task.CreatedAt.Equal(b.Task.CreatedAt) {
			return a.Task.CreatedAt.Before(b.Task.CreatedAt)
		}
		return false // stable sort keeps input order
	})
}

// compareDeadlines orders earlier deadlines first; a missing deadline sorts
// after any present one.
func compareDeadlines(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case b.Before(*a):
		return 1
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
