// Package bundle assembles bounded reasoning contexts from repository state
package bundle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/northhollow/keel/internal/db"
	"github.com/northhollow/keel/pkg/types"
)

// itemFetchLimit caps how many ingested items are even considered before the
// rune budget is applied.
const itemFetchLimit = 500

// defaultLookback bounds the item window for goals that have never had an
// overview generated.
const defaultLookback = 7 * 24 * time.Hour

// Builder assembles context bundles for reasoning calls. Goal and task
// completeness always wins over ingested-item completeness: when the bundle
// exceeds the size budget, the oldest items are dropped first and goals or
// tasks are never dropped.
type Builder struct {
	store  *db.Store
	budget int // max bundle size in runes
}

// New creates a builder with the given rune budget per bundle
func New(store *db.Store, budget int) *Builder {
	return &Builder{store: store, budget: budget}
}

// BuildGoalContext assembles the bundle for one goal's status overview:
// the goal, its open tasks, ingested items since the last overview that look
// relevant to the goal, and the biography document.
func (b *Builder) BuildGoalContext(ctx context.Context, goalID string) (*types.ContextBundle, error) {
	goal, err := b.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, fmt.Errorf("loading goal %s: %w", goalID, err)
	}

	tasks, err := b.store.ListTasksByGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	open := tasks[:0]
	for _, t := range tasks {
		if t.Open() {
			open = append(open, t)
		}
	}

	since := time.Now().Add(-defaultLookback)
	if ov, err := b.store.GetStatusOverview(ctx, goalID); err == nil {
		since = ov.GeneratedAt
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	items, err := b.store.ListItemsSince(ctx, since, itemFetchLimit)
	if err != nil {
		return nil, err
	}
	relevant := filterRelevant(items, goal, open)

	bio, err := b.store.GetContextDocument(ctx, types.DocBiography)
	if err != nil {
		return nil, err
	}

	out := &types.ContextBundle{
		Goal:      goal,
		Tasks:     open,
		Items:     relevant,
		Biography: bio.Content,
	}
	b.trim(out)
	return out, nil
}

// BuildGlobalContext assembles the bundle for the prioritization pass: every
// goal with its priority, every open task, the latest overview per goal,
// items not yet reflected in any overview, and the wellbeing document.
func (b *Builder) BuildGlobalContext(ctx context.Context) (*types.ContextBundle, error) {
	goals, err := b.store.ListGoals(ctx)
	if err != nil {
		return nil, err
	}

	tasks, err := b.store.ListOpenTasks(ctx)
	if err != nil {
		return nil, err
	}

	var overviews []types.StatusOverview
	for _, g := range goals {
		ov, err := b.store.GetStatusOverview(ctx, g.ID)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		overviews = append(overviews, *ov)
	}

	since, err := b.store.LatestOverviewTime(ctx)
	if err != nil {
		return nil, err
	}
	if since.IsZero() {
		since = time.Now().Add(-defaultLookback)
	}
	items, err := b.store.ListItemsSince(ctx, since, itemFetchLimit)
	if err != nil {
		return nil, err
	}

	wellbeing, err := b.store.GetContextDocument(ctx, types.DocWellbeingPriorities)
	if err != nil {
		return nil, err
	}

	out := &types.ContextBundle{
		Goals:     goals,
		Tasks:     tasks,
		Overviews: overviews,
		Items:     items,
		Wellbeing: wellbeing.Content,
	}
	b.trim(out)
	return out, nil
}

// filterRelevant keeps items that mention the goal or one of its tasks by
// name. When nothing matches, all items pass through: an empty signal
// section would hide genuinely new information from the overview.
func filterRelevant(items []types.IngestedItem, goal *types.Goal, tasks []types.Task) []types.IngestedItem {
	needles := make([]string, 0, len(tasks)+1)
	needles = append(needles, strings.ToLower(goal.Name))
	for _, t := range tasks {
		needles = append(needles, strings.ToLower(t.Name))
	}

	var matched []types.IngestedItem
	for _, it := range items {
		text := strings.ToLower(it.Summary + " " + it.Payload)
		for _, n := range needles {
			if n != "" && strings.Contains(text, n) {
				matched = append(matched, it)
				break
			}
		}
	}
	if len(matched) == 0 {
		return items
	}
	return matched
}

// trim drops the oldest ingested items until the bundle fits the budget.
// Items are the only thing ever dropped: silently omitting a goal or task
// would corrupt prioritization far more than omitting an old email.
func (b *Builder) trim(bundle *types.ContextBundle) {
	if b.budget <= 0 {
		return
	}
	for len(bundle.Items) > 0 && Size(bundle) > b.budget {
		bundle.Items = bundle.Items[1:]
	}
}

// Size estimates the bundle's rendered size in runes
func Size(bundle *types.ContextBundle) int {
	n := len([]rune(bundle.Biography)) + len([]rune(bundle.Wellbeing))
	if bundle.Goal != nil {
		n += len([]rune(bundle.Goal.Name)) + len([]rune(bundle.Goal.Description))
	}
	for _, g := range bundle.Goals {
		n += len([]rune(g.Name)) + len([]rune(g.Description))
	}
	for _, t := range bundle.Tasks {
		n += len([]rune(t.Name)) + len([]rune(t.Description))
	}
	for _, ov := range bundle.Overviews {
		n += len([]rune(ov.Summary))
	}
	for _, it := range bundle.Items {
		n += len([]rune(it.Summary)) + len([]rune(it.Payload))
	}
	return n
}
