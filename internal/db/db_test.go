package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northhollow/keel/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func addGoal(t *testing.T, store *Store, name string, level types.GoalLevel, parentID string, priority float64) *types.Goal {
	t.Helper()
	g := &types.Goal{Name: name, Level: level, ParentID: parentID, Priority: priority}
	require.NoError(t, store.UpsertGoal(context.Background(), g))
	return g
}

func TestGoalHierarchy(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	high := addGoal(t, store, "Stay healthy", types.GoalLevelHigh, "", 8)

	// project goal must reference an existing high-level goal
	err := store.UpsertGoal(ctx, &types.Goal{Name: "Run a marathon", Level: types.GoalLevelProject})
	assert.Error(t, err, "project goal without parent accepted")

	err = store.UpsertGoal(ctx, &types.Goal{Name: "Run a marathon", Level: types.GoalLevelProject, ParentID: "missing"})
	assert.Error(t, err, "project goal with unknown parent accepted")

	project := addGoal(t, store, "Run a marathon", types.GoalLevelProject, high.ID, 6)

	// a project goal cannot parent another project goal
	err = store.UpsertGoal(ctx, &types.Goal{Name: "Weekly long run", Level: types.GoalLevelProject, ParentID: project.ID})
	assert.Error(t, err)

	// high-level goals must not have a parent
	err = store.UpsertGoal(ctx, &types.Goal{Name: "Broken", Level: types.GoalLevelHigh, ParentID: high.ID})
	assert.Error(t, err)

	goals, err := store.ListGoals(ctx)
	require.NoError(t, err)
	require.Len(t, goals, 2)
	assert.Equal(t, types.GoalLevelHigh, goals[0].Level, "high-level goals list first")
}

func TestSetGoalPriority(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	g := addGoal(t, store, "Learn piano", types.GoalLevelHigh, "", 5)
	require.NoError(t, store.SetGoalPriority(ctx, g.ID, 9))

	got, err := store.GetGoal(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 9.0, got.Priority)

	assert.ErrorIs(t, store.SetGoalPriority(ctx, "missing", 5), ErrNotFound)
}

func TestTaskUpsertPreservesPriorityAndOverride(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	task := &types.Task{Name: "File taxes", Source: types.TaskSourceManual}
	require.NoError(t, store.UpsertTask(ctx, task))
	require.NoError(t, store.SetTaskOverride(ctx, task.ID, 9.5))

	// re-upserting the task (e.g. a tracker sync) must not touch the
	// pinned priority
	task.Description = "before April"
	require.NoError(t, store.UpsertTask(ctx, task))

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "before April", got.Description)
	assert.Equal(t, 9.5, got.Priority)
	assert.True(t, got.Overridden)
}

func TestSetTaskPriorityRespectsOverride(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	task := &types.Task{Name: "Write report", Source: types.TaskSourceManual}
	require.NoError(t, store.UpsertTask(ctx, task))

	require.NoError(t, store.SetTaskPriority(ctx, task.ID, 4.2))
	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.2, got.Priority)

	require.NoError(t, store.SetTaskOverride(ctx, task.ID, 8.0))
	require.NoError(t, store.SetTaskPriority(ctx, task.ID, 1.0)) // silently skipped

	got, err = store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 8.0, got.Priority, "ranking run clobbered an override")

	// clearing the override leaves the value until the next ranking run
	require.NoError(t, store.ClearTaskOverride(ctx, task.ID))
	got, err = store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.Overridden)
	assert.Equal(t, 8.0, got.Priority)

	require.NoError(t, store.SetTaskPriority(ctx, task.ID, 3.3))
	got, err = store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3.3, got.Priority)
}

func TestFindTaskByExternalID(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	task := &types.Task{
		Name:       "Fix login bug",
		Source:     types.TaskSourceTracker,
		ExternalID: "TRACK-42",
	}
	require.NoError(t, store.UpsertTask(ctx, task))

	got, err := store.FindTaskByExternalID(ctx, types.TaskSourceTracker, "TRACK-42")
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)

	_, err = store.FindTaskByExternalID(ctx, types.TaskSourceTracker, "TRACK-43")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdvanceWatermarkIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	batch := []types.IngestedItem{
		{ExternalID: "msg-1", Summary: "hello", OccurredAt: time.Now()},
		{ExternalID: "msg-2", Summary: "world", OccurredAt: time.Now()},
	}
	inserted, err := store.AdvanceWatermark(ctx, types.SourceEmail, "cursor-1", batch)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// replaying the same batch inserts nothing
	replay := []types.IngestedItem{
		{ExternalID: "msg-1", Summary: "hello", OccurredAt: time.Now()},
		{ExternalID: "msg-2", Summary: "world", OccurredAt: time.Now()},
		{ExternalID: "msg-3", Summary: "new", OccurredAt: time.Now()},
	}
	inserted, err = store.AdvanceWatermark(ctx, types.SourceEmail, "cursor-2", replay)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	wm, err := store.GetWatermark(ctx, types.SourceEmail)
	require.NoError(t, err)
	assert.Equal(t, "cursor-2", wm.Cursor)

	// the same external id under a different source is a distinct item
	inserted, err = store.AdvanceWatermark(ctx, types.SourceCalendar, "c1",
		[]types.IngestedItem{{ExternalID: "msg-1", Summary: "event", OccurredAt: time.Now()}})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
}

func TestAdvanceWatermarkEmptyCursorKeepsOld(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.AdvanceWatermark(ctx, types.SourceTracker, "c1",
		[]types.IngestedItem{{ExternalID: "t-1", OccurredAt: time.Now()}})
	require.NoError(t, err)

	_, err = store.AdvanceWatermark(ctx, types.SourceTracker, "",
		[]types.IngestedItem{{ExternalID: "t-2", OccurredAt: time.Now()}})
	require.NoError(t, err)

	wm, err := store.GetWatermark(ctx, types.SourceTracker)
	require.NoError(t, err)
	assert.Equal(t, "c1", wm.Cursor)
}

func TestWatermarkMissingSource(t *testing.T) {
	store := testStore(t)

	wm, err := store.GetWatermark(context.Background(), types.SourceEmail)
	require.NoError(t, err)
	assert.Empty(t, wm.Cursor)
}

func TestStatusOverviewLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	goal := addGoal(t, store, "Ship the app", types.GoalLevelHigh, "", 7)

	_, err := store.GetStatusOverview(ctx, goal.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.MarkOverviewStale(ctx, goal.ID), ErrNotFound)

	ov := &types.StatusOverview{
		GoalID:      goal.ID,
		Summary:     "On track",
		Progress:    40,
		Obstacles:   []string{"waiting on review"},
		SubtaskIDs:  []string{"task-1"},
		GeneratedAt: time.Now(),
		Status:      types.OverviewStatusOK,
	}
	require.NoError(t, store.UpsertStatusOverview(ctx, ov))

	got, err := store.GetStatusOverview(ctx, goal.ID)
	require.NoError(t, err)
	assert.Equal(t, "On track", got.Summary)
	assert.Equal(t, []string{"waiting on review"}, got.Obstacles)

	// marking stale keeps the content
	require.NoError(t, store.MarkOverviewStale(ctx, goal.ID))
	got, err = store.GetStatusOverview(ctx, goal.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OverviewStatusStale, got.Status)
	assert.Equal(t, "On track", got.Summary)
}

func TestLatestOverviewTime(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	latest, err := store.LatestOverviewTime(ctx)
	require.NoError(t, err)
	assert.True(t, latest.IsZero())

	goal := addGoal(t, store, "Ship the app", types.GoalLevelHigh, "", 7)
	when := time.Now().Truncate(time.Second)
	require.NoError(t, store.UpsertStatusOverview(ctx, &types.StatusOverview{
		GoalID: goal.ID, Summary: "ok", GeneratedAt: when, Status: types.OverviewStatusOK,
	}))

	latest, err = store.LatestOverviewTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, when.Unix(), latest.Unix())
}

func TestContextDocuments(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	doc, err := store.GetContextDocument(ctx, types.DocBiography)
	require.NoError(t, err)
	assert.Empty(t, doc.Content, "missing document should be empty, not an error")

	require.NoError(t, store.PutContextDocument(ctx, types.DocBiography, "I am a gardener."))
	require.NoError(t, store.PutContextDocument(ctx, types.DocBiography, "I am a beekeeper."))

	doc, err = store.GetContextDocument(ctx, types.DocBiography)
	require.NoError(t, err)
	assert.Equal(t, "I am a beekeeper.", doc.Content)
}

func TestListRankingOrder(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	soon := time.Now().Add(24 * time.Hour)
	later := time.Now().Add(72 * time.Hour)

	mk := func(name string, priority float64, deadline *time.Time) {
		task := &types.Task{Name: name, Source: types.TaskSourceManual, Deadline: deadline}
		require.NoError(t, store.UpsertTask(ctx, task))
		require.NoError(t, store.SetTaskPriority(ctx, task.ID, priority))
	}
	mk("low", 2, nil)
	mk("tied-later", 5, &later)
	mk("tied-sooner", 5, &soon)
	mk("high", 9, nil)

	ranking, err := store.ListRanking(ctx)
	require.NoError(t, err)
	require.Len(t, ranking, 4)
	assert.Equal(t, "high", ranking[0].Name)
	assert.Equal(t, "tied-sooner", ranking[1].Name, "earlier deadline breaks the tie")
	assert.Equal(t, "tied-later", ranking[2].Name)
	assert.Equal(t, "low", ranking[3].Name)
}
