package bundle

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northhollow/keel/internal/db"
	"github.com/northhollow/keel/pkg/types"
)

func testStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedGoal(t *testing.T, store *db.Store, name string) *types.Goal {
	t.Helper()
	g := &types.Goal{Name: name, Level: types.GoalLevelHigh, Priority: 7}
	require.NoError(t, store.UpsertGoal(context.Background(), g))
	return g
}

func TestBuildGoalContext(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	goal := seedGoal(t, store, "Novel")

	open := &types.Task{GoalID: goal.ID, Name: "Draft chapter three", Source: types.TaskSourceManual}
	require.NoError(t, store.UpsertTask(ctx, open))
	done := &types.Task{GoalID: goal.ID, Name: "Outline", Source: types.TaskSourceManual, Status: types.TaskStatusDone}
	require.NoError(t, store.UpsertTask(ctx, done))

	require.NoError(t, store.PutContextDocument(ctx, types.DocBiography, "Writes before work."))

	_, err := store.AdvanceWatermark(ctx, types.SourceEmail, "c1", []types.IngestedItem{
		{ExternalID: "m1", Summary: "Editor feedback on the novel", OccurredAt: time.Now()},
		{ExternalID: "m2", Summary: "Car insurance renewal", OccurredAt: time.Now()},
	})
	require.NoError(t, err)

	b := New(store, 100000)
	got, err := b.BuildGoalContext(ctx, goal.ID)
	require.NoError(t, err)

	assert.Equal(t, goal.ID, got.Goal.ID)
	require.Len(t, got.Tasks, 1, "done tasks excluded")
	assert.Equal(t, "Draft chapter three", got.Tasks[0].Name)
	assert.Equal(t, "Writes before work.", got.Biography)

	// only the item mentioning the goal survives the relevance filter
	require.Len(t, got.Items, 1)
	assert.Contains(t, got.Items[0].Summary, "novel")
}

func TestBuildGoalContextRelevanceFallback(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	goal := seedGoal(t, store, "Write a novel")
	_, err := store.AdvanceWatermark(ctx, types.SourceEmail, "c1", []types.IngestedItem{
		{ExternalID: "m1", Summary: "Car insurance renewal", OccurredAt: time.Now()},
		{ExternalID: "m2", Summary: "Dentist appointment", OccurredAt: time.Now()},
	})
	require.NoError(t, err)

	b := New(store, 100000)
	got, err := b.BuildGoalContext(ctx, goal.ID)
	require.NoError(t, err)

	// nothing matched, so everything passes through
	assert.Len(t, got.Items, 2)
}

func TestBuildGoalContextUnknownGoal(t *testing.T) {
	b := New(testStore(t), 1000)
	_, err := b.BuildGoalContext(context.Background(), "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestBuildGlobalContext(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	g1 := seedGoal(t, store, "Stay healthy")
	g2 := seedGoal(t, store, "Learn Spanish")

	require.NoError(t, store.UpsertTask(ctx, &types.Task{GoalID: g1.ID, Name: "Morning run", Source: types.TaskSourceManual}))
	require.NoError(t, store.UpsertTask(ctx, &types.Task{Name: "Unassigned errand", Source: types.TaskSourceManual}))

	require.NoError(t, store.UpsertStatusOverview(ctx, &types.StatusOverview{
		GoalID: g1.ID, Summary: "Consistent", GeneratedAt: time.Now(), Status: types.OverviewStatusOK,
	}))
	require.NoError(t, store.PutContextDocument(ctx, types.DocWellbeingPriorities, "Sleep first."))

	b := New(store, 100000)
	got, err := b.BuildGlobalContext(ctx)
	require.NoError(t, err)

	assert.Len(t, got.Goals, 2)
	assert.Len(t, got.Tasks, 2)
	require.Len(t, got.Overviews, 1, "goals without overviews are skipped, not errors")
	assert.Equal(t, g1.ID, got.Overviews[0].GoalID)
	assert.Equal(t, "Sleep first.", got.Wellbeing)
	_ = g2
}

func TestTrimDropsOldestItemsFirst(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	goal := seedGoal(t, store, "Inbox zero")

	var batch []types.IngestedItem
	for i := 0; i < 20; i++ {
		batch = append(batch, types.IngestedItem{
			ExternalID: fmt.Sprintf("m%d", i),
			Summary:    fmt.Sprintf("inbox zero update %02d %s", i, strings.Repeat("x", 200)),
			OccurredAt: time.Now(),
			IngestedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
	}
	_, err := store.AdvanceWatermark(ctx, types.SourceEmail, "c1", batch)
	require.NoError(t, err)

	b := New(store, 1500)
	got, err := b.BuildGoalContext(ctx, goal.ID)
	require.NoError(t, err)

	assert.NotNil(t, got.Goal, "goal is never trimmed")
	require.NotEmpty(t, got.Items)
	assert.Less(t, len(got.Items), 20, "budget should have dropped items")
	assert.LessOrEqual(t, Size(got), 1500)

	// the survivors are the newest items
	last := got.Items[len(got.Items)-1]
	assert.Contains(t, last.Summary, "update 19")
}
