package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northhollow/keel/internal/db"
	"github.com/northhollow/keel/internal/scheduler"
	"github.com/northhollow/keel/pkg/types"
)

func testServer(t *testing.T) (*httptest.Server, *db.Store, *scheduler.Scheduler) {
	t.Helper()

	store, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sched := scheduler.New(nil)
	require.NoError(t, sched.Register("prioritization", 30*time.Minute, func(ctx context.Context) error { return nil }))

	s := New(":0", store, sched, nil)
	srv := httptest.NewServer(s.httpSrv.Handler)
	t.Cleanup(srv.Close)
	return srv, store, sched
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 400 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	srv, _, _ := testServer(t)
	var out map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/healthz", &out))
	assert.Equal(t, "ok", out["status"])
}

func TestListJobs(t *testing.T) {
	srv, _, _ := testServer(t)

	var jobs []types.JobState
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/api/jobs", &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "prioritization", jobs[0].Name)
	assert.Equal(t, types.JobOutcomeNever, jobs[0].LastOutcome)
}

func TestTriggerJob(t *testing.T) {
	srv, _, _ := testServer(t)

	resp := doJSON(t, srv, http.MethodPost, "/api/jobs/prioritization/trigger", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodPost, "/api/jobs/nope/trigger", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSetJobInterval(t *testing.T) {
	srv, _, sched := testServer(t)

	resp := doJSON(t, srv, http.MethodPut, "/api/jobs/prioritization/interval", map[string]string{"interval": "15m"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	st := sched.Status()
	require.Len(t, st, 1)
	assert.Equal(t, 15*time.Minute, st[0].Interval)

	resp = doJSON(t, srv, http.MethodPut, "/api/jobs/prioritization/interval", map[string]string{"interval": "soonish"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodPut, "/api/jobs/nope/interval", map[string]string{"interval": "15m"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRanking(t *testing.T) {
	srv, store, _ := testServer(t)
	ctx := context.Background()

	a := &types.Task{Name: "A", Source: types.TaskSourceManual}
	require.NoError(t, store.UpsertTask(ctx, a))
	require.NoError(t, store.SetTaskPriority(ctx, a.ID, 3))
	b := &types.Task{Name: "B", Source: types.TaskSourceManual}
	require.NoError(t, store.UpsertTask(ctx, b))
	require.NoError(t, store.SetTaskPriority(ctx, b.ID, 8))

	var tasks []types.Task
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/api/ranking", &tasks))
	require.Len(t, tasks, 2)
	assert.Equal(t, "B", tasks[0].Name)
}

func TestOverrideEndpoints(t *testing.T) {
	srv, store, _ := testServer(t)
	ctx := context.Background()

	task := &types.Task{Name: "Pin me", Source: types.TaskSourceManual}
	require.NoError(t, store.UpsertTask(ctx, task))

	resp := doJSON(t, srv, http.MethodPut, "/api/tasks/"+task.ID+"/override", map[string]float64{"priority": 9.5})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Overridden)
	assert.Equal(t, 9.5, got.Priority)

	// out of range and missing values rejected
	resp = doJSON(t, srv, http.MethodPut, "/api/tasks/"+task.ID+"/override", map[string]float64{"priority": 15})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = doJSON(t, srv, http.MethodPut, "/api/tasks/"+task.ID+"/override", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodDelete, "/api/tasks/"+task.ID+"/override", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, err = store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.Overridden)

	resp = doJSON(t, srv, http.MethodPut, "/api/tasks/missing/override", map[string]float64{"priority": 5})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetOverview(t *testing.T) {
	srv, store, _ := testServer(t)
	ctx := context.Background()

	goal := &types.Goal{Name: "Garden", Level: types.GoalLevelHigh, Priority: 5}
	require.NoError(t, store.UpsertGoal(ctx, goal))

	code := getJSON(t, srv, "/api/goals/"+goal.ID+"/overview", nil)
	assert.Equal(t, http.StatusNotFound, code)

	require.NoError(t, store.UpsertStatusOverview(ctx, &types.StatusOverview{
		GoalID: goal.ID, Summary: "Blooming", Progress: 30,
		GeneratedAt: time.Now(), Status: types.OverviewStatusOK,
	}))

	var ov types.StatusOverview
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/api/goals/"+goal.ID+"/overview", &ov))
	assert.Equal(t, "Blooming", ov.Summary)
}

func TestErrorsAreJSON(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.Post(srv.URL+"/api/jobs/nope/trigger", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["error"])
}
