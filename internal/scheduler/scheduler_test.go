package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northhollow/keel/pkg/types"
)

func fastTick(t *testing.T) {
	t.Helper()
	old := tick
	tick = 5 * time.Millisecond
	t.Cleanup(func() { tick = old })
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestRegisterValidation(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Register("a", time.Minute, func(ctx context.Context) error { return nil }))
	assert.Error(t, s.Register("a", time.Minute, func(ctx context.Context) error { return nil }), "duplicate name accepted")
	assert.Error(t, s.Register("b", 0, func(ctx context.Context) error { return nil }), "zero interval accepted")
}

func TestUnknownJobErrors(t *testing.T) {
	s := New(nil)
	var unknown ErrUnknownJob
	assert.ErrorAs(t, s.TriggerNow("ghost"), &unknown)
	assert.ErrorAs(t, s.SetInterval("ghost", time.Minute), &unknown)
}

func TestTriggerNowRunsImmediately(t *testing.T) {
	fastTick(t)
	s := New(nil)

	var runs atomic.Int64
	require.NoError(t, s.Register("job", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	// interval is an hour; nothing should run on its own
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(0), runs.Load())

	require.NoError(t, s.TriggerNow("job"))
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })
}

func TestTriggerCoalescesWhileRunning(t *testing.T) {
	fastTick(t)
	s := New(nil)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var runs atomic.Int64
	require.NoError(t, s.Register("job", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.TriggerNow("job"))
	<-started

	// many triggers while the job runs collapse into exactly one follow-up
	for i := 0; i < 5; i++ {
		require.NoError(t, s.TriggerNow("job"))
	}
	release <- struct{}{}
	waitFor(t, time.Second, func() bool { return runs.Load() == 2 })
	release <- struct{}{}

	waitFor(t, time.Second, func() bool {
		for _, st := range s.Status() {
			if st.Name == "job" {
				return !st.Running
			}
		}
		return false
	})
	s.Stop()
	assert.Equal(t, int64(2), runs.Load(), "coalesced triggers ran more than once")
}

func TestAtMostOneConcurrentRun(t *testing.T) {
	fastTick(t)
	s := New(nil)

	var concurrent, peak atomic.Int64
	var mu sync.Mutex
	require.NoError(t, s.Register("job", 10*time.Millisecond, func(ctx context.Context) error {
		n := concurrent.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(25 * time.Millisecond) // longer than the interval
		concurrent.Add(-1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int64(1), peak.Load(), "job overlapped itself")
}

func TestSetIntervalTakesEffect(t *testing.T) {
	fastTick(t)
	s := New(nil)

	var runs atomic.Int64
	require.NoError(t, s.Register("job", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	require.NoError(t, s.SetInterval("job", 15*time.Millisecond))
	waitFor(t, time.Second, func() bool { return runs.Load() >= 2 })

	st := s.Status()
	require.Len(t, st, 1)
	assert.Equal(t, 15*time.Millisecond, st[0].Interval)
}

func TestJobErrorRecorded(t *testing.T) {
	fastTick(t)
	s := New(nil)

	boom := errors.New("feed unreachable")
	require.NoError(t, s.Register("bad", time.Hour, func(ctx context.Context) error { return boom }))
	require.NoError(t, s.Register("panicky", time.Hour, func(ctx context.Context) error { panic("oh no") }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	require.NoError(t, s.TriggerNow("bad"))
	require.NoError(t, s.TriggerNow("panicky"))

	waitFor(t, time.Second, func() bool {
		states := s.Status()
		done := 0
		for _, st := range states {
			if st.LastOutcome == types.JobOutcomeError {
				done++
			}
		}
		return done == 2
	})

	for _, st := range s.Status() {
		assert.Equal(t, int64(1), st.Failures, "job %s", st.Name)
		assert.NotEmpty(t, st.LastError, "job %s", st.Name)
	}
}

func TestStatusSortedAndSnapshot(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Register("zeta", time.Hour, func(ctx context.Context) error { return nil }))
	require.NoError(t, s.Register("alpha", time.Minute, func(ctx context.Context) error { return nil }))

	st := s.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "alpha", st[0].Name)
	assert.Equal(t, "zeta", st[1].Name)
	assert.Equal(t, types.JobOutcomeNever, st[0].LastOutcome)
	assert.False(t, st[0].NextRun.IsZero())
}

func TestStopWaitsForInflightRuns(t *testing.T) {
	fastTick(t)
	s := New(nil)

	finished := atomic.Bool{}
	require.NoError(t, s.Register("slow", time.Hour, func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.TriggerNow("slow"))

	waitFor(t, time.Second, func() bool {
		for _, st := range s.Status() {
			if st.Running {
				return true
			}
		}
		return false
	})
	s.Stop()
	assert.True(t, finished.Load(), "Stop returned before the running job finished")
}
