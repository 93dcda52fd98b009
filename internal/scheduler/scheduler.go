// Package scheduler runs recurring jobs on per-job intervals with manual
// trigger support.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/northhollow/keel/internal/events"
	"github.com/northhollow/keel/pkg/types"
)

// tick is how often the dispatch loop checks for due jobs. Intervals are
// minutes-to-hours, so a coarse tick is plenty. Variable so tests can
// shorten it.
var tick = time.Second

// JobFunc is the work a registered job performs
type JobFunc func(ctx context.Context) error

// ErrUnknownJob is returned for trigger or interval requests naming a job
// that was never registered.
type ErrUnknownJob struct {
	Name string
}

func (e ErrUnknownJob) Error() string {
	return fmt.Sprintf("unknown job: %s", e.Name)
}

type job struct {
	name     string
	fn       JobFunc
	interval time.Duration
	nextRun  time.Time
	running  bool
	// pending coalesces manual triggers that arrive while the job runs:
	// any number of TriggerNow calls collapse into one follow-up run
	pending     bool
	lastRun     time.Time
	lastOutcome types.JobOutcome
	lastError   string
	runs        int64
	failures    int64
}

// Scheduler owns the registered jobs and their dispatch loop. Each job runs
// at most once at a time; a due interval or manual trigger that lands while
// the job executes is deferred, never run concurrently.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	bus     *events.Bus
	wg      sync.WaitGroup
	started bool
	stop    context.CancelFunc
	now     func() time.Time
}

// New creates an empty scheduler
func New(bus *events.Bus) *Scheduler {
	return &Scheduler{
		jobs: make(map[string]*job),
		bus:  bus,
		now:  time.Now,
	}
}

// Register adds a named job with its initial interval. The first run is due
// one full interval after start, not immediately.
func (s *Scheduler) Register(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}
	s.jobs[name] = &job{
		name:        name,
		fn:          fn,
		interval:    interval,
		nextRun:     s.now().Add(interval),
		lastOutcome: types.JobOutcomeNever,
	}
	return nil
}

// SetInterval changes a job's interval and reanchors its next run to one new
// interval from now. A run already in progress finishes undisturbed.
func (s *Scheduler) SetInterval(name string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return ErrUnknownJob{Name: name}
	}
	j.interval = interval
	j.nextRun = s.now().Add(interval)
	log.Info().Str("job", name).Dur("interval", interval).Msg("job interval changed")
	return nil
}

// TriggerNow requests an immediate run. If the job is idle it becomes due at
// once; if it is running, one follow-up run is queued no matter how many
// triggers arrive in the meantime.
func (s *Scheduler) TriggerNow(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return ErrUnknownJob{Name: name}
	}
	if j.running {
		j.pending = true
	} else {
		j.nextRun = s.now()
	}
	return nil
}

// Status returns a snapshot of every job's state, sorted by name
func (s *Scheduler) Status() []types.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.JobState, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, types.JobState{
			Name:        j.name,
			Interval:    j.interval,
			NextRun:     j.nextRun,
			Running:     j.running,
			LastRun:     j.lastRun,
			LastOutcome: j.lastOutcome,
			LastError:   j.lastError,
			Runs:        j.runs,
			Failures:    j.failures,
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start launches the dispatch loop. It returns immediately; jobs run on
// their own goroutines until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	ctx, s.stop = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
	log.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
	return nil
}

// Stop cancels the dispatch loop and waits for in-flight job runs to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	s.wg.Wait()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue launches every idle job whose next run has arrived
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.running || now.Before(j.nextRun) {
			continue
		}
		j.running = true
		s.wg.Add(1)
		go s.run(ctx, j)
	}
}

// run executes one job to completion and reschedules it. A panic in the job
// function is treated as a failed run, not a process crash.
func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.wg.Done()

	started := s.now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		return j.fn(ctx)
	}()
	elapsed := s.now().Sub(started)

	s.mu.Lock()
	j.running = false
	j.lastRun = started
	j.runs++
	if err != nil {
		j.failures++
		j.lastOutcome = types.JobOutcomeError
		j.lastError = err.Error()
	} else {
		j.lastOutcome = types.JobOutcomeOK
		j.lastError = ""
	}
	if j.pending {
		// a trigger arrived mid-run; run again right away
		j.pending = false
		j.nextRun = s.now()
	} else {
		j.nextRun = s.now().Add(j.interval)
	}
	name := j.name
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("job", name).Dur("elapsed", elapsed).Msg("job failed")
		s.publish(events.TypeJobFailed, map[string]any{"job": name, "error": err.Error()})
		return
	}
	log.Debug().Str("job", name).Dur("elapsed", elapsed).Msg("job completed")
	s.publish(events.TypeJobCompleted, map[string]any{"job": name})
}

func (s *Scheduler) publish(typ events.Type, data map[string]any) {
	if s.bus != nil {
		s.bus.Publish(typ, data)
	}
}
