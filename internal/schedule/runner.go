// Package schedule runs the engine's periodic batch jobs on fixed
// intervals. It is a thin ticker loop per job rather than a cron layer:
// all jobs are idempotent, so a missed or doubled tick is harmless and
// wall-clock alignment is not needed.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Job is one periodic unit of work. Run receives the tick time so jobs
// can compute windows and cutoffs from a single consistent instant.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context, now time.Time) error
}

// Runner drives a set of Jobs, one goroutine each. Jobs start ticking
// after Start and stop when Stop is called or the context is cancelled.
type Runner struct {
	jobs []Job

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewRunner validates the jobs and returns a runner for them.
func NewRunner(jobs []Job) (*Runner, error) {
	if len(jobs) == 0 {
		return nil, fmt.Errorf("at least one job is required")
	}
	for _, j := range jobs {
		if j.Name == "" {
			return nil, fmt.Errorf("job name is required")
		}
		if j.Interval <= 0 {
			return nil, fmt.Errorf("job %s: interval must be positive, got %s", j.Name, j.Interval)
		}
		if j.Timeout <= 0 {
			return nil, fmt.Errorf("job %s: timeout must be positive, got %s", j.Name, j.Timeout)
		}
		if j.Run == nil {
			return nil, fmt.Errorf("job %s: run function is required", j.Name)
		}
	}
	return &Runner{jobs: jobs}, nil
}

// Start launches one ticking goroutine per job. The first tick of each
// job fires after its interval, not immediately; callers that want an
// initial run invoke RunOnce first.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runner already started")
	}
	r.started = true

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	var wg sync.WaitGroup
	for _, job := range r.jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			r.tickLoop(runCtx, j)
		}(job)
	}
	go func() {
		wg.Wait()
		close(r.done)
	}()

	slog.Info("scheduler started", "jobs", len(r.jobs))
	return nil
}

// Stop cancels all job loops and waits for in-flight runs to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	slog.Info("scheduler stopped")
}

// RunOnce executes every job once, immediately and sequentially. Used at
// startup so a freshly booted engine does not wait a full interval before
// its first scan.
func (r *Runner) RunOnce(ctx context.Context, now time.Time) {
	for _, j := range r.jobs {
		r.runJob(ctx, j, now)
	}
}

func (r *Runner) tickLoop(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.runJob(ctx, j, now)
		}
	}
}

// runJob executes one job run with its timeout and panic containment. A
// panicking job must not take down the serving path, so it is logged and
// the loop keeps ticking.
func (r *Runner) runJob(ctx context.Context, j Job, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("scheduled job panicked",
				"job", j.Name, "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()

	start := time.Now()
	if err := j.Run(runCtx, now); err != nil {
		slog.Error("scheduled job failed",
			"job", j.Name, "duration", time.Since(start), "error", err)
		return
	}
	slog.Debug("scheduled job completed", "job", j.Name, "duration", time.Since(start))
}
