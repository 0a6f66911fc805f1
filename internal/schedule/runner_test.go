package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerTicksJobs(t *testing.T) {
	var runs atomic.Int64
	runner, err := NewRunner([]Job{{
		Name:     "scan",
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		Run: func(ctx context.Context, now time.Time) error {
			runs.Add(1)
			return nil
		},
	}})
	require.NoError(t, err)

	require.NoError(t, runner.Start(context.Background()))
	assert.Eventually(t, func() bool { return runs.Load() >= 3 },
		time.Second, 5*time.Millisecond)
	runner.Stop()

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after Stop")
}

func TestRunnerRunOnce(t *testing.T) {
	var scans, reaps atomic.Int64
	var seen time.Time
	runner, err := NewRunner([]Job{
		{
			Name:     "scan",
			Interval: time.Hour,
			Timeout:  time.Second,
			Run: func(ctx context.Context, now time.Time) error {
				scans.Add(1)
				seen = now
				return nil
			},
		},
		{
			Name:     "reap",
			Interval: time.Hour,
			Timeout:  time.Second,
			Run: func(ctx context.Context, now time.Time) error {
				reaps.Add(1)
				return nil
			},
		},
	})
	require.NoError(t, err)

	now := time.Now()
	runner.RunOnce(context.Background(), now)
	assert.Equal(t, int64(1), scans.Load())
	assert.Equal(t, int64(1), reaps.Load())
	assert.Equal(t, now, seen)
}

func TestRunnerContainsPanics(t *testing.T) {
	var runs atomic.Int64
	runner, err := NewRunner([]Job{{
		Name:     "flaky",
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		Run: func(ctx context.Context, now time.Time) error {
			if runs.Add(1) == 1 {
				panic("boom")
			}
			return nil
		},
	}})
	require.NoError(t, err)

	require.NoError(t, runner.Start(context.Background()))
	defer runner.Stop()

	// The loop survives the first run's panic and keeps ticking.
	assert.Eventually(t, func() bool { return runs.Load() >= 3 },
		time.Second, 5*time.Millisecond)
}

func TestRunnerJobErrorsDoNotStopTicking(t *testing.T) {
	var runs atomic.Int64
	runner, err := NewRunner([]Job{{
		Name:     "failing",
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		Run: func(ctx context.Context, now time.Time) error {
			runs.Add(1)
			return errors.New("storage unavailable")
		},
	}})
	require.NoError(t, err)

	require.NoError(t, runner.Start(context.Background()))
	defer runner.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 },
		time.Second, 5*time.Millisecond)
}

func TestRunnerJobTimeout(t *testing.T) {
	deadlineSet := make(chan bool, 1)
	runner, err := NewRunner([]Job{{
		Name:     "slow",
		Interval: time.Hour,
		Timeout:  50 * time.Millisecond,
		Run: func(ctx context.Context, now time.Time) error {
			_, ok := ctx.Deadline()
			deadlineSet <- ok
			return nil
		},
	}})
	require.NoError(t, err)

	runner.RunOnce(context.Background(), time.Now())
	assert.True(t, <-deadlineSet)
}

func TestRunnerStopIsIdempotent(t *testing.T) {
	runner, err := NewRunner([]Job{{
		Name:     "scan",
		Interval: time.Hour,
		Timeout:  time.Second,
		Run:      func(ctx context.Context, now time.Time) error { return nil },
	}})
	require.NoError(t, err)

	runner.Stop() // not started yet
	require.NoError(t, runner.Start(context.Background()))
	runner.Stop()
	runner.Stop()
}

func TestNewRunnerValidation(t *testing.T) {
	noop := func(ctx context.Context, now time.Time) error { return nil }

	cases := []struct {
		name string
		jobs []Job
	}{
		{"no jobs", nil},
		{"missing name", []Job{{Interval: time.Hour, Timeout: time.Second, Run: noop}}},
		{"bad interval", []Job{{Name: "x", Timeout: time.Second, Run: noop}}},
		{"bad timeout", []Job{{Name: "x", Interval: time.Hour, Run: noop}}},
		{"missing run", []Job{{Name: "x", Interval: time.Hour, Timeout: time.Second}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRunner(tc.jobs)
			assert.Error(t, err)
		})
	}
}
