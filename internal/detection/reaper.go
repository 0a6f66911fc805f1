package detection

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Reaper deactivates suspicion flags that have not been refreshed within
// the retention period. Deactivated flags stay in storage as audit rows
// and no longer count toward escalation.
type Reaper struct {
	flags     FlagStore
	retention time.Duration
}

// NewReaper creates a reaper with the given retention period.
func NewReaper(flags FlagStore, retention time.Duration) (*Reaper, error) {
	if flags == nil {
		return nil, fmt.Errorf("flag store is required")
	}
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	return &Reaper{flags: flags, retention: retention}, nil
}

// Reap deactivates every active flag whose last_seen is older than the
// retention cutoff and returns how many were retired. Running it twice in
// a row is a no-op the second time.
func (r *Reaper) Reap(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-r.retention)
	count, err := r.flags.DeactivateFlagsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deactivate stale flags: %w", err)
	}
	if count > 0 {
		slog.Info("stale suspicion flags deactivated", "count", count, "cutoff", cutoff)
	}
	return count, nil
}
