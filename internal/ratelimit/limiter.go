// Package ratelimit provides per-request admission control using
// fixed-window counting against a pluggable counter store. It supports
// two-tier limits (anonymous vs authenticated), an exemption path set, and
// a configurable fail-open/fail-closed policy for counter store outages.
// It includes HTTP middleware that sets standard rate limit response
// headers and maps denials to 429.
//
// Fixed-window counting is a known tradeoff: a request arriving exactly at
// a window boundary starts the new window, so a client can burst up to
// twice the limit across the boundary. The counting is not smoothed.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ipguard/internal/counter"
	"ipguard/internal/models"
)

// Request describes one admission decision to make.
type Request struct {
	// Identity is the client identity the count is keyed on, typically the
	// client IP, or user id plus IP for authenticated clients.
	Identity string

	// Authenticated selects the higher request limit.
	Authenticated bool

	// Path is the request path, checked against the exemption set.
	Path string
}

// Decision is the outcome of one admission check, with the rate state
// needed to populate response headers.
type Decision struct {
	Allowed   bool
	Exempt    bool      // path matched the exemption set; no counter touched
	Limit     int       // applicable limit for this window
	Remaining int       // requests left in the current window
	ResetAt   time.Time // start of the next window
}

// Limiter makes synchronous admission decisions on the request path.
// It is safe for arbitrary concurrent use; atomicity of the underlying
// counter guarantees no update is lost under race.
type Limiter struct {
	store counter.Store
	cfg   models.RateLimitConfig
}

// NewLimiter creates a limiter over the given counter store.
func NewLimiter(store counter.Store, cfg models.RateLimitConfig) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rate limit config: %w", err)
	}
	return &Limiter{store: store, cfg: cfg}, nil
}

// Allow evaluates one request at time now. Exempted paths are admitted
// without touching the counter. Otherwise the counter for the client's
// current window is incremented and the request is denied once the count
// exceeds the applicable limit.
//
// When the counter store is unavailable the configured failure policy
// decides the outcome; the store error is returned alongside the decision
// so callers can log it.
func (l *Limiter) Allow(ctx context.Context, req Request, now time.Time) (Decision, error) {
	limit := l.cfg.AnonymousLimit
	if req.Authenticated {
		limit = l.cfg.AuthenticatedLimit
	}

	if l.exempt(req.Path) {
		return Decision{Allowed: true, Exempt: true, Limit: limit, Remaining: limit}, nil
	}

	window := l.cfg.Window()
	bucket := now.Unix() / int64(l.cfg.WindowSeconds)
	key := fmt.Sprintf("ratelimit:%s:%d", req.Identity, bucket)
	resetAt := time.Unix((bucket+1)*int64(l.cfg.WindowSeconds), 0)

	storeCtx, cancel := context.WithTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()

	count, err := l.store.Increment(storeCtx, key, window)
	if err != nil {
		allowed := l.cfg.FailurePolicy == models.FailurePolicyOpen
		return Decision{
			Allowed:   allowed,
			Limit:     limit,
			Remaining: 0,
			ResetAt:   resetAt,
		}, fmt.Errorf("counter store increment: %w", err)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Reset clears the current window's counter for the given identity at time
// now. Intended for tests and administrative use.
func (l *Limiter) Reset(ctx context.Context, identity string, now time.Time) error {
	bucket := now.Unix() / int64(l.cfg.WindowSeconds)
	key := fmt.Sprintf("ratelimit:%s:%d", identity, bucket)
	return l.store.Reset(ctx, key)
}

// exempt reports whether path is in the configured exemption set.
// Matching is by prefix, as with health checks and static asset trees.
func (l *Limiter) exempt(path string) bool {
	for _, prefix := range l.cfg.ExemptPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// logDecision logs a denial or store failure with the fields the error
// handling design requires: identity, path, and cause.
func logDecision(req Request, d Decision, err error) {
	if err != nil {
		slog.Error("rate limit store failure",
			"identity", req.Identity,
			"path", req.Path,
			"allowed", d.Allowed,
			"error", err,
		)
		return
	}
	if !d.Allowed {
		slog.Warn("rate limit exceeded",
			"identity", req.Identity,
			"path", req.Path,
			"limit", d.Limit,
		)
	}
}
