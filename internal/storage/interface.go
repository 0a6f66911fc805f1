// Package storage defines the persistence interface for request logs,
// suspicion flags, and the blocklist, with memory, PostgreSQL, and SQLite
// implementations behind a factory.
package storage

import (
	"context"
	"time"

	"ipguard/internal/models"
)

// Storage is the persistence contract shared by the tracking middleware,
// the detection batch jobs, and the admin API. Implementations must be
// safe for concurrent use.
type Storage interface {
	// SaveRequest appends one request log record.
	SaveRequest(ctx context.Context, entry *models.RequestLog) error

	// DistinctIPs returns every IP with at least one request since the
	// given time.
	DistinctIPs(ctx context.Context, since time.Time) ([]string, error)

	// CountRequests returns the number of requests from ip since the given time.
	CountRequests(ctx context.Context, ip string, since time.Time) (int64, error)

	// CountPathMatches returns the number of requests from ip since the
	// given time whose path starts with any of the given prefixes.
	CountPathMatches(ctx context.Context, ip string, pathPrefixes []string, since time.Time) (int64, error)

	// CountFailedLogins returns the number of failed login attempts from ip
	// since the given time.
	CountFailedLogins(ctx context.Context, ip string, since time.Time) (int64, error)

	// GetActiveFlag returns the active suspicion flag for (ip, reason), or
	// ErrNotFound when none exists. If data inconsistency left more than
	// one active row for the pair, the newest (by last_seen) is
	// authoritative.
	GetActiveFlag(ctx context.Context, ip string, reason models.Reason) (*models.SuspicionFlag, error)

	// SaveFlag inserts the flag, or updates it when a row with the same ID
	// already exists.
	SaveFlag(ctx context.Context, flag *models.SuspicionFlag) error

	// ListFlags returns suspicion flags, restricted to active ones when
	// activeOnly is set. Results are ordered by last_seen descending.
	ListFlags(ctx context.Context, activeOnly bool) ([]*models.SuspicionFlag, error)

	// DeactivateFlagsBefore deactivates every active flag whose last_seen
	// is strictly before cutoff and returns how many were deactivated.
	// Rows are never deleted.
	DeactivateFlagsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// IsBlocked reports whether ip is on the blocklist.
	IsBlocked(ctx context.Context, ip string) (bool, error)

	// BlockIP adds ip to the blocklist. Returns ErrAlreadyExists when the
	// IP is already blocked; the existing entry is left untouched.
	BlockIP(ctx context.Context, entry *models.BlockedIP) error

	// UnblockIP removes ip from the blocklist. Returns ErrNotFound when
	// the IP is not blocked.
	UnblockIP(ctx context.Context, ip string) error

	// ListBlockedIPs returns all blocklist entries, newest first.
	ListBlockedIPs(ctx context.Context) ([]*models.BlockedIP, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources.
	Close() error
}

// Config holds configuration for storage backends.
type Config struct {
	// Type specifies the storage backend type (memory, postgres, sqlite).
	Type string `json:"type" yaml:"type"`

	// ConnectionString is the DSN for database backends.
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// MaxOpenConns bounds the database connection pool.
	MaxOpenConns int `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
}
