package storage

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"ipguard/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data
// structures. It is intended for development and testing; data is lost on
// restart.
type MemoryStorage struct {
	mu       sync.RWMutex
	requests []*models.RequestLog
	nextID   int64
	flags    map[string]*models.SuspicionFlag // keyed by flag ID
	blocked  map[string]*models.BlockedIP     // keyed by IP
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates a new memory-based storage instance.
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		nextID:  1,
		flags:   make(map[string]*models.SuspicionFlag),
		blocked: make(map[string]*models.BlockedIP),
	}, nil
}

// SaveRequest appends one request log record.
func (m *MemoryStorage) SaveRequest(ctx context.Context, entry *models.RequestLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entryCopy := *entry
	entryCopy.ID = m.nextID
	m.nextID++
	m.requests = append(m.requests, &entryCopy)
	entry.ID = entryCopy.ID
	return nil
}

// DistinctIPs returns every IP seen since the given time.
func (m *MemoryStorage) DistinctIPs(ctx context.Context, since time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, r := range m.requests {
		if !r.Timestamp.Before(since) {
			seen[r.IPAddress] = struct{}{}
		}
	}

	ips := make([]string, 0, len(seen))
	for ip := range seen {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return ips, nil
}

// CountRequests returns the number of requests from ip since the given time.
func (m *MemoryStorage) CountRequests(ctx context.Context, ip string, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, r := range m.requests {
		if r.IPAddress == ip && !r.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

// CountPathMatches counts requests from ip whose path starts with any prefix.
func (m *MemoryStorage) CountPathMatches(ctx context.Context, ip string, pathPrefixes []string, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, r := range m.requests {
		if r.IPAddress != ip || r.Timestamp.Before(since) {
			continue
		}
		for _, prefix := range pathPrefixes {
			if strings.HasPrefix(r.Path, prefix) {
				count++
				break
			}
		}
	}
	return count, nil
}

// CountFailedLogins counts failed login attempts from ip.
func (m *MemoryStorage) CountFailedLogins(ctx context.Context, ip string, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, r := range m.requests {
		if r.IPAddress == ip && r.FailedLogin && !r.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

// GetActiveFlag returns the active flag for (ip, reason), newest first.
func (m *MemoryStorage) GetActiveFlag(ctx context.Context, ip string, reason models.Reason) (*models.SuspicionFlag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []*models.SuspicionFlag
	for _, f := range m.flags {
		if f.IsActive && f.IPAddress == ip && f.Reason == reason {
			matches = append(matches, f)
		}
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	if len(matches) > 1 {
		slog.Warn("duplicate active suspicion flags; using newest",
			"ip", ip, "reason", reason, "count", len(matches))
		sort.Slice(matches, func(i, j int) bool {
			return matches[i].LastSeen.After(matches[j].LastSeen)
		})
	}

	flagCopy := *matches[0]
	return &flagCopy, nil
}

// SaveFlag inserts or updates a flag by ID.
func (m *MemoryStorage) SaveFlag(ctx context.Context, flag *models.SuspicionFlag) error {
	if err := flag.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	flagCopy := *flag
	m.flags[flag.ID] = &flagCopy
	return nil
}

// ListFlags returns flags ordered by last_seen descending.
func (m *MemoryStorage) ListFlags(ctx context.Context, activeOnly bool) ([]*models.SuspicionFlag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flags := make([]*models.SuspicionFlag, 0, len(m.flags))
	for _, f := range m.flags {
		if activeOnly && !f.IsActive {
			continue
		}
		flagCopy := *f
		flags = append(flags, &flagCopy)
	}
	sort.Slice(flags, func(i, j int) bool {
		return flags[i].LastSeen.After(flags[j].LastSeen)
	})
	return flags, nil
}

// DeactivateFlagsBefore deactivates active flags last seen before cutoff.
func (m *MemoryStorage) DeactivateFlagsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, f := range m.flags {
		if f.IsActive && f.LastSeen.Before(cutoff) {
			f.IsActive = false
			count++
		}
	}
	return count, nil
}

// IsBlocked reports whether ip is on the blocklist.
func (m *MemoryStorage) IsBlocked(ctx context.Context, ip string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.blocked[ip]
	return exists, nil
}

// BlockIP adds ip to the blocklist.
func (m *MemoryStorage) BlockIP(ctx context.Context, entry *models.BlockedIP) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.blocked[entry.IPAddress]; exists {
		return ErrAlreadyExists
	}
	entryCopy := *entry
	m.blocked[entry.IPAddress] = &entryCopy
	return nil
}

// UnblockIP removes ip from the blocklist.
func (m *MemoryStorage) UnblockIP(ctx context.Context, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.blocked[ip]; !exists {
		return ErrNotFound
	}
	delete(m.blocked, ip)
	return nil
}

// ListBlockedIPs returns blocklist entries, newest first.
func (m *MemoryStorage) ListBlockedIPs(ctx context.Context) ([]*models.BlockedIP, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blocked := make([]*models.BlockedIP, 0, len(m.blocked))
	for _, b := range m.blocked {
		entryCopy := *b
		blocked = append(blocked, &entryCopy)
	}
	sort.Slice(blocked, func(i, j int) bool {
		return blocked[i].CreatedAt.After(blocked[j].CreatedAt)
	})
	return blocked, nil
}

// Ping always succeeds for the in-process store.
func (m *MemoryStorage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op for memory storage.
func (m *MemoryStorage) Close() error {
	return nil
}
