package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"ipguard/internal/models"
	"ipguard/internal/storage"
)

// Escalator promotes IPs that have accumulated active suspicion flags for
// several distinct reasons onto the blocklist. Escalation is idempotent:
// already-blocked IPs are left alone and a concurrent block of the same IP
// is treated as success.
type Escalator struct {
	flags     FlagStore
	blocklist Blocklist
	threshold int
}

// NewEscalator creates an escalator that blocks IPs holding active flags
// for at least threshold distinct reasons.
func NewEscalator(flags FlagStore, blocklist Blocklist, threshold int) (*Escalator, error) {
	if flags == nil || blocklist == nil {
		return nil, fmt.Errorf("flag store and blocklist are required")
	}
	if threshold < 1 {
		return nil, fmt.Errorf("escalation threshold must be at least 1, got %d", threshold)
	}
	return &Escalator{flags: flags, blocklist: blocklist, threshold: threshold}, nil
}

// Escalate groups active flags by IP and blocks every IP whose distinct
// reason count meets the threshold. It returns the IPs newly blocked in
// this run. A failure for one IP is logged and does not abort the others.
func (e *Escalator) Escalate(ctx context.Context, now time.Time) ([]string, error) {
	flags, err := e.flags.ListFlags(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list active flags: %w", err)
	}

	reasonsByIP := make(map[string]map[models.Reason]struct{})
	for _, f := range flags {
		set, ok := reasonsByIP[f.IPAddress]
		if !ok {
			set = make(map[models.Reason]struct{})
			reasonsByIP[f.IPAddress] = set
		}
		set[f.Reason] = struct{}{}
	}

	var blocked []string
	for ip, reasons := range reasonsByIP {
		if len(reasons) < e.threshold {
			continue
		}

		isBlocked, err := e.blocklist.IsBlocked(ctx, ip)
		if err != nil {
			slog.Error("blocklist check failed during escalation", "ip", ip, "error", err)
			continue
		}
		if isBlocked {
			continue
		}

		entry := models.NewBlockedIP(ip, escalationReason(reasons), now)
		if err := e.blocklist.BlockIP(ctx, entry); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}
			slog.Error("escalation block failed", "ip", ip, "error", err)
			continue
		}

		slog.Warn("IP escalated to blocklist",
			"ip", ip, "distinct_reasons", len(reasons), "reason", entry.Reason)
		blocked = append(blocked, ip)
	}

	slog.Info("escalation pass completed",
		"flagged_ips", len(reasonsByIP), "blocked", len(blocked))
	return blocked, nil
}

// escalationReason builds a deterministic human-readable block reason from
// the distinct flag reasons.
func escalationReason(reasons map[models.Reason]struct{}) string {
	descriptions := make([]string, 0, len(reasons))
	for r := range reasons {
		descriptions = append(descriptions, r.Description())
	}
	sort.Strings(descriptions)
	return "Auto-blocked for multiple suspicious activities: " + strings.Join(descriptions, ", ")
}
