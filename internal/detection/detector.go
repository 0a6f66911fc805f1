// Package detection implements the batch side of the threat engine: the
// anomaly detector that turns request history into suspicion flags, the
// escalator that promotes repeatedly-flagged IPs to the blocklist, and the
// reaper that retires stale flags. The three jobs are stateless and
// idempotent; any scheduler may invoke them in any order, and all durable
// state lives in storage.
package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ipguard/internal/models"
	"ipguard/internal/storage"
)

// ActivityLog is the read-only aggregation interface over recorded
// requests that the detector classifies against.
type ActivityLog interface {
	DistinctIPs(ctx context.Context, since time.Time) ([]string, error)
	CountRequests(ctx context.Context, ip string, since time.Time) (int64, error)
	CountPathMatches(ctx context.Context, ip string, pathPrefixes []string, since time.Time) (int64, error)
	CountFailedLogins(ctx context.Context, ip string, since time.Time) (int64, error)
}

// FlagStore persists suspicion flags.
type FlagStore interface {
	GetActiveFlag(ctx context.Context, ip string, reason models.Reason) (*models.SuspicionFlag, error)
	SaveFlag(ctx context.Context, flag *models.SuspicionFlag) error
	ListFlags(ctx context.Context, activeOnly bool) ([]*models.SuspicionFlag, error)
	DeactivateFlagsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Blocklist is the read/write blocklist interface the batch jobs consult.
type Blocklist interface {
	IsBlocked(ctx context.Context, ip string) (bool, error)
	BlockIP(ctx context.Context, entry *models.BlockedIP) error
}

// classifier is one independent detection rule.
type classifier struct {
	reason    models.Reason
	threshold int64
	count     func(ctx context.Context, ip string, since time.Time) (int64, error)
	details   func(count, threshold int64) string
}

// Detector runs a fixed battery of classifiers over the trailing activity
// window and upserts suspicion flags for every rule an IP exceeds.
// Classifiers are independent: one IP may collect several reasons in a
// single scan, and a failing classifier never blocks the others.
type Detector struct {
	log         ActivityLog
	flags       FlagStore
	blocklist   Blocklist
	cfg         models.DetectionConfig
	classifiers []classifier
}

// NewDetector creates a detector over the given collaborators.
func NewDetector(log ActivityLog, flags FlagStore, blocklist Blocklist, cfg models.DetectionConfig) (*Detector, error) {
	if log == nil || flags == nil || blocklist == nil {
		return nil, fmt.Errorf("activity log, flag store, and blocklist are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("detection config: %w", err)
	}

	d := &Detector{log: log, flags: flags, blocklist: blocklist, cfg: cfg}
	d.classifiers = []classifier{
		{
			reason:    models.ReasonHighVolume,
			threshold: cfg.HighVolumeThreshold,
			count:     log.CountRequests,
			details: func(count, threshold int64) string {
				return fmt.Sprintf("IP made %d requests in the last hour (threshold: %d)", count, threshold)
			},
		},
		{
			reason:    models.ReasonSensitivePaths,
			threshold: cfg.SensitivePathThreshold,
			count: func(ctx context.Context, ip string, since time.Time) (int64, error) {
				return log.CountPathMatches(ctx, ip, cfg.SensitivePaths, since)
			},
			details: func(count, threshold int64) string {
				return fmt.Sprintf("IP accessed sensitive paths %d times in the last hour (threshold: %d)", count, threshold)
			},
		},
		{
			reason:    models.ReasonFailedLogins,
			threshold: cfg.FailedLoginThreshold,
			count:     log.CountFailedLogins,
			details: func(count, threshold int64) string {
				return fmt.Sprintf("IP made %d failed login attempts in the last hour (threshold: %d)", count, threshold)
			},
		},
		{
			reason:    models.ReasonAdminAccess,
			threshold: cfg.AdminAccessThreshold,
			count: func(ctx context.Context, ip string, since time.Time) (int64, error) {
				return log.CountPathMatches(ctx, ip, cfg.AdminPaths, since)
			},
			details: func(count, threshold int64) string {
				return fmt.Sprintf("IP attempted admin access %d times in the last hour (threshold: %d)", count, threshold)
			},
		},
		{
			// Evaluated independently of high_volume; an IP above both
			// thresholds carries both flags as separate audit signals.
			reason:    models.ReasonBruteForce,
			threshold: cfg.BruteForceThreshold,
			count:     log.CountRequests,
			details: func(count, threshold int64) string {
				return fmt.Sprintf("IP shows brute force pattern with %d requests in the last hour (threshold: %d)", count, threshold)
			},
		},
	}
	return d, nil
}

// Scan classifies every IP active in the trailing window ending at now and
// upserts a suspicion flag per exceeded rule. IPs already on the blocklist
// are skipped. Classifier and upsert failures are logged per IP and reason
// and do not abort the rest of the scan; only a failure to enumerate IPs
// fails the scan as a whole.
func (d *Detector) Scan(ctx context.Context, now time.Time) ([]models.Finding, error) {
	since := now.Add(-d.cfg.Window)

	ips, err := d.log.DistinctIPs(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("enumerate active IPs: %w", err)
	}

	slog.Info("anomaly scan started", "since", since, "ips", len(ips))

	var findings []models.Finding
	for _, ip := range ips {
		findings = append(findings, d.scanIP(ctx, ip, since, now)...)
	}

	slog.Info("anomaly scan completed", "ips", len(ips), "findings", len(findings))
	return findings, nil
}

// scanIP runs every classifier for one IP. Each classifier gets its own
// query timeout so one slow query cannot stall the whole scan.
func (d *Detector) scanIP(ctx context.Context, ip string, since, now time.Time) []models.Finding {
	blocked, err := d.blocklist.IsBlocked(ctx, ip)
	if err != nil {
		// Skipping blocked IPs is an optimization; classify anyway.
		slog.Warn("blocklist check failed, classifying anyway", "ip", ip, "error", err)
	} else if blocked {
		return nil
	}

	var findings []models.Finding
	for _, c := range d.classifiers {
		queryCtx, cancel := context.WithTimeout(ctx, d.cfg.QueryTimeout)
		count, err := c.count(queryCtx, ip, since)
		cancel()
		if err != nil {
			slog.Error("classifier query failed",
				"ip", ip, "reason", c.reason, "error", err)
			continue
		}
		if count <= c.threshold {
			continue
		}

		details := c.details(count, c.threshold)
		if err := d.upsertFlag(ctx, ip, c.reason, details, count, now); err != nil {
			slog.Error("flag upsert failed",
				"ip", ip, "reason", c.reason, "error", err)
			continue
		}

		slog.Warn("suspicious IP flagged",
			"ip", ip, "reason", c.reason, "count", count)
		findings = append(findings, models.Finding{IPAddress: ip, Reason: c.reason, Count: count})
	}
	return findings
}

// upsertFlag finds the active flag for (ip, reason) and updates it, or
// creates a new one. The read-then-write is safe because scans run
// single-threaded per IP; the storage layer's partial unique index backs
// it up.
func (d *Detector) upsertFlag(ctx context.Context, ip string, reason models.Reason, details string, count int64, now time.Time) error {
	flag, err := d.flags.GetActiveFlag(ctx, ip, reason)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		flag = models.NewSuspicionFlag(ip, reason, details, count, now)
	case err != nil:
		return err
	default:
		flag.Touch(count, details, now)
	}
	return d.flags.SaveFlag(ctx, flag)
}
