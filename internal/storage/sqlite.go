package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ipguard/internal/models"
)

// SQLiteStorage implements the Storage interface using SQLite via the
// CGO-free modernc driver, for single-node deployments that want
// durability without running a database server. Timestamps are stored as
// unix nanoseconds so range comparisons stay integer comparisons.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS request_logs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	ip_address   TEXT    NOT NULL,
	method       TEXT    NOT NULL DEFAULT '',
	path         TEXT    NOT NULL,
	status_code  INTEGER NOT NULL DEFAULT 0,
	failed_login INTEGER NOT NULL DEFAULT 0,
	ts           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_request_logs_ip ON request_logs (ip_address);
CREATE INDEX IF NOT EXISTS idx_request_logs_ts ON request_logs (ts);

CREATE TABLE IF NOT EXISTS suspicion_flags (
	id            TEXT    PRIMARY KEY,
	ip_address    TEXT    NOT NULL,
	reason        TEXT    NOT NULL,
	details       TEXT    NOT NULL DEFAULT '',
	request_count INTEGER NOT NULL DEFAULT 0,
	first_seen    INTEGER NOT NULL,
	last_seen     INTEGER NOT NULL,
	is_active     INTEGER NOT NULL DEFAULT 1
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_suspicion_flags_active
	ON suspicion_flags (ip_address, reason) WHERE is_active = 1;

CREATE TABLE IF NOT EXISTS blocked_ips (
	ip_address TEXT    PRIMARY KEY,
	reason     TEXT    NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
`

// NewSQLiteStorage creates a new SQLite storage instance and ensures the
// schema exists.
func NewSQLiteStorage(config Config) (Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite serializes writes; one connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// SaveRequest appends one request log record.
func (ss *SQLiteStorage) SaveRequest(ctx context.Context, entry *models.RequestLog) error {
	res, err := ss.db.ExecContext(ctx,
		`INSERT INTO request_logs (ip_address, method, path, status_code, failed_login, ts)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.IPAddress, entry.Method, entry.Path, entry.StatusCode,
		boolToInt(entry.FailedLogin), entry.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save request log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// DistinctIPs returns every IP seen since the given time.
func (ss *SQLiteStorage) DistinctIPs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := ss.db.QueryContext(ctx,
		`SELECT DISTINCT ip_address FROM request_logs WHERE ts >= ? ORDER BY ip_address`,
		since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct IPs: %w", err)
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("failed to scan IP: %w", err)
		}
		ips = append(ips, ip)
	}
	return ips, rows.Err()
}

// CountRequests returns the number of requests from ip since the given time.
func (ss *SQLiteStorage) CountRequests(ctx context.Context, ip string, since time.Time) (int64, error) {
	var count int64
	err := ss.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM request_logs WHERE ip_address = ? AND ts >= ?`,
		ip, since.UnixNano()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return count, nil
}

// CountPathMatches counts requests from ip whose path starts with any prefix.
func (ss *SQLiteStorage) CountPathMatches(ctx context.Context, ip string, pathPrefixes []string, since time.Time) (int64, error) {
	if len(pathPrefixes) == 0 {
		return 0, nil
	}

	args := []any{ip, since.UnixNano()}
	conds := make([]string, 0, len(pathPrefixes))
	for _, prefix := range pathPrefixes {
		args = append(args, prefix+"%")
		conds = append(conds, "path LIKE ?")
	}

	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM request_logs WHERE ip_address = ? AND ts >= ? AND (%s)`,
		strings.Join(conds, " OR "))

	var count int64
	if err := ss.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count path matches: %w", err)
	}
	return count, nil
}

// CountFailedLogins counts failed login attempts from ip.
func (ss *SQLiteStorage) CountFailedLogins(ctx context.Context, ip string, since time.Time) (int64, error) {
	var count int64
	err := ss.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM request_logs WHERE ip_address = ? AND ts >= ? AND failed_login = 1`,
		ip, since.UnixNano()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed logins: %w", err)
	}
	return count, nil
}

// GetActiveFlag returns the active flag for (ip, reason).
func (ss *SQLiteStorage) GetActiveFlag(ctx context.Context, ip string, reason models.Reason) (*models.SuspicionFlag, error) {
	row := ss.db.QueryRowContext(ctx,
		`SELECT id, ip_address, reason, details, request_count, first_seen, last_seen, is_active
		 FROM suspicion_flags
		 WHERE ip_address = ? AND reason = ? AND is_active = 1
		 ORDER BY last_seen DESC LIMIT 1`,
		ip, string(reason))

	flag, err := scanFlag(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active flag: %w", err)
	}
	return flag, nil
}

// SaveFlag inserts or updates a flag by ID.
func (ss *SQLiteStorage) SaveFlag(ctx context.Context, flag *models.SuspicionFlag) error {
	if err := flag.Validate(); err != nil {
		return err
	}

	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO suspicion_flags (id, ip_address, reason, details, request_count, first_seen, last_seen, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			details = excluded.details,
			request_count = excluded.request_count,
			last_seen = excluded.last_seen,
			is_active = excluded.is_active`,
		flag.ID, flag.IPAddress, string(flag.Reason), flag.Details, flag.RequestCount,
		flag.FirstSeen.UnixNano(), flag.LastSeen.UnixNano(), boolToInt(flag.IsActive))
	if err != nil {
		return fmt.Errorf("failed to save flag: %w", err)
	}
	return nil
}

// ListFlags returns flags ordered by last_seen descending.
func (ss *SQLiteStorage) ListFlags(ctx context.Context, activeOnly bool) ([]*models.SuspicionFlag, error) {
	query := `SELECT id, ip_address, reason, details, request_count, first_seen, last_seen, is_active
	          FROM suspicion_flags`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY last_seen DESC`

	rows, err := ss.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query flags: %w", err)
	}
	defer rows.Close()

	var flags []*models.SuspicionFlag
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flag: %w", err)
		}
		flags = append(flags, flag)
	}
	return flags, rows.Err()
}

// DeactivateFlagsBefore deactivates active flags last seen before cutoff.
func (ss *SQLiteStorage) DeactivateFlagsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := ss.db.ExecContext(ctx,
		`UPDATE suspicion_flags SET is_active = 0 WHERE is_active = 1 AND last_seen < ?`,
		cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate flags: %w", err)
	}
	return res.RowsAffected()
}

// IsBlocked reports whether ip is on the blocklist.
func (ss *SQLiteStorage) IsBlocked(ctx context.Context, ip string) (bool, error) {
	var exists int
	err := ss.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM blocked_ips WHERE ip_address = ?)`, ip).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check blocklist: %w", err)
	}
	return exists == 1, nil
}

// BlockIP adds ip to the blocklist.
func (ss *SQLiteStorage) BlockIP(ctx context.Context, entry *models.BlockedIP) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	res, err := ss.db.ExecContext(ctx,
		`INSERT INTO blocked_ips (ip_address, reason, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (ip_address) DO NOTHING`,
		entry.IPAddress, entry.Reason, entry.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to block IP: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to block IP: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// UnblockIP removes ip from the blocklist.
func (ss *SQLiteStorage) UnblockIP(ctx context.Context, ip string) error {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM blocked_ips WHERE ip_address = ?`, ip)
	if err != nil {
		return fmt.Errorf("failed to unblock IP: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to unblock IP: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBlockedIPs returns blocklist entries, newest first.
func (ss *SQLiteStorage) ListBlockedIPs(ctx context.Context) ([]*models.BlockedIP, error) {
	rows, err := ss.db.QueryContext(ctx,
		`SELECT ip_address, reason, created_at FROM blocked_ips ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocklist: %w", err)
	}
	defer rows.Close()

	var blocked []*models.BlockedIP
	for rows.Next() {
		var createdAt int64
		entry := &models.BlockedIP{}
		if err := rows.Scan(&entry.IPAddress, &entry.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan blocklist entry: %w", err)
		}
		entry.CreatedAt = time.Unix(0, createdAt)
		blocked = append(blocked, entry)
	}
	return blocked, rows.Err()
}

// Ping verifies the database connection.
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection.
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanFlag reads one suspicion flag row, converting stored unix
// nanoseconds back to time.Time.
func scanFlag(row rowScanner) (*models.SuspicionFlag, error) {
	var firstSeen, lastSeen int64
	var isActive int
	flag := &models.SuspicionFlag{}
	err := row.Scan(&flag.ID, &flag.IPAddress, &flag.Reason, &flag.Details,
		&flag.RequestCount, &firstSeen, &lastSeen, &isActive)
	if err != nil {
		return nil, err
	}
	flag.FirstSeen = time.Unix(0, firstSeen)
	flag.LastSeen = time.Unix(0, lastSeen)
	flag.IsActive = isActive == 1
	return flag, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
