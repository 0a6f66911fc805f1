package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ipguard/internal/models"
)

// PostgresStorage implements the Storage interface using PostgreSQL via a
// pgx connection pool. A partial unique index on (ip_address, reason)
// WHERE is_active enforces the single-active-flag invariant at the
// database level.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

var _ Storage = (*PostgresStorage)(nil)

const pgSchema = `
CREATE TABLE IF NOT EXISTS request_logs (
	id           BIGSERIAL PRIMARY KEY,
	ip_address   TEXT        NOT NULL,
	method       TEXT        NOT NULL DEFAULT '',
	path         TEXT        NOT NULL,
	status_code  INTEGER     NOT NULL DEFAULT 0,
	failed_login BOOLEAN     NOT NULL DEFAULT FALSE,
	ts           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_request_logs_ip ON request_logs (ip_address);
CREATE INDEX IF NOT EXISTS idx_request_logs_ts ON request_logs (ts);

CREATE TABLE IF NOT EXISTS suspicion_flags (
	id            TEXT        PRIMARY KEY,
	ip_address    TEXT        NOT NULL,
	reason        TEXT        NOT NULL,
	details       TEXT        NOT NULL DEFAULT '',
	request_count BIGINT      NOT NULL DEFAULT 0,
	first_seen    TIMESTAMPTZ NOT NULL,
	last_seen     TIMESTAMPTZ NOT NULL,
	is_active     BOOLEAN     NOT NULL DEFAULT TRUE
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_suspicion_flags_active
	ON suspicion_flags (ip_address, reason) WHERE is_active;

CREATE TABLE IF NOT EXISTS blocked_ips (
	ip_address TEXT        PRIMARY KEY,
	reason     TEXT        NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStorage creates a new PostgreSQL storage instance and ensures
// the schema exists.
func NewPostgresStorage(config Config) (Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolCfg, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(config.MaxOpenConns)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// SaveRequest appends one request log record.
func (ps *PostgresStorage) SaveRequest(ctx context.Context, entry *models.RequestLog) error {
	err := ps.pool.QueryRow(ctx,
		`INSERT INTO request_logs (ip_address, method, path, status_code, failed_login, ts)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		entry.IPAddress, entry.Method, entry.Path, entry.StatusCode, entry.FailedLogin, entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to save request log: %w", err)
	}
	return nil
}

// DistinctIPs returns every IP seen since the given time.
func (ps *PostgresStorage) DistinctIPs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT DISTINCT ip_address FROM request_logs WHERE ts >= $1 ORDER BY ip_address`, since)
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
func (ps *PostgresStorage) CountRequests(ctx context.Context, ip string, since time.Time) (int64, error) {
	var count int64
	err := ps.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM request_logs WHERE ip_address = $1 AND ts >= $2`, ip, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return count, nil
}

// CountPathMatches counts requests from ip whose path starts with any prefix.
func (ps *PostgresStorage) CountPathMatches(ctx context.Context, ip string, pathPrefixes []string, since time.Time) (int64, error) {
	if len(pathPrefixes) == 0 {
		return 0, nil
	}

	args := []any{ip, since}
	conds := make([]string, 0, len(pathPrefixes))
	for _, prefix := range pathPrefixes {
		args = append(args, prefix+"%")
		conds = append(conds, fmt.Sprintf("path LIKE $%d", len(args)))
	}

	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM request_logs WHERE ip_address = $1 AND ts >= $2 AND (%s)`,
		strings.Join(conds, " OR "))

	var count int64
	if err := ps.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count path matches: %w", err)
	}
	return count, nil
}

// CountFailedLogins counts failed login attempts from ip.
func (ps *PostgresStorage) CountFailedLogins(ctx context.Context, ip string, since time.Time) (int64, error) {
	var count int64
	err := ps.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM request_logs WHERE ip_address = $1 AND ts >= $2 AND failed_login`, ip, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed logins: %w", err)
	}
	return count, nil
}

// GetActiveFlag returns the active flag for (ip, reason). The newest row by
// last_seen is authoritative should the unique index ever be violated.
func (ps *PostgresStorage) GetActiveFlag(ctx context.Context, ip string, reason models.Reason) (*models.SuspicionFlag, error) {
	flag := &models.SuspicionFlag{}
	err := ps.pool.QueryRow(ctx,
		`SELECT id, ip_address, reason, details, request_count, first_seen, last_seen, is_active
		 FROM suspicion_flags
		 WHERE ip_address = $1 AND reason = $2 AND is_active
		 ORDER BY last_seen DESC LIMIT 1`,
		ip, string(reason),
	).Scan(&flag.ID, &flag.IPAddress, &flag.Reason, &flag.Details,
		&flag.RequestCount, &flag.FirstSeen, &flag.LastSeen, &flag.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active flag: %w", err)
	}
	return flag, nil
}

// SaveFlag inserts or updates a flag by ID.
func (ps *PostgresStorage) SaveFlag(ctx context.Context, flag *models.SuspicionFlag) error {
	if err := flag.Validate(); err != nil {
		return err
	}

	_, err := ps.pool.Exec(ctx,
		`INSERT INTO suspicion_flags (id, ip_address, reason, details, request_count, first_seen, last_seen, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			details = EXCLUDED.details,
			request_count = EXCLUDED.request_count,
			last_seen = EXCLUDED.last_seen,
			is_active = EXCLUDED.is_active`,
		flag.ID, flag.IPAddress, string(flag.Reason), flag.Details,
		flag.RequestCount, flag.FirstSeen, flag.LastSeen, flag.IsActive)
	if err != nil {
		return fmt.Errorf("failed to save flag: %w", err)
	}
	return nil
}

// ListFlags returns flags ordered by last_seen descending.
func (ps *PostgresStorage) ListFlags(ctx context.Context, activeOnly bool) ([]*models.SuspicionFlag, error) {
	query := `SELECT id, ip_address, reason, details, request_count, first_seen, last_seen, is_active
	          FROM suspicion_flags`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY last_seen DESC`

	rows, err := ps.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query flags: %w", err)
	}
	defer rows.Close()

	var flags []*models.SuspicionFlag
	for rows.Next() {
		flag := &models.SuspicionFlag{}
		if err := rows.Scan(&flag.ID, &flag.IPAddress, &flag.Reason, &flag.Details,
			&flag.RequestCount, &flag.FirstSeen, &flag.LastSeen, &flag.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan flag: %w", err)
		}
		flags = append(flags, flag)
	}
	return flags, rows.Err()
}

// DeactivateFlagsBefore deactivates active flags last seen before cutoff.
func (ps *PostgresStorage) DeactivateFlagsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := ps.pool.Exec(ctx,
		`UPDATE suspicion_flags SET is_active = FALSE WHERE is_active AND last_seen < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate flags: %w", err)
	}
	return tag.RowsAffected(), nil
}

// IsBlocked reports whether ip is on the blocklist.
func (ps *PostgresStorage) IsBlocked(ctx context.Context, ip string) (bool, error) {
	var exists bool
	err := ps.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM blocked_ips WHERE ip_address = $1)`, ip,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check blocklist: %w", err)
	}
	return exists, nil
}

// BlockIP adds ip to the blocklist.
func (ps *PostgresStorage) BlockIP(ctx context.Context, entry *models.BlockedIP) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	_, err := ps.pool.Exec(ctx,
		`INSERT INTO blocked_ips (ip_address, reason, created_at) VALUES ($1, $2, $3)`,
		entry.IPAddress, entry.Reason, entry.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to block IP: %w", err)
	}
	return nil
}

// UnblockIP removes ip from the blocklist.
func (ps *PostgresStorage) UnblockIP(ctx context.Context, ip string) error {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM blocked_ips WHERE ip_address = $1`, ip)
	if err != nil {
		return fmt.Errorf("failed to unblock IP: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBlockedIPs returns blocklist entries, newest first.
func (ps *PostgresStorage) ListBlockedIPs(ctx context.Context) ([]*models.BlockedIP, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT ip_address, reason, created_at FROM blocked_ips ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocklist: %w", err)
	}
	defer rows.Close()

	var blocked []*models.BlockedIP
	for rows.Next() {
		entry := &models.BlockedIP{}
		if err := rows.Scan(&entry.IPAddress, &entry.Reason, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan blocklist entry: %w", err)
		}
		blocked = append(blocked, entry)
	}
	return blocked, rows.Err()
}

// Ping verifies the database connection.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}
