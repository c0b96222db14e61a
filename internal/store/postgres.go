package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS speed_results (
    id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    user_id TEXT NOT NULL,
    hostname TEXT,
    timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    download_mbps DOUBLE PRECISION NOT NULL DEFAULT 0,
    upload_mbps DOUBLE PRECISION NOT NULL DEFAULT 0,
    ping_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
    network_ssid TEXT,
    external_ip TEXT,
    status TEXT NOT NULL DEFAULT 'success',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_speed_results_user_id ON speed_results (user_id);
CREATE INDEX IF NOT EXISTS idx_speed_results_timestamp ON speed_results (timestamp);
`

// NewPostgresStore connects to PostgreSQL using the supplied connection
// string and ensures the schema exists. Schema creation is idempotent, so
// repeated startup against an existing database is a no-op.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// Verify connection on startup.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases database resources.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

func (p *PostgresStore) InsertResult(ctx context.Context, sub Submission) (int64, error) {
	sub, err := normalize(sub, time.Now())
	if err != nil {
		return 0, err
	}

	const insert = `
INSERT INTO speed_results (
    user_id, hostname, timestamp, download_mbps, upload_mbps, ping_ms,
    network_ssid, external_ip, status
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id;
`
	var id int64
	err = p.pool.QueryRow(ctx, insert,
		sub.UserID,
		nullString(sub.Hostname),
		*sub.Timestamp,
		sub.DownloadMbps,
		sub.UploadMbps,
		sub.PingMs,
		nullString(sub.NetworkSSID),
		nullString(sub.ExternalIP),
		sub.Status,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

const pgResultColumns = `
SELECT id, user_id, hostname, timestamp, download_mbps, upload_mbps,
       ping_ms, network_ssid, external_ip, status, created_at
  FROM speed_results
`

func (p *PostgresStore) ListResults(ctx context.Context, q ListQuery) ([]SpeedResult, error) {
	// Two fixed query variants selected by a branch; the user filter is
	// always bound as a parameter, never concatenated in.
	const unfiltered = pgResultColumns + `
 ORDER BY timestamp DESC
 LIMIT $1 OFFSET $2;
`
	const filtered = pgResultColumns + `
 WHERE user_id = $1
 ORDER BY timestamp DESC
 LIMIT $2 OFFSET $3;
`
	var (
		query string
		args  []any
	)
	if q.UserID != "" {
		query = filtered
		args = []any{q.UserID, q.Limit, q.Offset}
	} else {
		query = unfiltered
		args = []any{q.Limit, q.Offset}
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

func (p *PostgresStore) ListUserResults(ctx context.Context, userID string, limit int) ([]SpeedResult, error) {
	const query = pgResultColumns + `
 WHERE user_id = $1
 ORDER BY timestamp DESC
 LIMIT $2;
`
	rows, err := p.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

func (p *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{PerUser: []UserStats{}, Hourly: []HourlyStats{}}

	const overall = `
SELECT COUNT(*),
       COUNT(DISTINCT user_id),
       ROUND(AVG(download_mbps)::numeric, 2),
       ROUND(AVG(upload_mbps)::numeric, 2),
       ROUND(AVG(ping_ms)::numeric, 2),
       ROUND(MIN(download_mbps)::numeric, 2),
       ROUND(MAX(download_mbps)::numeric, 2)
  FROM speed_results
 WHERE status = $1;
`
	row := p.pool.QueryRow(ctx, overall, StatusSuccess)
	if err := row.Scan(
		&stats.Overall.TotalTests,
		&stats.Overall.TotalUsers,
		&stats.Overall.AvgDownload,
		&stats.Overall.AvgUpload,
		&stats.Overall.AvgPing,
		&stats.Overall.MinDownload,
		&stats.Overall.MaxDownload,
	); err != nil {
		return Stats{}, err
	}

	const perUser = `
SELECT user_id,
       (array_agg(hostname ORDER BY timestamp DESC))[1],
       COUNT(*),
       ROUND(AVG(download_mbps)::numeric, 2),
       ROUND(AVG(upload_mbps)::numeric, 2),
       ROUND(AVG(ping_ms)::numeric, 2),
       MAX(timestamp)
  FROM speed_results
 WHERE status = $1
 GROUP BY user_id
 ORDER BY 4 DESC;
`
	rows, err := p.pool.Query(ctx, perUser, StatusSuccess)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var u UserStats
		var hostname sql.NullString
		if err := rows.Scan(&u.UserID, &hostname, &u.TestCount,
			&u.AvgDownload, &u.AvgUpload, &u.AvgPing, &u.LastTest); err != nil {
			return Stats{}, err
		}
		u.Hostname = hostname.String
		u.LastTest = u.LastTest.UTC()
		stats.PerUser = append(stats.PerUser, u)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	const hourly = `
SELECT to_char(date_trunc('hour', timestamp AT TIME ZONE 'UTC'), 'YYYY-MM-DD HH24:MI'),
       ROUND(AVG(download_mbps)::numeric, 2),
       ROUND(AVG(upload_mbps)::numeric, 2),
       COUNT(*)
  FROM speed_results
 WHERE status = $1
   AND timestamp > NOW() - INTERVAL '24 hours'
 GROUP BY 1
 ORDER BY 1;
`
	hourRows, err := p.pool.Query(ctx, hourly, StatusSuccess)
	if err != nil {
		return Stats{}, err
	}
	defer hourRows.Close()
	for hourRows.Next() {
		var h HourlyStats
		if err := hourRows.Scan(&h.Hour, &h.AvgDownload, &h.AvgUpload, &h.TestCount); err != nil {
			return Stats{}, err
		}
		stats.Hourly = append(stats.Hourly, h)
	}
	return stats, hourRows.Err()
}

// rowScanner is satisfied by both pgx.Rows and *sql.Rows.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanResults(rows rowScanner) ([]SpeedResult, error) {
	results := []SpeedResult{}
	for rows.Next() {
		var r SpeedResult
		var hostname, networkSSID, externalIP sql.NullString
		if err := rows.Scan(&r.ID, &r.UserID, &hostname, &r.Timestamp,
			&r.DownloadMbps, &r.UploadMbps, &r.PingMs,
			&networkSSID, &externalIP, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Hostname = hostname.String
		r.NetworkSSID = networkSSID.String
		r.ExternalIP = externalIP.String
		r.Timestamp = r.Timestamp.UTC()
		r.CreatedAt = r.CreatedAt.UTC()
		results = append(results, r)
	}
	return results, rows.Err()
}

func nullString(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}
