package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

// DuckDBStore implements Store on an embedded file-backed DuckDB database.
// It is the default driver: a single file, single-writer semantics, no
// external service to run.
type DuckDBStore struct {
	db *sql.DB
}

var duckdbSchema = []string{
	`CREATE SEQUENCE IF NOT EXISTS speed_results_id_seq;`,
	`CREATE TABLE IF NOT EXISTS speed_results (
    id BIGINT PRIMARY KEY DEFAULT nextval('speed_results_id_seq'),
    user_id TEXT NOT NULL,
    hostname TEXT,
    timestamp TIMESTAMP NOT NULL DEFAULT now(),
    download_mbps DOUBLE NOT NULL DEFAULT 0,
    upload_mbps DOUBLE NOT NULL DEFAULT 0,
    ping_ms DOUBLE NOT NULL DEFAULT 0,
    network_ssid TEXT,
    external_ip TEXT,
    status TEXT NOT NULL DEFAULT 'success',
    created_at TIMESTAMP NOT NULL DEFAULT now()
);`,
	`CREATE INDEX IF NOT EXISTS idx_speed_results_user_id ON speed_results (user_id);`,
	`CREATE INDEX IF NOT EXISTS idx_speed_results_timestamp ON speed_results (timestamp);`,
}

// NewDuckDBStore opens (or creates) the database file at path and ensures
// the schema exists. An empty path opens an in-memory database. Schema
// creation is idempotent.
func NewDuckDBStore(ctx context.Context, path string) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// DuckDB allows one writer at a time; a single connection serializes
	// concurrent request handlers through the driver.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, stmt := range duckdbSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}
	return &DuckDBStore{db: db}, nil
}

// Close closes the underlying database.
func (d *DuckDBStore) Close() error {
	return d.db.Close()
}

func (d *DuckDBStore) InsertResult(ctx context.Context, sub Submission) (int64, error) {
	sub, err := normalize(sub, time.Now())
	if err != nil {
		return 0, err
	}

	const insert = `
INSERT INTO speed_results (
    user_id, hostname, timestamp, download_mbps, upload_mbps, ping_ms,
    network_ssid, external_ip, status
) VALUES (?,?,?,?,?,?,?,?,?)
RETURNING id;
`
	var id int64
	err = d.db.QueryRowContext(ctx, insert,
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

const duckResultColumns = `
SELECT id, user_id, hostname, timestamp, download_mbps, upload_mbps,
       ping_ms, network_ssid, external_ip, status, created_at
  FROM speed_results
`

func (d *DuckDBStore) ListResults(ctx context.Context, q ListQuery) ([]SpeedResult, error) {
	// Same two-variant scheme as the Postgres store: fixed statements,
	// parameter binding only.
	const unfiltered = duckResultColumns + `
 ORDER BY timestamp DESC
 LIMIT ? OFFSET ?;
`
	const filtered = duckResultColumns + `
 WHERE user_id = ?
 ORDER BY timestamp DESC
 LIMIT ? OFFSET ?;
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

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

func (d *DuckDBStore) ListUserResults(ctx context.Context, userID string, limit int) ([]SpeedResult, error) {
	const query = duckResultColumns + `
 WHERE user_id = ?
 ORDER BY timestamp DESC
 LIMIT ?;
`
	rows, err := d.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

func (d *DuckDBStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{PerUser: []UserStats{}, Hourly: []HourlyStats{}}

	const overall = `
SELECT COUNT(*),
       COUNT(DISTINCT user_id),
       ROUND(AVG(download_mbps), 2),
       ROUND(AVG(upload_mbps), 2),
       ROUND(AVG(ping_ms), 2),
       ROUND(MIN(download_mbps), 2),
       ROUND(MAX(download_mbps), 2)
  FROM speed_results
 WHERE status = ?;
`
	var avgDown, avgUp, avgPing, minDown, maxDown sql.NullFloat64
	row := d.db.QueryRowContext(ctx, overall, StatusSuccess)
	if err := row.Scan(&stats.Overall.TotalTests, &stats.Overall.TotalUsers,
		&avgDown, &avgUp, &avgPing, &minDown, &maxDown); err != nil {
		return Stats{}, err
	}
	stats.Overall.AvgDownload = nullableFloat(avgDown)
	stats.Overall.AvgUpload = nullableFloat(avgUp)
	stats.Overall.AvgPing = nullableFloat(avgPing)
	stats.Overall.MinDownload = nullableFloat(minDown)
	stats.Overall.MaxDownload = nullableFloat(maxDown)

	const perUser = `
SELECT user_id,
       arg_max(hostname, timestamp),
       COUNT(*),
       ROUND(AVG(download_mbps), 2),
       ROUND(AVG(upload_mbps), 2),
       ROUND(AVG(ping_ms), 2),
       MAX(timestamp)
  FROM speed_results
 WHERE status = ?
 GROUP BY user_id
 ORDER BY 4 DESC;
`
	rows, err := d.db.QueryContext(ctx, perUser, StatusSuccess)
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
SELECT strftime(date_trunc('hour', timestamp), '%Y-%m-%d %H:%M'),
       ROUND(AVG(download_mbps), 2),
       ROUND(AVG(upload_mbps), 2),
       COUNT(*)
  FROM speed_results
 WHERE status = ?
   AND timestamp > now() - INTERVAL 24 HOUR
 GROUP BY 1
 ORDER BY 1;
`
	hourRows, err := d.db.QueryContext(ctx, hourly, StatusSuccess)
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

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
