package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// SpeedResult is one persisted speed-test measurement.
type SpeedResult struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	Hostname     string    `json:"hostname,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	PingMs       float64   `json:"ping_ms"`
	NetworkSSID  string    `json:"network_ssid,omitempty"`
	ExternalIP   string    `json:"external_ip,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Submission is the ingestion input. UserID is the only required field;
// everything else is defaulted on insert.
type Submission struct {
	UserID       string     `json:"user_id"`
	Hostname     string     `json:"hostname"`
	Timestamp    *time.Time `json:"timestamp"`
	DownloadMbps float64    `json:"download_mbps"`
	UploadMbps   float64    `json:"upload_mbps"`
	PingMs       float64    `json:"ping_ms"`
	NetworkSSID  string     `json:"network_ssid"`
	ExternalIP   string     `json:"external_ip"`
	Status       string     `json:"status"`
}

// ListQuery selects a page of results, optionally scoped to one user.
type ListQuery struct {
	UserID string
	Limit  int
	Offset int
}

// OverallStats aggregates successful tests across all users. Averages and
// extremes are nil when no qualifying rows exist; callers must not read
// "no data" as zero throughput.
type OverallStats struct {
	TotalTests  int64    `json:"total_tests"`
	TotalUsers  int64    `json:"total_users"`
	AvgDownload *float64 `json:"avg_download"`
	AvgUpload   *float64 `json:"avg_upload"`
	AvgPing     *float64 `json:"avg_ping"`
	MinDownload *float64 `json:"min_download"`
	MaxDownload *float64 `json:"max_download"`
}

// UserStats is one leaderboard row per user, fastest average download first.
type UserStats struct {
	UserID      string    `json:"user_id"`
	Hostname    string    `json:"hostname"`
	TestCount   int64     `json:"test_count"`
	AvgDownload float64   `json:"avg_download"`
	AvgUpload   float64   `json:"avg_upload"`
	AvgPing     float64   `json:"avg_ping"`
	LastTest    time.Time `json:"last_test"`
}

// HourlyStats is one UTC hour bucket within the trailing 24-hour window.
// Hour is rendered as "YYYY-MM-DD HH:00" for time-series consumers.
type HourlyStats struct {
	Hour        string  `json:"hour"`
	AvgDownload float64 `json:"avg_download"`
	AvgUpload   float64 `json:"avg_upload"`
	TestCount   int64   `json:"test_count"`
}

// Stats is the /api/stats payload.
type Stats struct {
	Overall OverallStats  `json:"overall"`
	PerUser []UserStats   `json:"perUser"`
	Hourly  []HourlyStats `json:"hourly"`
}

const (
	// StatusSuccess is the only status counted by aggregate queries.
	StatusSuccess = "success"

	// hourlyWindow is the trailing window covered by hourly stats,
	// measured from query execution time.
	hourlyWindow = 24 * time.Hour

	hourFormat = "2006-01-02 15:04"
)

// ValidationError reports a client-side problem with a submission. It maps
// to a 400 at the HTTP boundary and is never logged as a server fault.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Store exposes persistence operations over the speed_results relation.
// Implementations serialize concurrent writers internally; rows are
// immutable once inserted.
type Store interface {
	// InsertResult validates and appends one measurement, returning the
	// storage-assigned id. Returns *ValidationError when user_id is empty.
	InsertResult(ctx context.Context, sub Submission) (int64, error)
	// ListResults returns a page of results, most recent first.
	ListResults(ctx context.Context, q ListQuery) ([]SpeedResult, error)
	// ListUserResults returns up to limit results for one user, most
	// recent first. An unknown user yields an empty slice, not an error.
	ListUserResults(ctx context.Context, userID string, limit int) ([]SpeedResult, error)
	// Stats computes the overall, per-user, and hourly aggregates over
	// successful tests. An empty store yields empty collections and nil
	// overall aggregates.
	Stats(ctx context.Context) (Stats, error)
}

// normalize applies the documented defaults and validates the submission.
// All Store implementations insert exactly what normalize returns.
func normalize(sub Submission, now time.Time) (Submission, error) {
	if strings.TrimSpace(sub.UserID) == "" {
		return Submission{}, &ValidationError{Field: "user_id", Reason: "is required"}
	}
	if sub.Timestamp == nil {
		ts := now.UTC()
		sub.Timestamp = &ts
	} else {
		ts := sub.Timestamp.UTC()
		sub.Timestamp = &ts
	}
	if sub.Status == "" {
		sub.Status = StatusSuccess
	}
	return sub, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// NewMemoryStore returns an in-memory implementation useful for tests and
// for running without persistence.
func NewMemoryStore() Store {
	return &memoryStore{}
}

type memoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	results []SpeedResult
}

func (m *memoryStore) InsertResult(ctx context.Context, sub Submission) (int64, error) {
	now := time.Now().UTC()
	sub, err := normalize(sub, now)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.results = append(m.results, SpeedResult{
		ID:           m.nextID,
		UserID:       sub.UserID,
		Hostname:     sub.Hostname,
		Timestamp:    *sub.Timestamp,
		DownloadMbps: sub.DownloadMbps,
		UploadMbps:   sub.UploadMbps,
		PingMs:       sub.PingMs,
		NetworkSSID:  sub.NetworkSSID,
		ExternalIP:   sub.ExternalIP,
		Status:       sub.Status,
		CreatedAt:    now,
	})
	return m.nextID, nil
}

func (m *memoryStore) ListResults(ctx context.Context, q ListQuery) ([]SpeedResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]SpeedResult, 0, len(m.results))
	for _, r := range m.results {
		if q.UserID != "" && r.UserID != q.UserID {
			continue
		}
		matched = append(matched, r)
	}
	sortByTimestampDesc(matched)
	return pageOf(matched, q.Limit, q.Offset), nil
}

func (m *memoryStore) ListUserResults(ctx context.Context, userID string, limit int) ([]SpeedResult, error) {
	return m.ListResults(ctx, ListQuery{UserID: userID, Limit: limit})
}

func (m *memoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type userAcc struct {
		hostname   string
		hostnameAt time.Time
		count      int64
		sumDown    float64
		sumUp      float64
		sumPing    float64
		lastTest   time.Time
	}
	type hourAcc struct {
		count   int64
		sumDown float64
		sumUp   float64
	}

	now := time.Now().UTC()
	cutoff := now.Add(-hourlyWindow)

	users := map[string]*userAcc{}
	hours := map[time.Time]*hourAcc{}
	var overall struct {
		count   int64
		sumDown float64
		sumUp   float64
		sumPing float64
		minDown float64
		maxDown float64
	}

	for _, r := range m.results {
		if r.Status != StatusSuccess {
			continue
		}

		if overall.count == 0 || r.DownloadMbps < overall.minDown {
			overall.minDown = r.DownloadMbps
		}
		if overall.count == 0 || r.DownloadMbps > overall.maxDown {
			overall.maxDown = r.DownloadMbps
		}
		overall.count++
		overall.sumDown += r.DownloadMbps
		overall.sumUp += r.UploadMbps
		overall.sumPing += r.PingMs

		u := users[r.UserID]
		if u == nil {
			u = &userAcc{}
			users[r.UserID] = u
		}
		u.count++
		u.sumDown += r.DownloadMbps
		u.sumUp += r.UploadMbps
		u.sumPing += r.PingMs
		if r.Timestamp.After(u.lastTest) {
			u.lastTest = r.Timestamp
		}
		if r.Hostname != "" && !r.Timestamp.Before(u.hostnameAt) {
			u.hostname = r.Hostname
			u.hostnameAt = r.Timestamp
		}

		if r.Timestamp.After(cutoff) {
			bucket := r.Timestamp.UTC().Truncate(time.Hour)
			h := hours[bucket]
			if h == nil {
				h = &hourAcc{}
				hours[bucket] = h
			}
			h.count++
			h.sumDown += r.DownloadMbps
			h.sumUp += r.UploadMbps
		}
	}

	stats := Stats{
		Overall: OverallStats{TotalTests: overall.count, TotalUsers: int64(len(users))},
		PerUser: []UserStats{},
		Hourly:  []HourlyStats{},
	}
	if overall.count > 0 {
		stats.Overall.AvgDownload = ptr(round2(overall.sumDown / float64(overall.count)))
		stats.Overall.AvgUpload = ptr(round2(overall.sumUp / float64(overall.count)))
		stats.Overall.AvgPing = ptr(round2(overall.sumPing / float64(overall.count)))
		stats.Overall.MinDownload = ptr(round2(overall.minDown))
		stats.Overall.MaxDownload = ptr(round2(overall.maxDown))
	}

	for id, u := range users {
		stats.PerUser = append(stats.PerUser, UserStats{
			UserID:      id,
			Hostname:    u.hostname,
			TestCount:   u.count,
			AvgDownload: round2(u.sumDown / float64(u.count)),
			AvgUpload:   round2(u.sumUp / float64(u.count)),
			AvgPing:     round2(u.sumPing / float64(u.count)),
			LastTest:    u.lastTest,
		})
	}
	sort.Slice(stats.PerUser, func(i, j int) bool {
		return stats.PerUser[i].AvgDownload > stats.PerUser[j].AvgDownload
	})

	buckets := make([]time.Time, 0, len(hours))
	for b := range hours {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Before(buckets[j]) })
	for _, b := range buckets {
		h := hours[b]
		stats.Hourly = append(stats.Hourly, HourlyStats{
			Hour:        b.Format(hourFormat),
			AvgDownload: round2(h.sumDown / float64(h.count)),
			AvgUpload:   round2(h.sumUp / float64(h.count)),
			TestCount:   h.count,
		})
	}

	return stats, nil
}

func sortByTimestampDesc(rs []SpeedResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].Timestamp.After(rs[j].Timestamp)
	})
}

func pageOf(rs []SpeedResult, limit, offset int) []SpeedResult {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rs) {
		return []SpeedResult{}
	}
	rs = rs[offset:]
	if limit > 0 && len(rs) > limit {
		rs = rs[:limit]
	}
	return rs
}

func ptr(v float64) *float64 {
	return &v
}
