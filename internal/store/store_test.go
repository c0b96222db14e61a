package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func submit(t *testing.T, s Store, sub Submission) int64 {
	t.Helper()
	id, err := s.InsertResult(context.Background(), sub)
	if err != nil {
		t.Fatalf("InsertResult: %v", err)
	}
	return id
}

func TestInsertResultAssignsIncreasingIDs(t *testing.T) {
	s := NewMemoryStore()

	var prev int64
	for i := 0; i < 5; i++ {
		id := submit(t, s, Submission{UserID: "alice", DownloadMbps: 100})
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestInsertResultRequiresUserID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, userID := range []string{"", "   "} {
		_, err := s.InsertResult(ctx, Submission{UserID: userID, DownloadMbps: 50})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("user_id %q: expected ValidationError, got %v", userID, err)
		}
	}

	results, err := s.ListResults(ctx, ListQuery{Limit: 10})
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("rejected submissions must not insert rows, got %d", len(results))
	}
}

func TestInsertResultAppliesDefaults(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	before := time.Now().UTC()
	submit(t, s, Submission{UserID: "alice"})
	after := time.Now().UTC()

	results, err := s.ListUserResults(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListUserResults: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Status != StatusSuccess {
		t.Fatalf("status default: got %q", r.Status)
	}
	if r.DownloadMbps != 0 || r.UploadMbps != 0 || r.PingMs != 0 {
		t.Fatalf("numeric defaults: %+v", r)
	}
	if r.Timestamp.Before(before) || r.Timestamp.After(after) {
		t.Fatalf("timestamp %v not defaulted to ingestion time", r.Timestamp)
	}
	if r.CreatedAt.IsZero() {
		t.Fatalf("created_at not assigned")
	}
}

func TestInsertResultRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ts := time.Date(2026, 8, 30, 12, 30, 0, 0, time.UTC)
	submit(t, s, Submission{
		UserID:       "bob",
		Hostname:     "bobs-mbp",
		Timestamp:    &ts,
		DownloadMbps: 123.4,
		UploadMbps:   56.7,
		PingMs:       8.9,
		NetworkSSID:  "HomeNet",
		ExternalIP:   "203.0.113.9",
		Status:       "failed",
	})

	results, err := s.ListUserResults(ctx, "bob", 10)
	if err != nil {
		t.Fatalf("ListUserResults: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.UserID != "bob" || r.Hostname != "bobs-mbp" || !r.Timestamp.Equal(ts) ||
		r.DownloadMbps != 123.4 || r.UploadMbps != 56.7 || r.PingMs != 8.9 ||
		r.NetworkSSID != "HomeNet" || r.ExternalIP != "203.0.113.9" || r.Status != "failed" {
		t.Fatalf("round trip mismatch: %+v", r)
	}
}

func TestListResultsOrderingAndPagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		submit(t, s, Submission{UserID: "alice", Timestamp: &ts, DownloadMbps: float64(i)})
	}

	results, err := s.ListResults(ctx, ListQuery{Limit: 10})
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Timestamp.After(results[i-1].Timestamp) {
			t.Fatalf("results not ordered newest first: %v before %v",
				results[i-1].Timestamp, results[i].Timestamp)
		}
	}

	page, err := s.ListResults(ctx, ListQuery{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListResults page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
	if page[0].DownloadMbps != 2 || page[1].DownloadMbps != 1 {
		t.Fatalf("unexpected page contents: %+v", page)
	}
}

func TestListResultsUserFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	submit(t, s, Submission{UserID: "alice"})
	submit(t, s, Submission{UserID: "bob"})
	submit(t, s, Submission{UserID: "alice"})

	results, err := s.ListResults(ctx, ListQuery{UserID: "alice", Limit: 10})
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 alice results, got %d", len(results))
	}
	for _, r := range results {
		if r.UserID != "alice" {
			t.Fatalf("filter leaked row for %q", r.UserID)
		}
	}

	none, err := s.ListUserResults(ctx, "nobody", 10)
	if err != nil {
		t.Fatalf("ListUserResults: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("unknown user should yield no rows, got %d", len(none))
	}
}

func TestStatsEmptyStore(t *testing.T) {
	s := NewMemoryStore()

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Overall.TotalTests != 0 || stats.Overall.TotalUsers != 0 {
		t.Fatalf("unexpected counts: %+v", stats.Overall)
	}
	if stats.Overall.AvgDownload != nil || stats.Overall.AvgUpload != nil ||
		stats.Overall.AvgPing != nil || stats.Overall.MinDownload != nil ||
		stats.Overall.MaxDownload != nil {
		t.Fatalf("empty store must report nil aggregates, got %+v", stats.Overall)
	}
	if len(stats.PerUser) != 0 || len(stats.Hourly) != 0 {
		t.Fatalf("expected empty collections: %+v", stats)
	}
}

func TestStatsAverages(t *testing.T) {
	s := NewMemoryStore()

	for _, mbps := range []float64{10, 20, 30} {
		submit(t, s, Submission{UserID: "a", DownloadMbps: mbps, Status: StatusSuccess})
	}

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Overall.TotalTests != 3 || stats.Overall.TotalUsers != 1 {
		t.Fatalf("unexpected counts: %+v", stats.Overall)
	}
	if stats.Overall.AvgDownload == nil || *stats.Overall.AvgDownload != 20 {
		t.Fatalf("avg download: %v", stats.Overall.AvgDownload)
	}
	if *stats.Overall.MinDownload != 10 || *stats.Overall.MaxDownload != 30 {
		t.Fatalf("min/max download: %v/%v", *stats.Overall.MinDownload, *stats.Overall.MaxDownload)
	}
	if len(stats.PerUser) != 1 || stats.PerUser[0].UserID != "a" || stats.PerUser[0].TestCount != 3 {
		t.Fatalf("unexpected per-user stats: %+v", stats.PerUser)
	}
}

func TestStatsExcludesNonSuccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	submit(t, s, Submission{UserID: "a", DownloadMbps: 40, Status: "failed"})
	submit(t, s, Submission{UserID: "a", DownloadMbps: 80, Status: StatusSuccess})

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Overall.TotalTests != 1 {
		t.Fatalf("failed test counted: %+v", stats.Overall)
	}
	if *stats.Overall.AvgDownload != 80 {
		t.Fatalf("failed test included in average: %v", *stats.Overall.AvgDownload)
	}

	// List remains status-agnostic.
	results, err := s.ListResults(ctx, ListQuery{Limit: 10})
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("list must return both rows, got %d", len(results))
	}
}

func TestStatsPerUserLeaderboard(t *testing.T) {
	s := NewMemoryStore()

	old := time.Now().UTC().Add(-2 * time.Hour)
	recent := time.Now().UTC().Add(-time.Minute)
	submit(t, s, Submission{UserID: "slow", Hostname: "h1", Timestamp: &old, DownloadMbps: 10})
	submit(t, s, Submission{UserID: "fast", Hostname: "old-host", Timestamp: &old, DownloadMbps: 90})
	submit(t, s, Submission{UserID: "fast", Hostname: "new-host", Timestamp: &recent, DownloadMbps: 110})

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats.PerUser) != 2 {
		t.Fatalf("expected 2 users, got %d", len(stats.PerUser))
	}
	if stats.PerUser[0].UserID != "fast" {
		t.Fatalf("leaderboard should order by avg download desc: %+v", stats.PerUser)
	}
	if stats.PerUser[0].Hostname != "new-host" {
		t.Fatalf("expected most recent hostname, got %q", stats.PerUser[0].Hostname)
	}
	if !stats.PerUser[0].LastTest.Equal(recent) {
		t.Fatalf("last test: got %v want %v", stats.PerUser[0].LastTest, recent)
	}
	if stats.PerUser[0].AvgDownload != 100 {
		t.Fatalf("avg download: got %v", stats.PerUser[0].AvgDownload)
	}
}

func TestStatsHourlyWindow(t *testing.T) {
	s := NewMemoryStore()

	inWindow := time.Now().UTC().Add(-30 * time.Minute)
	outOfWindow := time.Now().UTC().Add(-25 * time.Hour)
	submit(t, s, Submission{UserID: "a", Timestamp: &inWindow, DownloadMbps: 50, UploadMbps: 10})
	submit(t, s, Submission{UserID: "a", Timestamp: &inWindow, DownloadMbps: 70, UploadMbps: 30})
	submit(t, s, Submission{UserID: "a", Timestamp: &outOfWindow, DownloadMbps: 500})

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats.Hourly) != 1 {
		t.Fatalf("expected 1 hourly bucket, got %d: %+v", len(stats.Hourly), stats.Hourly)
	}
	h := stats.Hourly[0]
	wantHour := inWindow.Truncate(time.Hour).Format("2006-01-02 15:04")
	if h.Hour != wantHour {
		t.Fatalf("hour label: got %q want %q", h.Hour, wantHour)
	}
	if h.TestCount != 2 || h.AvgDownload != 60 || h.AvgUpload != 20 {
		t.Fatalf("unexpected bucket: %+v", h)
	}
}

func TestStatsRounding(t *testing.T) {
	s := NewMemoryStore()

	submit(t, s, Submission{UserID: "a", DownloadMbps: 10})
	submit(t, s, Submission{UserID: "a", DownloadMbps: 10})
	submit(t, s, Submission{UserID: "a", DownloadMbps: 11})

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	// 31/3 = 10.333..., rounded to 2 decimal places.
	if got := *stats.Overall.AvgDownload; got != 10.33 {
		t.Fatalf("avg download rounding: got %v", got)
	}
}
