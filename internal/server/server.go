package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/speedmonhq/server/internal/dashboard"
	"github.com/speedmonhq/server/internal/metrics"
	"github.com/speedmonhq/server/internal/store"
)

// Config controls HTTP server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Dependencies holds external collaborators required by the server.
type Dependencies struct {
	Logger *log.Logger
	Store  store.Store
}

// Server wraps http.Server for convenience.
type Server struct {
	*http.Server
	cfg  Config
	deps Dependencies
}

const (
	listLimitDefault = 100
	listLimitMax     = 1000
	userLimitDefault = 50
	userLimitMax     = 500
)

// New constructs an HTTP server exposing the results API and dashboard.
func New(cfg Config, deps Dependencies) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}

	metrics.Register()

	r := mux.NewRouter()
	r.Use(requestIDMiddleware, instrumentMiddleware)
	r.HandleFunc("/api/results", submitHandler(deps)).Methods(http.MethodPost)
	r.HandleFunc("/api/results", listHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/results/{user_id}", userResultsHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", statsHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/", dashboard.Handler()).Methods(http.MethodGet)

	s := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return &Server{Server: s, cfg: cfg, deps: deps}
}

func submitHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub store.Submission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		id, err := deps.Store.InsertResult(r.Context(), sub)
		if err != nil {
			var verr *store.ValidationError
			if errors.As(err, &verr) {
				metrics.IngestRejectedTotal.Inc()
				writeError(w, http.StatusBadRequest, verr.Error())
				return
			}
			deps.Logger.Printf("insert result failed for user %q: %v", sub.UserID, err)
			writeError(w, http.StatusInternalServerError, "failed to save result")
			return
		}

		metrics.ResultsIngestedTotal.Inc()
		writeJSON(w, http.StatusOK, struct {
			Success bool  `json:"success"`
			ID      int64 `json:"id"`
		}{Success: true, ID: id})
	}
}

func listHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := store.ListQuery{
			UserID: r.URL.Query().Get("user_id"),
			Limit:  parseLimit(r.URL.Query().Get("limit"), listLimitDefault, listLimitMax),
			Offset: parseOffset(r.URL.Query().Get("offset")),
		}

		results, err := deps.Store.ListResults(r.Context(), q)
		if err != nil {
			deps.Logger.Printf("list results failed: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to fetch results")
			return
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func userResultsHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["user_id"]
		limit := parseLimit(r.URL.Query().Get("limit"), userLimitDefault, userLimitMax)

		results, err := deps.Store.ListUserResults(r.Context(), userID, limit)
		if err != nil {
			deps.Logger.Printf("list results failed for user %q: %v", userID, err)
			writeError(w, http.StatusInternalServerError, "failed to fetch results")
			return
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func statsHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.Stats(r.Context())
		if err != nil {
			deps.Logger.Printf("fetch stats failed: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to fetch stats")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}{Status: "ok", Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

// parseLimit falls back to def when the value is absent, unparsable, or
// non-positive, and caps the result at max. Malformed input is not an
// error at this boundary.
func parseLimit(raw string, def, max int) int {
	limit := def
	if raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

func parseOffset(raw string) int {
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}
