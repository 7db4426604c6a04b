// Package dashboard serves the read-only signal API, watchlist management
// and a live websocket feed of accepted signals.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"confluence-signals/internal/metrics"
	"confluence-signals/internal/model"
)

// TOTPHeader carries the one-time code for watchlist mutations.
const TOTPHeader = "X-TOTP-Code"

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// SignalReader is the dashboard's read side of the ledger.
type SignalReader interface {
	SignalsAfter(ctx context.Context, afterID, since int64, limit int) ([]model.SignalRecord, int64, error)
	Stats(ctx context.Context, since int64) (model.SignalStats, error)
}

// BarClock reports the newest stored bar.
type BarClock interface {
	LatestBarTime(ctx context.Context) (int64, error)
}

// Deps are the collaborators of a Server. Health, Gatherer and Hub are optional.
type Deps struct {
	Signals   SignalReader
	Watchlist model.WatchlistStore
	Bars      BarClock
	Hub       *Hub
	Health    *metrics.HealthStatus
	Gatherer  prometheus.Gatherer

	// TOTPSecret guards watchlist mutations. Empty disables them.
	TOTPSecret string
}

// Server holds the dashboard handlers.
type Server struct {
	Deps
	validate *validator.Validate
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewServer creates the dashboard server.
func NewServer(deps Deps) *Server {
	return &Server{
		Deps:     deps,
		validate: validator.New(),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		now:      time.Now,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors)

	if s.Health != nil {
		r.Method(http.MethodGet, "/healthz", s.Health)
	}
	if s.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.Hub != nil {
		r.Get("/ws", s.handleWS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/signals/recent", s.handleRecent)
		r.Get("/signals/stats", s.handleStats)
		r.Get("/system/status", s.handleStatus)

		r.Get("/watchlists", s.handleListWatchlist)
		r.Group(func(r chi.Router) {
			r.Use(s.requireTOTP)
			r.Post("/watchlists", s.handleAddWatchlist)
			r.Delete("/watchlists", s.handleRemoveWatchlist)
			r.Post("/watchlists/move", s.handleMoveWatchlist)
		})
	})
	return r
}

// ── Signals ──

// handleRecent serves ?since= for the first request and ?after=<cursor> for
// the polls that follow. The cursor is a record id, so a signal stamped at an
// older bar but written later is still delivered.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawAfter := q.Get("after")
	var after int64
	if rawAfter != "" {
		n, err := strconv.ParseInt(rawAfter, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = n
	}
	since := int64(0)
	// Cursor polls are not bounded by time unless the client asks.
	if rawAfter == "" || q.Get("since") != "" {
		var err error
		if since, err = s.sinceParam(r); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	limit := defaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLimit)
	}

	recs, cursor, err := s.Signals.SignalsAfter(r.Context(), after, since, limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.SignalRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"signals": recs,
		"cursor":  cursor,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	since, err := s.sinceParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.Signals.Stats(r.Context(), since)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// sinceParam reads ?since= as unix seconds, defaulting to 24 hours ago.
func (s *Server) sinceParam(r *http.Request) (int64, error) {
	v := r.URL.Query().Get("since")
	if v == "" {
		return s.now().Add(-24 * time.Hour).Unix(), nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.New("since must be unix seconds")
	}
	return n, nil
}

// ── System ──

type systemStatus struct {
	LatestBarTS  int64             `json:"latest_bar_ts"`
	ActivePairs  int               `json:"active_pairs"`
	Entries      int               `json:"watchlist_entries"`
	SignalsToday int               `json:"signals_today"`
	WSClients    int               `json:"ws_clients"`
	Health       *metrics.Snapshot `json:"health,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var st systemStatus

	if s.Bars != nil {
		ts, err := s.Bars.LatestBarTime(ctx)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		st.LatestBarTS = ts
	}

	entries, err := s.Watchlist.ListEntries(ctx)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	pairs := make(map[string]bool, len(entries))
	for _, e := range entries {
		pairs[e.Key()] = true
	}
	st.Entries = len(entries)
	st.ActivePairs = len(pairs)

	now := s.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	stats, err := s.Signals.Stats(ctx, midnight.Unix())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	st.SignalsToday = stats.Total

	if s.Hub != nil {
		st.WSClients = s.Hub.ClientCount()
	}
	if s.Health != nil {
		snap, _ := s.Health.Snapshot()
		st.Health = &snap
	}
	writeJSON(w, http.StatusOK, st)
}

// ── Live feed ──

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var lastSeq int64
	if v := r.URL.Query().Get("last_seq"); v != "" {
		lastSeq, _ = strconv.ParseInt(v, 10, 64)
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("component", "dashboard").Err(err).Msg("ws upgrade failed")
		return
	}
	s.Hub.Serve(conn, lastSeq)
}

// ── Helpers ──

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	log.Error().Str("component", "dashboard").Str("path", r.URL.Path).
		Str("request_id", middleware.GetReqID(r.Context())).Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+TOTPHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().Str("component", "dashboard").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http")
	})
}

// requireTOTP rejects mutations without a valid one-time code.
func (s *Server) requireTOTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.TOTPSecret == "" {
			writeError(w, http.StatusForbidden, "watchlist changes are disabled")
			return
		}
		code := r.Header.Get(TOTPHeader)
		if code == "" || !totp.Validate(code, s.TOTPSecret) {
			writeError(w, http.StatusUnauthorized, "invalid or missing one-time code")
			return
		}
		next.ServeHTTP(w, r)
	})
}
