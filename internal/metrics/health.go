package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// HealthStatus tracks dependency liveness and scan progress.
type HealthStatus struct {
	mu sync.RWMutex

	redisEnabled    bool
	redisConnected  bool
	sqliteOK        bool
	redisLatencyMs  float64
	sqliteLatencyMs float64
	lastCheckAt     time.Time
	lastScanAt      time.Time
	lastScanErr     string
	lastScanPairs   int
	lastScanSignals int
	startedAt       time.Time
	now             func() time.Time
}

// Snapshot is the JSON form of HealthStatus.
type Snapshot struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	RedisEnabled    bool    `json:"redis_enabled"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	LastCheckAt     string  `json:"last_check_at,omitempty"`
	LastScanAt      string  `json:"last_scan_at,omitempty"`
	LastScanAge     string  `json:"last_scan_age,omitempty"`
	LastScanError   string  `json:"last_scan_error,omitempty"`
	LastScanPairs   int     `json:"last_scan_pairs"`
	LastScanSignals int     `json:"last_scan_signals"`
}

// NewHealthStatus returns a status with every dependency assumed down until
// the first probe.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{startedAt: time.Now(), now: time.Now}
}

// SetRedisEnabled marks Redis as a required dependency. When disabled the
// overall status ignores Redis connectivity.
func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.redisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.redisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.sqliteOK = v
	h.mu.Unlock()
}

// RecordScan stores the outcome of a scan cycle.
func (h *HealthStatus) RecordScan(at time.Time, pairs, signals int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastScanAt = at
	h.lastScanPairs = pairs
	h.lastScanSignals = signals
	h.lastScanErr = ""
	if err != nil {
		h.lastScanErr = err.Error()
	}
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.redisConnected = err == nil
	h.redisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.lastCheckAt = h.now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.sqliteOK = err == nil
	h.sqliteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.lastCheckAt = h.now()
	h.mu.Unlock()
}

// StartLivenessChecker probes once immediately and then every interval until
// ctx is cancelled. Either dependency may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	go func() {
		probe()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// Snapshot returns the current status and the HTTP code it maps to.
func (h *HealthStatus) Snapshot() (Snapshot, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	redisOK := h.redisConnected || !h.redisEnabled

	s := Snapshot{
		Status:          "healthy",
		Uptime:          now.Sub(h.startedAt).Round(time.Second).String(),
		RedisEnabled:    h.redisEnabled,
		RedisConnected:  h.redisConnected,
		RedisLatencyMs:  h.redisLatencyMs,
		SQLiteOK:        h.sqliteOK,
		SQLiteLatencyMs: h.sqliteLatencyMs,
		LastScanError:   h.lastScanErr,
		LastScanPairs:   h.lastScanPairs,
		LastScanSignals: h.lastScanSignals,
	}
	if !h.lastCheckAt.IsZero() {
		s.LastCheckAt = h.lastCheckAt.Format(time.RFC3339)
	}
	if !h.lastScanAt.IsZero() {
		s.LastScanAt = h.lastScanAt.Format(time.RFC3339)
		s.LastScanAge = now.Sub(h.lastScanAt).Round(time.Second).String()
	}

	code := http.StatusOK
	switch {
	case !h.sqliteOK && !redisOK:
		s.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	case !h.sqliteOK || !redisOK:
		s.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	return s, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s, code := h.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(s)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server. gatherer is usually
// prometheus.DefaultGatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Info().Str("component", "metrics").Str("addr", s.addr).Msg("server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Str("component", "metrics").Err(err).Msg("server error")
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
