package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ScansTotal.Inc()
	m.VerdictsTotal.WithLabelValues("EXCELLENT", "LONG").Inc()
	m.LedgerOutcomes.WithLabelValues("duplicate").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LedgerOutcomes.WithLabelValues("duplicate")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["confluence_scans_total"])
	assert.True(t, names["confluence_verdicts_total"])
}

func TestNewPanicsOnDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestHealthStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		redisEnabled bool
		redisUp      bool
		sqliteUp     bool
		wantStatus   string
		wantCode     int
	}{
		{"all up", true, true, true, "healthy", http.StatusOK},
		{"redis not required", false, false, true, "healthy", http.StatusOK},
		{"redis down", true, false, true, "degraded", http.StatusServiceUnavailable},
		{"sqlite down", false, false, false, "degraded", http.StatusServiceUnavailable},
		{"both down", true, false, false, "unhealthy", http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthStatus()
			h.now = func() time.Time { return now }
			h.startedAt = now.Add(-time.Hour)
			h.SetRedisEnabled(tc.redisEnabled)
			h.SetRedisConnected(tc.redisUp)
			h.SetSQLiteOK(tc.sqliteUp)

			snap, code := h.Snapshot()
			assert.Equal(t, tc.wantStatus, snap.Status)
			assert.Equal(t, tc.wantCode, code)
			assert.Equal(t, "1h0m0s", snap.Uptime)
		})
	}
}

func TestHealthRecordScan(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := NewHealthStatus()
	h.now = func() time.Time { return now }
	h.SetSQLiteOK(true)

	h.RecordScan(now.Add(-30*time.Second), 4, 1, errors.New("fetch BTC/1h: timeout"))
	snap, _ := h.Snapshot()
	assert.Equal(t, 4, snap.LastScanPairs)
	assert.Equal(t, 1, snap.LastScanSignals)
	assert.Equal(t, "30s", snap.LastScanAge)
	assert.Contains(t, snap.LastScanError, "timeout")

	h.RecordScan(now, 4, 0, nil)
	snap, _ = h.Snapshot()
	assert.Empty(t, snap.LastScanError)
}

func TestServerRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ScansTotal.Add(3)

	h := NewHealthStatus()
	h.SetSQLiteOK(true)
	srv := NewServer(":0", h, reg)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "healthy", snap.Status)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "confluence_scans_total 3"))
}
