package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluence-signals/internal/model"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "data/signals.db", cfg.SQLite.Path)
	assert.Equal(t, 5*time.Minute, cfg.Scan.Interval)
	assert.Equal(t, 200, cfg.Scan.Bars)
	assert.Equal(t, "priority", cfg.Engine.Policy)
	assert.Equal(t, 1.2, cfg.Ledger.StoreThreshold)
	assert.Equal(t, 2.5, cfg.Ledger.NotifyThreshold)
	assert.Equal(t, 4*time.Hour, cfg.Ledger.DedupWindow)
	assert.Equal(t, 720*time.Hour, cfg.Ledger.Retention)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Telegram.Enabled())
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := writeFile(t, `
sqlite:
  path: /tmp/from-yaml.db
scan:
  interval: 2m
engine:
  policy: strength
  weights:
    line-touch: 1.1
ledger:
  dedup_window: 6h
watchlist:
  - asset: btc
    interval: 4h
    direction: wind_catcher
`)
	t.Setenv("SQLITE_PATH", "/tmp/from-env.db")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("SCAN_INTERVAL", "90")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/from-env.db", cfg.SQLite.Path)
	assert.Equal(t, 90*time.Second, cfg.Scan.Interval)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 6*time.Hour, cfg.Ledger.DedupWindow)
	assert.Equal(t, "strength", cfg.Engine.Policy)

	require.Len(t, cfg.Watchlist, 1)
	e, err := cfg.Watchlist[0].Entry()
	require.NoError(t, err)
	assert.Equal(t, "BTC", e.Asset)
	assert.Equal(t, model.Interval4h, e.Interval)
	assert.Equal(t, model.Bullish, e.Direction)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown policy", "engine:\n  policy: loudest\n"},
		{"notify below store", "ledger:\n  store_threshold: 2.0\n  notify_threshold: 1.0\n"},
		{"bad interval seed", "watchlist:\n  - {asset: ETH, interval: 3h, direction: bullish}\n"},
		{"chat id missing", "telegram:\n  bot_token: abc\n"},
		{"scan too fast", "scan:\n  interval: 10ms\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEngineConfigConversion(t *testing.T) {
	e := EngineConfig{
		Policy:           "strength",
		Priority:         []string{"volume", "trend"},
		Weights:          map[string]float64{"trend-break": 0.5},
		Bands:            map[string]float64{"PERFECT": 3.5},
		VolumeBonus:      0.3,
		BonusMinStrength: 0.6,
	}
	cfg, err := e.Confluence()
	require.NoError(t, err)

	assert.Equal(t, "strength", cfg.Policy.Name())
	assert.Equal(t, []model.ModuleID{model.ModuleVolume, model.ModuleTrend}, cfg.Priority)
	assert.True(t, cfg.Weights[model.KindTrendBreak].Equal(decimal.RequireFromString("0.5")))
	assert.True(t, cfg.Weights[model.KindLineTouch].Equal(decimal.RequireFromString("0.9")))
	assert.Equal(t, model.Excellent, cfg.Classify(decimal.RequireFromString("3.2")))
	assert.Equal(t, model.Perfect, cfg.Classify(decimal.RequireFromString("3.5")))
	assert.True(t, cfg.VolumeBonus.Equal(decimal.RequireFromString("0.3")))

	_, err = EngineConfig{Policy: "priority", Bands: map[string]float64{"WEAK": 0.1}}.Confluence()
	assert.Error(t, err)
}

func TestEngineConfigRejectsUnknownWeight(t *testing.T) {
	_, err := EngineConfig{Policy: "priority", Weights: map[string]float64{"clound-retest": 0.9}}.Confluence()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clound-retest")

	cfg, err := EngineConfig{Policy: "priority", Weights: map[string]float64{" Cloud-Retest ": 0.8}}.Confluence()
	require.NoError(t, err)
	assert.True(t, cfg.Weights[model.KindCloudRetest].Equal(decimal.RequireFromString("0.8")))
}

func TestLedgerConfigConversion(t *testing.T) {
	l := LedgerConfig{StoreThreshold: 1.2, NotifyThreshold: 2.5, DedupWindow: 4 * time.Hour, Retention: time.Hour}
	got := l.Ledger()
	assert.Equal(t, "1.2", got.StoreThreshold.String())
	assert.Equal(t, "2.5", got.NotifyThreshold.String())
	assert.Equal(t, 4*time.Hour, got.DedupWindow)
}
