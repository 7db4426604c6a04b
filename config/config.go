// Package config loads process configuration from an optional YAML file, an
// optional .env file and environment variables, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"confluence-signals/internal/confluence"
	"confluence-signals/internal/ledger"
	"confluence-signals/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	SQLite      SQLiteConfig      `yaml:"sqlite"`
	Redis       RedisConfig       `yaml:"redis"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Hyperliquid HyperliquidConfig `yaml:"hyperliquid"`
	Scan        ScanConfig        `yaml:"scan"`
	Engine      EngineConfig      `yaml:"engine"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Metrics     MetricsConfig     `yaml:"metrics"`

	// Watchlist entries added at detector start if missing.
	Watchlist []WatchlistSeed `yaml:"watchlist" validate:"dive"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" default:"data/signals.db" validate:"required"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	// Signals held in memory while the publisher breaker is open.
	MaxBuffered int `yaml:"max_buffered" default:"1000" validate:"gte=0"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id" validate:"required_with=BotToken"`
}

// Enabled reports whether a bot token is configured.
func (t TelegramConfig) Enabled() bool { return t.BotToken != "" }

type WebhookConfig struct {
	URL string `yaml:"url" validate:"omitempty,url"`
}

type HyperliquidConfig struct {
	BaseURL string        `yaml:"base_url" default:"https://api.hyperliquid.xyz/info" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" default:"15s"`
}

type ScanConfig struct {
	Interval time.Duration `yaml:"interval" default:"5m" validate:"gte=1s"`
	// Bars loaded per pair; must cover the slowest module's lookback.
	Bars int `yaml:"bars" default:"200" validate:"gte=150"`
	// Bars requested from the exchange on each refresh.
	FetchBars int `yaml:"fetch_bars" default:"250" validate:"gte=1"`
	// Unnotified records pushed per cycle.
	NotifyBatch int `yaml:"notify_batch" default:"50" validate:"gte=1"`
}

// EngineConfig is the serialisable form of confluence.Config. Weights and
// bands listed here override the defaults entry by entry.
type EngineConfig struct {
	Policy           string             `yaml:"policy" default:"priority" validate:"oneof=priority strength"`
	Priority         []string           `yaml:"priority" validate:"dive,oneof=trend momentum multiline cloud volume"`
	Weights          map[string]float64 `yaml:"weights" validate:"dive,gte=0"`
	Bands            map[string]float64 `yaml:"bands" validate:"dive,gte=0"`
	VolumeBonus      float64            `yaml:"volume_bonus" default:"0.3" validate:"gte=0"`
	BonusMinStrength float64            `yaml:"bonus_min_strength" default:"0.6" validate:"gte=0"`
}

type LedgerConfig struct {
	StoreThreshold  float64       `yaml:"store_threshold" default:"1.2" validate:"gte=0"`
	NotifyThreshold float64       `yaml:"notify_threshold" default:"2.5" validate:"gtefield=StoreThreshold"`
	DedupWindow     time.Duration `yaml:"dedup_window" default:"4h" validate:"gte=0"`
	Retention       time.Duration `yaml:"retention" default:"720h" validate:"gte=0"`
}

type DashboardConfig struct {
	Addr string `yaml:"addr" default:":8080" validate:"required"`
	// Base32 TOTP secret required for watchlist mutations. Empty disables them.
	TOTPSecret string `yaml:"totp_secret"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" default:":9090"`
}

// WatchlistSeed is one watchlist entry declared in the config file.
type WatchlistSeed struct {
	Asset     string `yaml:"asset" validate:"required"`
	Interval  string `yaml:"interval" validate:"required,oneof=15m 1h 4h 8h 12h 1d"`
	Direction string `yaml:"direction" validate:"required,oneof=bullish bearish wind_catcher river_turn"`
}

// Entry converts the seed into a model entry.
func (s WatchlistSeed) Entry() (model.WatchlistEntry, error) {
	iv, err := model.ParseInterval(s.Interval)
	if err != nil {
		return model.WatchlistEntry{}, err
	}
	dir, err := model.ParseDirection(s.Direction)
	if err != nil {
		return model.WatchlistEntry{}, err
	}
	return model.WatchlistEntry{Asset: strings.ToUpper(s.Asset), Interval: iv, Direction: dir}, nil
}

var validate = validator.New()

// Load reads .env (if present), then path (if non-empty), then environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("component", "config").Err(err).Msg("could not parse .env")
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.SQLite.Path, "SQLITE_PATH")
	if setString(&c.Redis.Addr, "REDIS_ADDR") {
		c.Redis.Enabled = true
	}
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&c.Webhook.URL, "WEBHOOK_URL")
	setString(&c.Dashboard.Addr, "DASHBOARD_ADDR")
	setString(&c.Dashboard.TOTPSecret, "DASHBOARD_TOTP_SECRET")
	setString(&c.Metrics.Addr, "METRICS_ADDR")
	setString(&c.Log.Level, "LOG_LEVEL")

	if v := os.Getenv("SCAN_INTERVAL"); v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("SCAN_INTERVAL: %w", err)
		}
		c.Scan.Interval = d
	}
	return nil
}

// parseInterval accepts a Go duration ("5m") or a plain number of seconds.
func parseInterval(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func setString(dst *string, key string) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return false
	}
	*dst = v
	return true
}

// Confluence converts the engine section into an immutable engine profile.
func (e EngineConfig) Confluence() (confluence.Config, error) {
	cfg := confluence.DefaultConfig()

	policy, err := confluence.ParsePolicy(e.Policy)
	if err != nil {
		return confluence.Config{}, err
	}
	cfg.Policy = policy

	if len(e.Priority) > 0 {
		cfg.Priority = make([]model.ModuleID, 0, len(e.Priority))
		for _, id := range e.Priority {
			cfg.Priority = append(cfg.Priority, model.ModuleID(id))
		}
	}

	for name, w := range e.Weights {
		kind, err := model.ParseEventKind(name)
		if err != nil {
			return confluence.Config{}, fmt.Errorf("engine weights: %w", err)
		}
		cfg.Weights[kind] = decimal.NewFromFloat(w)
	}

	if len(e.Bands) > 0 {
		byClass := make(map[model.Classification]decimal.Decimal, len(cfg.Bands))
		for _, b := range cfg.Bands {
			byClass[b.Class] = b.Min
		}
		for name, threshold := range e.Bands {
			class, err := model.ParseClassification(name)
			if err != nil {
				return confluence.Config{}, fmt.Errorf("engine bands: %w", err)
			}
			if class == model.Weak {
				return confluence.Config{}, fmt.Errorf("engine bands: WEAK has no threshold")
			}
			byClass[class] = decimal.NewFromFloat(threshold)
		}
		cfg.Bands = cfg.Bands[:0]
		for class, threshold := range byClass {
			cfg.Bands = append(cfg.Bands, confluence.Band{Min: threshold, Class: class})
		}
	}

	cfg.VolumeBonus = decimal.NewFromFloat(e.VolumeBonus)
	cfg.BonusMinStrength = decimal.NewFromFloat(e.BonusMinStrength)
	return cfg, nil
}

// Ledger converts the ledger section.
func (l LedgerConfig) Ledger() ledger.Config {
	return ledger.Config{
		StoreThreshold:  decimal.NewFromFloat(l.StoreThreshold),
		NotifyThreshold: decimal.NewFromFloat(l.NotifyThreshold),
		DedupWindow:     l.DedupWindow,
		Retention:       l.Retention,
	}
}
