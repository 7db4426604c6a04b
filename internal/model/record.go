package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalRecord is a verdict that passed the ledger and was persisted.
// Only Notified changes after creation.
type SignalRecord struct {
	ID             int64           `json:"id"`
	Asset          string          `json:"asset"`
	Interval       Interval        `json:"interval"`
	Timestamp      int64           `json:"timestamp"`
	Direction      Direction       `json:"direction"`
	Score          decimal.Decimal `json:"score"`
	Classification Classification  `json:"classification"`
	Events         []ScoredEvent   `json:"contributing_events"`
	VolumeBonus    bool            `json:"volume_bonus_applied"`
	VolumeLevel    string          `json:"volume_level,omitempty"`
	VolumeRatio    float64         `json:"volume_ratio,omitempty"`
	Details        string          `json:"details,omitempty"`
	PriceAtSignal  float64         `json:"price_at_signal"`
	Notified       bool            `json:"notified"`
	CreatedAt      int64           `json:"created_at"`
}

// Time returns the signal bar's start time in UTC.
func (r SignalRecord) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

// ModuleCounts returns how many contributing events each module supplied.
func (r SignalRecord) ModuleCounts() map[ModuleID]int {
	v := Verdict{Events: r.Events}
	return v.ModuleCounts()
}

// WatchlistEntry asks the scanner to evaluate (asset, interval) and keep
// signals for the given direction only.
type WatchlistEntry struct {
	ID        int64     `json:"id"`
	Asset     string    `json:"asset" validate:"required"`
	Interval  Interval  `json:"interval" validate:"required"`
	Direction Direction `json:"direction" validate:"required,oneof=bullish bearish"`
	Notes     string    `json:"notes,omitempty"`
	AddedAt   int64     `json:"added_at"`
}

// Key returns "asset:interval".
func (w WatchlistEntry) Key() string {
	return PairKey(w.Asset, w.Interval)
}

// SignalStats summarises ledger activity since a point in time.
type SignalStats struct {
	Since       int64             `json:"since"`
	Total       int               `json:"total"`
	Perfect     int               `json:"perfect_count"`
	Excellent   int               `json:"excellent_count"`
	ByDirection map[Direction]int `json:"by_direction"`
	TopAssets   []AssetCount      `json:"top_assets"`
}

// AssetCount is one row of a per-asset tally.
type AssetCount struct {
	Asset string `json:"asset"`
	Count int    `json:"count"`
}
