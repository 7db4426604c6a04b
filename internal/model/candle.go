package model

import (
	"encoding/json"
	"time"
)

// PriceBar is one closed OHLCV period for an asset on a fixed interval.
// Timestamp is the period start in UTC seconds.
type PriceBar struct {
	Asset     string   `json:"asset"`
	Interval  Interval `json:"interval"`
	Timestamp int64    `json:"timestamp"`
	Open      float64  `json:"open"`
	High      float64  `json:"high"`
	Low       float64  `json:"low"`
	Close     float64  `json:"close"`
	Volume    float64  `json:"volume"`
}

// Key returns "asset:interval".
func (b PriceBar) Key() string {
	return PairKey(b.Asset, b.Interval)
}

// Time returns the period start as a UTC time.
func (b PriceBar) Time() time.Time {
	return time.Unix(b.Timestamp, 0).UTC()
}

// CloseTime returns the unix second at which the bar's period ends.
func (b PriceBar) CloseTime() int64 {
	return b.Timestamp + int64(b.Interval.Seconds())
}

// Median returns (high+low)/2.
func (b PriceBar) Median() float64 {
	return (b.High + b.Low) / 2
}

// Bullish reports whether the bar closed at or above its open.
func (b PriceBar) Bullish() bool {
	return b.Close >= b.Open
}

// JSON returns the JSON-encoded bar.
func (b PriceBar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

// PairKey joins an asset and interval into "asset:interval".
func PairKey(asset string, iv Interval) string {
	return asset + ":" + string(iv)
}

// Series is an ordered run of bars for a single (asset, interval), oldest first.
type Series []PriceBar

// Closes returns the close prices in order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Close
	}
	return out
}

// Highs returns the high prices in order.
func (s Series) Highs() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].High
	}
	return out
}

// Lows returns the low prices in order.
func (s Series) Lows() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Low
	}
	return out
}

// Medians returns (high+low)/2 for every bar.
func (s Series) Medians() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Median()
	}
	return out
}

// Volumes returns the volumes in order.
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Volume
	}
	return out
}

// Last returns the most recent bar. The series must not be empty.
func (s Series) Last() PriceBar {
	return s[len(s)-1]
}
