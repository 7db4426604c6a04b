package model

import (
	"fmt"
	"sort"
	"time"
)

// Interval is a candle period label such as "1h" or "4h".
type Interval string

const (
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
)

var intervalDurations = map[Interval]time.Duration{
	"1m":        time.Minute,
	"5m":        5 * time.Minute,
	Interval15m: 15 * time.Minute,
	"30m":       30 * time.Minute,
	Interval1h:  time.Hour,
	"2h":        2 * time.Hour,
	Interval4h:  4 * time.Hour,
	Interval8h:  8 * time.Hour,
	Interval12h: 12 * time.Hour,
	Interval1d:  24 * time.Hour,
}

// ParseInterval validates a label against the supported set.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalDurations[iv]; !ok {
		return "", fmt.Errorf("unsupported interval %q", s)
	}
	return iv, nil
}

// Intervals returns every supported interval, shortest first.
func Intervals() []Interval {
	out := make([]Interval, 0, len(intervalDurations))
	for iv := range intervalDurations {
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool { return intervalDurations[out[i]] < intervalDurations[out[j]] })
	return out
}

// Duration returns the period length, or 0 for unknown labels.
func (iv Interval) Duration() time.Duration {
	return intervalDurations[iv]
}

// Seconds returns the period length in seconds.
func (iv Interval) Seconds() int {
	return int(intervalDurations[iv] / time.Second)
}

// Valid reports whether the interval is supported.
func (iv Interval) Valid() bool {
	_, ok := intervalDurations[iv]
	return ok
}

func (iv Interval) String() string { return string(iv) }
