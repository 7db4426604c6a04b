package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Classification is the ordered confluence band. Higher values rank above lower ones.
type Classification int

const (
	Weak Classification = iota
	Interesting
	Good
	VeryGood
	Excellent
	Perfect
)

var classificationNames = [...]string{"WEAK", "INTERESTING", "GOOD", "VERY_GOOD", "EXCELLENT", "PERFECT"}

func (c Classification) String() string {
	if c < Weak || c > Perfect {
		return "UNKNOWN"
	}
	return classificationNames[c]
}

// ParseClassification accepts "VERY_GOOD" as well as the legacy "VERY GOOD".
func ParseClassification(s string) (Classification, error) {
	s = strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), " ", "_")
	for i, name := range classificationNames {
		if name == s {
			return Classification(i), nil
		}
	}
	return Weak, fmt.Errorf("unknown classification %q", s)
}

// MarshalText encodes the band by name.
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a band name.
func (c *Classification) UnmarshalText(b []byte) error {
	v, err := ParseClassification(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Verdict is the single confluence result for one (asset, interval) at one
// evaluation bar. It is immutable once produced.
type Verdict struct {
	Asset          string          `json:"asset"`
	Interval       Interval        `json:"interval"`
	Timestamp      int64           `json:"timestamp"`
	Close          float64         `json:"close"`
	Direction      Direction       `json:"direction"`
	Score          decimal.Decimal `json:"score"`
	Classification Classification  `json:"classification"`
	Events         []ScoredEvent   `json:"contributing_events"`
	VolumeBonus    bool            `json:"volume_bonus_applied"`
}

// Key returns "asset:interval".
func (v Verdict) Key() string {
	return PairKey(v.Asset, v.Interval)
}

// ModuleCounts returns how many contributing events each module supplied.
func (v Verdict) ModuleCounts() map[ModuleID]int {
	out := make(map[ModuleID]int, len(DefaultPriority))
	for _, m := range DefaultPriority {
		out[m] = 0
	}
	for _, e := range v.Events {
		out[e.Module]++
	}
	return out
}

// VolumeEvent returns the contributing volume event, if any.
func (v Verdict) VolumeEvent() (ScoredEvent, bool) {
	for _, e := range v.Events {
		if e.Module == ModuleVolume {
			return e, true
		}
	}
	return ScoredEvent{}, false
}

// Factors returns the event descriptions in contribution order.
func (v Verdict) Factors() []string {
	out := make([]string, 0, len(v.Events))
	for _, e := range v.Events {
		out = append(out, e.Description)
	}
	return out
}
