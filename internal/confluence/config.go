package confluence

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"confluence-signals/internal/model"
)

// Band is one classification threshold: scores >= Min fall in Class unless a
// higher band also matches.
type Band struct {
	Min   decimal.Decimal
	Class model.Classification
}

// Config is the immutable scoring profile of an Engine.
type Config struct {
	// Weights maps each event kind to the strength the engine assigns it.
	// Events of unknown kinds contribute nothing.
	Weights map[model.EventKind]decimal.Decimal

	// Bands must cover every classification above WEAK.
	Bands []Band

	// Priority orders modules for direction selection.
	Priority []model.ModuleID

	// Policy picks the verdict direction. Nil means priority.
	Policy DirectionPolicy

	VolumeBonus      decimal.Decimal
	BonusMinStrength decimal.Decimal
}

// DefaultWeights returns the standard strength table.
func DefaultWeights() map[model.EventKind]decimal.Decimal {
	return map[model.EventKind]decimal.Decimal{
		model.KindTrendBreak:    decimal.RequireFromString("0.7"),
		model.KindTrendCross:    decimal.RequireFromString("0.6"),
		model.KindDivergence:    decimal.RequireFromString("0.8"),
		model.KindLinesAwake:    decimal.RequireFromString("0.7"),
		model.KindLineTouch:     decimal.RequireFromString("0.9"),
		model.KindZoneEntry:     decimal.RequireFromString("0.7"),
		model.KindCloudRetest:   decimal.RequireFromString("0.9"),
		model.KindBaselineTouch: decimal.RequireFromString("0.7"),
		model.KindVolumeNormal:  decimal.RequireFromString("0.2"),
		model.KindVolumeWarming: decimal.RequireFromString("0.6"),
		model.KindVolumeHot:     decimal.RequireFromString("0.8"),
		model.KindVolumeClimax:  decimal.RequireFromString("1.0"),
	}
}

// DefaultBands returns the PERFECT..INTERESTING thresholds.
func DefaultBands() []Band {
	return []Band{
		{Min: decimal.RequireFromString("3.0"), Class: model.Perfect},
		{Min: decimal.RequireFromString("2.5"), Class: model.Excellent},
		{Min: decimal.RequireFromString("1.8"), Class: model.VeryGood},
		{Min: decimal.RequireFromString("1.2"), Class: model.Good},
		{Min: decimal.RequireFromString("0.8"), Class: model.Interesting},
	}
}

// DefaultConfig returns the standard profile with the priority policy.
func DefaultConfig() Config {
	return Config{
		Weights:          DefaultWeights(),
		Bands:            DefaultBands(),
		Priority:         append([]model.ModuleID(nil), model.DefaultPriority...),
		Policy:           PriorityPolicy{},
		VolumeBonus:      decimal.RequireFromString("0.3"),
		BonusMinStrength: decimal.RequireFromString("0.6"),
	}
}

// validate checks the profile and returns a private copy with bands sorted
// highest first.
func (c Config) validate() (Config, error) {
	if len(c.Weights) == 0 {
		return Config{}, fmt.Errorf("confluence: empty weight table")
	}
	out := Config{
		Weights:          make(map[model.EventKind]decimal.Decimal, len(c.Weights)),
		Bands:            append([]Band(nil), c.Bands...),
		Priority:         append([]model.ModuleID(nil), c.Priority...),
		Policy:           c.Policy,
		VolumeBonus:      c.VolumeBonus,
		BonusMinStrength: c.BonusMinStrength,
	}
	for k, w := range c.Weights {
		if w.IsNegative() {
			return Config{}, fmt.Errorf("confluence: negative weight for %s", k)
		}
		out.Weights[k] = w
	}
	if out.VolumeBonus.IsNegative() {
		return Config{}, fmt.Errorf("confluence: negative volume bonus")
	}

	sort.SliceStable(out.Bands, func(i, j int) bool { return out.Bands[i].Min.GreaterThan(out.Bands[j].Min) })
	for i := 1; i < len(out.Bands); i++ {
		if out.Bands[i].Class >= out.Bands[i-1].Class {
			return Config{}, fmt.Errorf("confluence: band %s at %s is not below %s",
				out.Bands[i].Class, out.Bands[i].Min, out.Bands[i-1].Class)
		}
	}

	if len(out.Priority) == 0 {
		out.Priority = append([]model.ModuleID(nil), model.DefaultPriority...)
	}
	seen := make(map[model.ModuleID]bool, len(out.Priority))
	for _, id := range out.Priority {
		if seen[id] {
			return Config{}, fmt.Errorf("confluence: module %s listed twice in priority", id)
		}
		seen[id] = true
	}
	for _, id := range model.DefaultPriority {
		if !seen[id] {
			out.Priority = append(out.Priority, id)
		}
	}
	if out.Policy == nil {
		out.Policy = PriorityPolicy{}
	}
	return out, nil
}

// Classify maps a score onto the configured bands.
func (c Config) Classify(score decimal.Decimal) model.Classification {
	best := model.Weak
	for _, b := range c.Bands {
		if score.GreaterThanOrEqual(b.Min) && b.Class > best {
			best = b.Class
		}
	}
	return best
}
