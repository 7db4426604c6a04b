package confluence

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"confluence-signals/internal/model"
)

// DirectionPolicy decides which direction a set of scored events argues for.
// byModule holds each module's events in emission order; priority lists the
// modules in consultation order. ok is false when no module emitted anything.
type DirectionPolicy interface {
	Name() string
	Choose(byModule map[model.ModuleID][]model.ScoredEvent, priority []model.ModuleID) (dir model.Direction, ok bool)
}

// PriorityPolicy lets the first module in priority order that emitted
// anything decide. Within that module the first event wins.
type PriorityPolicy struct{}

func (PriorityPolicy) Name() string { return "priority" }

func (PriorityPolicy) Choose(byModule map[model.ModuleID][]model.ScoredEvent, priority []model.ModuleID) (model.Direction, bool) {
	for _, id := range priority {
		if evs := byModule[id]; len(evs) > 0 {
			return evs[0].Direction, true
		}
	}
	return "", false
}

// StrengthPolicy picks the direction with the larger summed strength and
// falls back to PriorityPolicy on an exact tie.
type StrengthPolicy struct{}

func (StrengthPolicy) Name() string { return "strength" }

func (StrengthPolicy) Choose(byModule map[model.ModuleID][]model.ScoredEvent, priority []model.ModuleID) (model.Direction, bool) {
	bull, bear := decimal.Zero, decimal.Zero
	fired := false
	for _, evs := range byModule {
		for _, e := range evs {
			fired = true
			w := decimal.NewFromFloat(e.Strength)
			if e.Direction == model.Bullish {
				bull = bull.Add(w)
			} else {
				bear = bear.Add(w)
			}
		}
	}
	if !fired {
		return "", false
	}
	switch bull.Cmp(bear) {
	case 1:
		return model.Bullish, true
	case -1:
		return model.Bearish, true
	}
	return PriorityPolicy{}.Choose(byModule, priority)
}

// ParsePolicy resolves a policy by name.
func ParsePolicy(name string) (DirectionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "priority":
		return PriorityPolicy{}, nil
	case "strength":
		return StrengthPolicy{}, nil
	}
	return nil, fmt.Errorf("confluence: unknown direction policy %q", name)
}
