// Package confluence aggregates indicator events into a single scored and
// classified verdict per (asset, interval) and evaluation instant.
package confluence

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"confluence-signals/internal/indicator"
	"confluence-signals/internal/model"
)

// Engine is safe for concurrent use; it holds no mutable state after New.
type Engine struct {
	set indicator.Set
	cfg Config
}

// New builds an engine over the five modules with a private copy of cfg.
func New(set indicator.Set, cfg Config) (*Engine, error) {
	for i, m := range set {
		if m == nil {
			return nil, fmt.Errorf("confluence: module slot %d is empty", i)
		}
	}
	c, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	return &Engine{set: set, cfg: c}, nil
}

// MinBars is the lookback that lets every module contribute.
func (e *Engine) MinBars() int { return e.set.MaxMinBars() }

// FewestBars is the lookback below which no module can contribute.
func (e *Engine) FewestBars() int { return e.set.FewestBars() }

// PolicyName reports the active direction policy.
func (e *Engine) PolicyName() string { return e.cfg.Policy.Name() }

// Classify maps a score onto the engine's bands.
func (e *Engine) Classify(score decimal.Decimal) model.Classification {
	return e.cfg.Classify(score)
}

// Weight returns the strength assigned to kind.
func (e *Engine) Weight(kind model.EventKind) (decimal.Decimal, bool) {
	w, ok := e.cfg.Weights[kind]
	return w, ok
}

// Evaluate validates series, drops bars that had not closed by at, runs the
// modules on the remainder and scores their events against the latest
// closed bar. A nil verdict with a nil error means nothing fired.
func (e *Engine) Evaluate(series model.Series, asset string, iv model.Interval, at time.Time) (*model.Verdict, error) {
	if err := ValidateSeries(series, asset, iv); err != nil {
		return nil, err
	}
	cutoff := at.Unix()
	n := sort.Search(len(series), func(i int) bool { return series[i].CloseTime() > cutoff })
	closed := series[:n:n]
	if len(closed) == 0 {
		return nil, nil
	}

	var events []model.Event
	for _, m := range e.set {
		events = append(events, m.Evaluate(closed, asset, iv)...)
	}
	return e.Score(closed.Last(), events), nil
}

type weighted struct {
	model.ScoredEvent
	w decimal.Decimal
}

// Score turns raw events into a verdict for bar. Events stamped at any other
// bar, with an unknown kind, or without a valid direction are ignored. Only
// events agreeing with the policy's direction contribute.
func (e *Engine) Score(bar model.PriceBar, events []model.Event) *model.Verdict {
	byModule := make(map[model.ModuleID][]model.ScoredEvent, len(e.cfg.Priority))
	weights := make(map[model.ModuleID][]decimal.Decimal, len(e.cfg.Priority))
	for _, ev := range events {
		if ev.Timestamp != bar.Timestamp || !ev.Direction.Valid() {
			continue
		}
		w, ok := e.cfg.Weights[ev.Kind]
		if !ok {
			continue
		}
		byModule[ev.Module] = append(byModule[ev.Module], model.ScoredEvent{Event: ev, Strength: w.InexactFloat64()})
		weights[ev.Module] = append(weights[ev.Module], w)
	}

	dir, ok := e.cfg.Policy.Choose(byModule, e.cfg.Priority)
	if !ok {
		return nil
	}

	var survivors []weighted
	for _, id := range e.cfg.Priority {
		for i, se := range byModule[id] {
			if se.Direction == dir {
				survivors = append(survivors, weighted{ScoredEvent: se, w: weights[id][i]})
			}
		}
	}
	if len(survivors) == 0 {
		return nil
	}

	score := decimal.Zero
	bonus := false
	out := make([]model.ScoredEvent, 0, len(survivors))
	for _, s := range survivors {
		score = score.Add(s.w)
		if s.Module == model.ModuleVolume && s.w.GreaterThanOrEqual(e.cfg.BonusMinStrength) {
			bonus = true
		}
		out = append(out, s.ScoredEvent)
	}
	if bonus {
		score = score.Add(e.cfg.VolumeBonus)
	}

	return &model.Verdict{
		Asset:          bar.Asset,
		Interval:       bar.Interval,
		Timestamp:      bar.Timestamp,
		Close:          bar.Close,
		Direction:      dir,
		Score:          score,
		Classification: e.cfg.Classify(score),
		Events:         out,
		VolumeBonus:    bonus,
	}
}
