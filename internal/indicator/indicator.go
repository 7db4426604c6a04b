// Package indicator provides the five technical indicator modules that feed
// the confluence engine.
//
// Every module implements Module: it receives a closed, ordered price series
// and reports the events that fired on the latest bar. Modules never assign
// strength; the engine owns the weight table. A module given fewer bars than
// its minimum lookback returns nil instead of failing.
package indicator

import (
	"strconv"

	"confluence-signals/internal/model"
)

// Module is the shared contract of all indicator modules.
type Module interface {
	// ID returns the module identifier used for priority ordering.
	ID() model.ModuleID

	// MinBars is the minimum lookback required to emit anything.
	MinBars() int

	// Evaluate inspects series (oldest first) and returns the events that
	// fired at its latest bar. It must not retain or mutate series.
	Evaluate(series model.Series, asset string, iv model.Interval) []model.Event
}

// Set is the fixed group of five modules, one per ModuleID.
type Set [5]Module

// DefaultSet returns the five modules with their default parameters, in
// default priority order.
func DefaultSet() Set {
	return Set{
		NewTrend(DefaultTrendConfig()),
		NewMomentum(DefaultMomentumConfig()),
		NewMultiLine(DefaultMultiLineConfig()),
		NewCloud(DefaultCloudConfig()),
		NewVolume(DefaultVolumeConfig()),
	}
}

// ByID returns the module with the given id, or nil.
func (s Set) ByID(id model.ModuleID) Module {
	for _, m := range s {
		if m != nil && m.ID() == id {
			return m
		}
	}
	return nil
}

// MaxMinBars returns the largest MinBars across the set.
func (s Set) MaxMinBars() int {
	n := 0
	for _, m := range s {
		if m != nil && m.MinBars() > n {
			n = m.MinBars()
		}
	}
	return n
}

// FewestBars returns the smallest MinBars across the set: below it no module
// can emit anything.
func (s Set) FewestBars() int {
	n := 0
	for _, m := range s {
		if m != nil && (n == 0 || m.MinBars() < n) {
			n = m.MinBars()
		}
	}
	return n
}

// newEvent stamps an event at the latest bar of series. barsAgo records how
// far back the underlying condition occurred.
func newEvent(series model.Series, mod model.ModuleID, kind model.EventKind, dir model.Direction, desc string, barsAgo int, meta map[string]string) model.Event {
	last := series.Last()
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta["bars_ago"] = strconv.Itoa(barsAgo)
	return model.Event{
		Module:      mod,
		Kind:        kind,
		Direction:   dir,
		Timestamp:   last.Timestamp,
		Description: desc,
		Metadata:    meta,
	}
}

func fmtPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
