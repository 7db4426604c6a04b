package model

import (
	"fmt"
	"strings"
)

// Direction is the side a signal argues for.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// Legacy direction names used by watchlists: "wind_catcher" is the bullish
// system and "river_turn" the bearish one.
const (
	WindCatcher = "wind_catcher"
	RiverTurn   = "river_turn"
)

// ParseDirection accepts "bullish"/"bearish" and the wind_catcher/river_turn aliases.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(Bullish), WindCatcher:
		return Bullish, nil
	case string(Bearish), RiverTurn:
		return Bearish, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Bullish {
		return Bearish
	}
	return Bullish
}

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == Bullish || d == Bearish
}

// System returns the watchlist system name for the direction.
func (d Direction) System() string {
	if d == Bullish {
		return WindCatcher
	}
	return RiverTurn
}

// ModuleID identifies one of the five indicator modules.
type ModuleID string

const (
	ModuleTrend     ModuleID = "trend"
	ModuleMomentum  ModuleID = "momentum"
	ModuleMultiLine ModuleID = "multiline"
	ModuleCloud     ModuleID = "cloud"
	ModuleVolume    ModuleID = "volume"
)

// DefaultPriority is the order in which module output is consulted.
var DefaultPriority = []ModuleID{ModuleTrend, ModuleMomentum, ModuleMultiLine, ModuleCloud, ModuleVolume}

// EventKind tags the sub-signal an indicator module observed.
type EventKind string

const (
	KindTrendBreak    EventKind = "trend-break"
	KindTrendCross    EventKind = "trend-cross"
	KindDivergence    EventKind = "momentum-divergence"
	KindLinesAwake    EventKind = "lines-awake"
	KindLineTouch     EventKind = "line-touch"
	KindZoneEntry     EventKind = "zone-entry"
	KindCloudRetest   EventKind = "cloud-retest"
	KindBaselineTouch EventKind = "baseline-touch"
	KindVolumeNormal  EventKind = "volume-normal"
	KindVolumeWarming EventKind = "volume-warming"
	KindVolumeHot     EventKind = "volume-hot"
	KindVolumeClimax  EventKind = "volume-climax"
)

// EventKinds lists every kind a module can emit.
var EventKinds = []EventKind{
	KindTrendBreak, KindTrendCross, KindDivergence,
	KindLinesAwake, KindLineTouch, KindZoneEntry,
	KindCloudRetest, KindBaselineTouch,
	KindVolumeNormal, KindVolumeWarming, KindVolumeHot, KindVolumeClimax,
}

// ParseEventKind validates a kind name.
func ParseEventKind(s string) (EventKind, error) {
	kind := EventKind(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range EventKinds {
		if k == kind {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// Event is a raw signal event as emitted by an indicator module. Modules
// report only what fired; the confluence engine assigns strength.
type Event struct {
	Module      ModuleID          `json:"module"`
	Kind        EventKind         `json:"kind"`
	Direction   Direction         `json:"direction"`
	Timestamp   int64             `json:"timestamp"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ScoredEvent is an Event paired with the weight the engine gave it.
type ScoredEvent struct {
	Event
	Strength float64 `json:"strength"`
}
