package indicator

import (
	"math"
	"strconv"

	"confluence-signals/internal/model"
)

// MultiLineConfig parameterises the Multi-Line-Trend module: three SMAs of
// the median price, slowest first.
type MultiLineConfig struct {
	SlowPeriod       int     // jaw (130)
	MidPeriod        int     // teeth (80)
	FastPeriod       int     // lips (50)
	SleepSpreadPct   float64 // line spread at or below this percent means sleeping
	TouchPct         float64 // close within this percent of the slow line is a touch
	TransitionWindow int     // bars scanned for a sleeping->awake transition
	ConfirmBars      int     // bars after a transition that must agree
	ZoneLookback     int     // bars scanned for zone events
	ZoneMaxAge       int     // zone events older than this are dropped
	MinBars          int
}

// DefaultMultiLineConfig returns the 10x-stretched alligator settings.
func DefaultMultiLineConfig() MultiLineConfig {
	return MultiLineConfig{
		SlowPeriod:       130,
		MidPeriod:        80,
		FastPeriod:       50,
		SleepSpreadPct:   0.15,
		TouchPct:         0.2,
		TransitionWindow: 10,
		ConfirmBars:      3,
		ZoneLookback:     20,
		ZoneMaxAge:       10,
		MinBars:          150,
	}
}

type lineState int

const (
	stateUnknown lineState = iota
	stateSleeping
	stateAwake
)

type lineTrend int

const (
	trendNone lineTrend = iota
	trendMixed
	trendUp
	trendDown
)

func (t lineTrend) direction() (model.Direction, bool) {
	switch t {
	case trendUp:
		return model.Bullish, true
	case trendDown:
		return model.Bearish, true
	}
	return "", false
}

type priceZone int

const (
	zoneUnknown priceZone = iota
	zoneBeyondFast
	zoneAtSlow
	zoneBeyondSlow
	zoneBetween
)

// MultiLine tracks whether the three lines are converged (sleeping) or fanned
// out (awake), and where price sits relative to them.
type MultiLine struct {
	cfg MultiLineConfig
}

// NewMultiLine creates a Multi-Line-Trend module.
func NewMultiLine(cfg MultiLineConfig) *MultiLine {
	return &MultiLine{cfg: cfg}
}

func (m *MultiLine) ID() model.ModuleID { return model.ModuleMultiLine }
func (m *MultiLine) MinBars() int       { return m.cfg.MinBars }

// Evaluate emits lines-awake, line-touch and zone-entry events.
func (m *MultiLine) Evaluate(series model.Series, asset string, iv model.Interval) []model.Event {
	if len(series) < m.cfg.MinBars || len(series) < m.cfg.SlowPeriod {
		return nil
	}
	med := series.Medians()
	slow := sma(med, m.cfg.SlowPeriod)
	mid := sma(med, m.cfg.MidPeriod)
	fast := sma(med, m.cfg.FastPeriod)

	n := len(series)
	states := make([]lineState, n)
	trends := make([]lineTrend, n)
	for i := 0; i < n; i++ {
		states[i], trends[i] = m.classify(slow[i], mid[i], fast[i])
	}

	dir, ok := trends[n-1].direction()
	if !ok {
		return nil
	}

	var events []model.Event
	if age, found := m.wakeTransition(states); found {
		events = append(events, newEvent(series, model.ModuleMultiLine, model.KindLinesAwake, dir,
			"Lines woke up from consolidation", age, nil))
	}
	events = append(events, m.zoneEvents(series, slow, fast, dir)...)
	return events
}

func (m *MultiLine) classify(slow, mid, fast float64) (lineState, lineTrend) {
	if !valid(slow, mid, fast) {
		return stateUnknown, trendNone
	}
	hi := math.Max(slow, math.Max(mid, fast))
	lo := math.Min(slow, math.Min(mid, fast))
	if hi == 0 {
		return stateUnknown, trendNone
	}
	if (hi-lo)/hi*100 <= m.cfg.SleepSpreadPct {
		return stateSleeping, trendNone
	}
	switch {
	case fast > mid && mid > slow:
		return stateAwake, trendUp
	case fast < mid && mid < slow:
		return stateAwake, trendDown
	}
	return stateAwake, trendMixed
}

// wakeTransition finds the latest confirmed sleeping->awake change in the
// transition window and returns its age in bars.
func (m *MultiLine) wakeTransition(states []lineState) (int, bool) {
	n := len(states)
	if n < m.cfg.TransitionWindow {
		return 0, false
	}
	recent := states[n-m.cfg.TransitionWindow:]
	age, found := 0, false
	for i := 1; i < len(recent); i++ {
		if recent[i-1] != stateSleeping || recent[i] != stateAwake || i+m.cfg.ConfirmBars >= len(recent) {
			continue
		}
		confirmed := true
		for j := 1; j <= m.cfg.ConfirmBars; j++ {
			if recent[i+j] != stateAwake {
				confirmed = false
				break
			}
		}
		if confirmed {
			age, found = len(recent)-1-i, true
		}
	}
	return age, found
}

func (m *MultiLine) zone(price, slow, fast float64, dir model.Direction) priceZone {
	if !valid(slow, fast) || slow == 0 {
		return zoneUnknown
	}
	atSlow := math.Abs(price-slow)/slow*100 < m.cfg.TouchPct
	if dir == model.Bullish {
		switch {
		case price > fast:
			return zoneBeyondFast
		case atSlow:
			return zoneAtSlow
		case price < slow:
			return zoneBeyondSlow
		case fast >= price && price >= slow:
			return zoneBetween
		}
		return zoneUnknown
	}
	switch {
	case price < fast:
		return zoneBeyondFast
	case atSlow:
		return zoneAtSlow
	case price > slow:
		return zoneBeyondSlow
	case fast <= price && price <= slow:
		return zoneBetween
	}
	return zoneUnknown
}

// zoneEvents reports entries into the fast..slow retracement band and
// touches of the slow line over the zone lookback.
func (m *MultiLine) zoneEvents(series model.Series, slow, fast []float64, dir model.Direction) []model.Event {
	n := len(series)
	start := n - m.cfg.ZoneLookback
	if start < 1 {
		start = 1
	}
	var events []model.Event
	for i := start; i < n; i++ {
		age := n - 1 - i
		if age > m.cfg.ZoneMaxAge {
			continue
		}
		cur := m.zone(series[i].Close, slow[i], fast[i], dir)
		prev := m.zone(series[i-1].Close, slow[i-1], fast[i-1], dir)

		if prev != zoneUnknown && cur != prev && cur == zoneBetween {
			events = append(events, newEvent(series, model.ModuleMultiLine, model.KindZoneEntry, dir,
				"Price entered the retracement zone", age, nil))
		}
		if cur == zoneAtSlow {
			events = append(events, newEvent(series, model.ModuleMultiLine, model.KindLineTouch, dir,
				"Price touched the slowest line", age,
				map[string]string{"slow_line": fmtPrice(slow[i]), "bar": strconv.FormatInt(series[i].Timestamp, 10)}))
		}
	}
	return events
}
