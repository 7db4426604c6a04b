package indicator

import (
	"strconv"

	"confluence-signals/internal/model"
)

// TrendConfig parameterises the Trend-Average module.
type TrendConfig struct {
	FastPeriod    int // fast Hull period (21)
	SlowPeriod    int // slow Hull period (34)
	CrossLookback int // bars scanned for a fast/slow cross
	CrossQuiet    int // most recent bars excluded from cross detection
	RetestWindow  int // bars after a cross in which a retest is looked for
	RetestMaxAge  int // retests older than this many bars are ignored
	MinBars       int
}

// DefaultTrendConfig returns the Hull 21/34 configuration.
func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		FastPeriod:    21,
		SlowPeriod:    34,
		CrossLookback: 20,
		CrossQuiet:    5,
		RetestWindow:  15,
		RetestMaxAge:  12,
		MinBars:       50,
	}
}

// Trend detects closes through the fast Hull average and retests of the
// fast/slow pair after they cross.
type Trend struct {
	cfg TrendConfig
}

// NewTrend creates a Trend-Average module.
func NewTrend(cfg TrendConfig) *Trend {
	return &Trend{cfg: cfg}
}

func (t *Trend) ID() model.ModuleID { return model.ModuleTrend }
func (t *Trend) MinBars() int       { return t.cfg.MinBars }

// Evaluate emits trend-break and trend-cross events for the latest bar.
func (t *Trend) Evaluate(series model.Series, asset string, iv model.Interval) []model.Event {
	if len(series) < t.cfg.MinBars || len(series) < 3 {
		return nil
	}
	closes := series.Closes()
	fast := hull(closes, t.cfg.FastPeriod)
	slow := hull(closes, t.cfg.SlowPeriod)

	var events []model.Event
	if ev, ok := t.breakEvent(series, closes, fast); ok {
		events = append(events, ev)
	}
	events = append(events, t.crossRetests(series, fast, slow)...)
	return events
}

func (t *Trend) breakEvent(series model.Series, closes, fast []float64) (model.Event, bool) {
	n := len(closes)
	cur, prev := n-1, n-2
	if !valid(fast[cur], fast[prev]) {
		return model.Event{}, false
	}
	meta := map[string]string{"fast_average": fmtPrice(fast[cur])}
	switch {
	case closes[cur] > fast[cur] && closes[prev] <= fast[prev]:
		return newEvent(series, model.ModuleTrend, model.KindTrendBreak, model.Bullish,
			"First close above fast Hull "+strconv.Itoa(t.cfg.FastPeriod), 0, meta), true
	case closes[cur] < fast[cur] && closes[prev] >= fast[prev]:
		return newEvent(series, model.ModuleTrend, model.KindTrendBreak, model.Bearish,
			"First close below fast Hull "+strconv.Itoa(t.cfg.FastPeriod), 0, meta), true
	}
	return model.Event{}, false
}

// crossRetests looks for fast/slow crosses in the lookback window followed by
// price testing one of the lines from the new side. Only the first retest per
// cross counts, and the slow line is checked before the fast one.
func (t *Trend) crossRetests(series model.Series, fast, slow []float64) []model.Event {
	n := len(series)
	if n < t.cfg.CrossLookback {
		return nil
	}
	var events []model.Event
	for i := n - t.cfg.CrossLookback; i < n-t.cfg.CrossQuiet; i++ {
		if i < 1 || !valid(fast[i], slow[i], fast[i-1], slow[i-1]) {
			continue
		}
		var dir model.Direction
		switch {
		case fast[i] > slow[i] && fast[i-1] <= slow[i-1]:
			dir = model.Bullish
		case fast[i] < slow[i] && fast[i-1] >= slow[i-1]:
			dir = model.Bearish
		default:
			continue
		}

		end := i + t.cfg.RetestWindow
		if end > n {
			end = n
		}
		for j := i + 1; j < end; j++ {
			if !valid(fast[j], slow[j]) {
				continue
			}
			line, ok := retestLine(series[j], fast[j], slow[j], dir)
			if !ok {
				continue
			}
			age := n - 1 - j
			if age <= t.cfg.RetestMaxAge {
				role := "support"
				if dir == model.Bearish {
					role = "resistance"
				}
				events = append(events, newEvent(series, model.ModuleTrend, model.KindTrendCross, dir,
					line+" Hull "+role+" retest after cross", age,
					map[string]string{"retest_line": line, "cross_bars_ago": strconv.Itoa(n - 1 - i)}))
			}
			break
		}
	}
	return events
}

// retestLine reports which average the bar tested, if any. A bullish retest
// wicks into the line and closes at or above it; bearish is the mirror.
func retestLine(bar model.PriceBar, fast, slow float64, dir model.Direction) (string, bool) {
	touches := func(line float64) bool {
		if bar.Low > line || line > bar.High {
			return false
		}
		if dir == model.Bullish {
			return bar.Close >= line
		}
		return bar.Close <= line
	}
	if touches(slow) {
		return "slow", true
	}
	if touches(fast) {
		return "fast", true
	}
	return "", false
}
