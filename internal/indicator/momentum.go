package indicator

import (
	"strconv"

	"confluence-signals/internal/model"
)

// MomentumConfig parameterises the Momentum-Divergence module.
type MomentumConfig struct {
	FastPeriod   int // awesome oscillator fast SMA (5)
	SlowPeriod   int // awesome oscillator slow SMA (34)
	PivotOrder   int // bars each side that confirm a pivot
	PivotMatch   int // max distance between a price pivot and its oscillator pivot
	RecentPivots int // pivots considered per series
	MaxAge       int // the later price pivot must be at most this many bars old
	MinBars      int
}

// DefaultMomentumConfig returns the 5/34 awesome oscillator configuration.
func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		FastPeriod:   5,
		SlowPeriod:   34,
		PivotOrder:   5,
		PivotMatch:   5,
		RecentPivots: 3,
		MaxAge:       12,
		MinBars:      100,
	}
}

// Momentum detects regular divergence between price pivots and awesome
// oscillator pivots.
type Momentum struct {
	cfg MomentumConfig
}

// NewMomentum creates a Momentum-Divergence module.
func NewMomentum(cfg MomentumConfig) *Momentum {
	return &Momentum{cfg: cfg}
}

func (m *Momentum) ID() model.ModuleID { return model.ModuleMomentum }
func (m *Momentum) MinBars() int       { return m.cfg.MinBars }

// Evaluate emits one momentum-divergence event per qualifying pivot pair.
func (m *Momentum) Evaluate(series model.Series, asset string, iv model.Interval) []model.Event {
	if len(series) < m.cfg.MinBars || len(series) < m.cfg.SlowPeriod {
		return nil
	}
	ao := awesomeOscillator(series.Medians(), m.cfg.FastPeriod, m.cfg.SlowPeriod)

	// Work on the stretch where the oscillator is defined.
	off := m.cfg.SlowPeriod - 1
	osc := ao[off:]
	highs := series.Highs()[off:]
	lows := series.Lows()[off:]
	n := len(osc)
	if n < 2*m.cfg.PivotOrder+1 {
		return nil
	}

	var events []model.Event
	for _, d := range m.divergences(lows, osc, pivotLows(lows, m.cfg.PivotOrder), pivotLows(osc, m.cfg.PivotOrder), model.Bullish) {
		events = append(events, m.event(series, d, n))
	}
	for _, d := range m.divergences(highs, osc, pivotHighs(highs, m.cfg.PivotOrder), pivotHighs(osc, m.cfg.PivotOrder), model.Bearish) {
		events = append(events, m.event(series, d, n))
	}
	return events
}

type divergence struct {
	dir            model.Direction
	price1, price2 int
	osc1, osc2     int
}

// divergences compares consecutive recent price pivots with the oscillator
// pivots nearest to them. Bullish: lower price low, higher oscillator low.
// Bearish: higher price high, lower oscillator high.
func (m *Momentum) divergences(price, osc []float64, pricePivots, oscPivots []int, dir model.Direction) []divergence {
	if len(pricePivots) < 2 || len(oscPivots) < 2 {
		return nil
	}
	pp := lastN(pricePivots, m.cfg.RecentPivots)
	op := lastN(oscPivots, m.cfg.RecentPivots)
	n := len(price)

	var out []divergence
	for i := 1; i < len(pp); i++ {
		p1, p2 := pp[i-1], pp[i]
		if n-1-p2 > m.cfg.MaxAge {
			continue
		}
		o1, o2 := -1, -1
		for _, o := range op {
			if abs(o-p1) <= m.cfg.PivotMatch {
				o1 = o
			}
			if abs(o-p2) <= m.cfg.PivotMatch {
				o2 = o
			}
		}
		if o1 < 0 || o2 < 0 {
			continue
		}
		var hit bool
		if dir == model.Bullish {
			hit = price[p2] < price[p1] && osc[o2] > osc[o1]
		} else {
			hit = price[p2] > price[p1] && osc[o2] < osc[o1]
		}
		if hit {
			out = append(out, divergence{dir: dir, price1: p1, price2: p2, osc1: o1, osc2: o2})
		}
	}
	return out
}

func (m *Momentum) event(series model.Series, d divergence, n int) model.Event {
	desc := "Regular bullish divergence"
	if d.dir == model.Bearish {
		desc = "Regular bearish divergence"
	}
	return newEvent(series, model.ModuleMomentum, model.KindDivergence, d.dir, desc, n-1-d.price2,
		map[string]string{"pivot_span": strconv.Itoa(d.price2 - d.price1)})
}

// awesomeOscillator is SMA(median, fast) - SMA(median, slow).
func awesomeOscillator(median []float64, fast, slow int) []float64 {
	f := sma(median, fast)
	s := sma(median, slow)
	out := make([]float64, len(median))
	for i := range out {
		out[i] = f[i] - s[i]
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
