package indicator

import (
	"math"
	"strconv"

	"confluence-signals/internal/model"
)

// CloudConfig parameterises the Cloud module. Periods are the classic
// 9/26/52 scaled up for crypto.
type CloudConfig struct {
	ConversionPeriod int // tenkan (20)
	BasePeriod       int // kijun (60)
	SpanBPeriod      int // senkou B (120)
	ColorLookback    int // bars scanned for a cloud colour change
	RetestSettle     int // a colour change must be at least this many bars old
	RetestWindow     int // bars after a colour change scanned for a retest
	RetestMaxAge     int
	BaselineLookback int // bars scanned for a baseline touch
	MinBars          int
}

// DefaultCloudConfig returns the 20/60/120 cloud configuration.
func DefaultCloudConfig() CloudConfig {
	return CloudConfig{
		ConversionPeriod: 20,
		BasePeriod:       60,
		SpanBPeriod:      120,
		ColorLookback:    48,
		RetestSettle:     5,
		RetestWindow:     20,
		RetestMaxAge:     24,
		BaselineLookback: 6,
		MinBars:          150,
	}
}

type cloudColor int

const (
	colorNone cloudColor = iota
	colorGreen
	colorRed
)

func (c cloudColor) direction() model.Direction {
	if c == colorGreen {
		return model.Bullish
	}
	return model.Bearish
}

func (c cloudColor) String() string {
	switch c {
	case colorGreen:
		return "green"
	case colorRed:
		return "red"
	}
	return "none"
}

// Cloud detects retests of a freshly flipped cloud and touches of the
// baseline.
type Cloud struct {
	cfg CloudConfig
}

// NewCloud creates a Cloud module.
func NewCloud(cfg CloudConfig) *Cloud {
	return &Cloud{cfg: cfg}
}

func (c *Cloud) ID() model.ModuleID { return model.ModuleCloud }
func (c *Cloud) MinBars() int       { return c.cfg.MinBars }

// Evaluate emits cloud-retest and baseline-touch events.
func (c *Cloud) Evaluate(series model.Series, asset string, iv model.Interval) []model.Event {
	if len(series) < c.cfg.MinBars || len(series) < c.cfg.SpanBPeriod {
		return nil
	}
	highs, lows := series.Highs(), series.Lows()
	tenkan := midpoint(highs, lows, c.cfg.ConversionPeriod)
	kijun := midpoint(highs, lows, c.cfg.BasePeriod)
	spanB := midpoint(highs, lows, c.cfg.SpanBPeriod)

	n := len(series)
	spanA := make([]float64, n)
	colors := make([]cloudColor, n)
	for i := 0; i < n; i++ {
		spanA[i] = (tenkan[i] + kijun[i]) / 2
		switch {
		case !valid(spanA[i], spanB[i]):
			colors[i] = colorNone
		case spanA[i] > spanB[i]:
			colors[i] = colorGreen
		case spanA[i] < spanB[i]:
			colors[i] = colorRed
		default:
			colors[i] = colors[maxInt(i-1, 0)]
		}
	}

	var events []model.Event
	events = append(events, c.retests(series, spanA, spanB, colors)...)
	events = append(events, c.baselineTouches(series, kijun)...)
	return events
}

// retests looks for a close inside the cloud after each recent colour change
// that is old enough to have settled. Only the first retest per change
// counts.
func (c *Cloud) retests(series model.Series, spanA, spanB []float64, colors []cloudColor) []model.Event {
	n := len(series)
	start := maxInt(n-c.cfg.ColorLookback, 1)
	var events []model.Event
	for i := start; i < n; i++ {
		if colors[i] == colorNone || colors[i-1] == colorNone || colors[i] == colors[i-1] {
			continue
		}
		if i >= n-c.cfg.RetestSettle {
			continue
		}
		end := minInt(i+c.cfg.RetestWindow, n-1)
		for j := i + 1; j <= end; j++ {
			top := math.Max(spanA[j], spanB[j])
			bottom := math.Min(spanA[j], spanB[j])
			cl := series[j].Close
			if cl < bottom || cl > top {
				continue
			}
			age := n - 1 - j
			if age <= c.cfg.RetestMaxAge {
				events = append(events, newEvent(series, model.ModuleCloud, model.KindCloudRetest, colors[i].direction(),
					"Price retested the "+colors[i].String()+" cloud", age,
					map[string]string{
						"cloud_color":     colors[i].String(),
						"change_bars_ago": strconv.Itoa(n - 1 - i),
					}))
			}
			break
		}
	}
	return events
}

func (c *Cloud) baselineTouches(series model.Series, kijun []float64) []model.Event {
	n := len(series)
	var events []model.Event
	for i := maxInt(n-c.cfg.BaselineLookback, 0); i < n; i++ {
		k := kijun[i]
		bar := series[i]
		if !valid(k) || bar.Low > k || bar.High < k {
			continue
		}
		var dir model.Direction
		switch {
		case bar.Close > k:
			dir = model.Bullish
		case bar.Close < k:
			dir = model.Bearish
		default:
			continue
		}
		events = append(events, newEvent(series, model.ModuleCloud, model.KindBaselineTouch, dir,
			"Price touched the baseline", n-1-i,
			map[string]string{"baseline": fmtPrice(k)}))
	}
	return events
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
