package indicator

import (
	"strconv"

	"confluence-signals/internal/model"
)

// VolumeConfig parameterises the Volume module.
type VolumeConfig struct {
	BaselineBars int     // bars averaged for the baseline, current bar included
	WarmingRatio float64 // current/baseline ratio for WARMING
	HotRatio     float64
	ClimaxRatio  float64
	MinBars      int
}

// DefaultVolumeConfig returns the 1.5/2/3x ratio ladder over 120 bars.
func DefaultVolumeConfig() VolumeConfig {
	return VolumeConfig{
		BaselineBars: 120,
		WarmingRatio: 1.5,
		HotRatio:     2.0,
		ClimaxRatio:  3.0,
		MinBars:      24,
	}
}

// Volume grades the latest bar's volume against its recent average. It
// always emits exactly one event once enough data is present.
type Volume struct {
	cfg VolumeConfig
}

// NewVolume creates a Volume module.
func NewVolume(cfg VolumeConfig) *Volume {
	return &Volume{cfg: cfg}
}

func (v *Volume) ID() model.ModuleID { return model.ModuleVolume }
func (v *Volume) MinBars() int       { return v.cfg.MinBars }

// Level maps a volume ratio to its event kind.
func (v *Volume) Level(ratio float64) model.EventKind {
	switch {
	case ratio >= v.cfg.ClimaxRatio:
		return model.KindVolumeClimax
	case ratio >= v.cfg.HotRatio:
		return model.KindVolumeHot
	case ratio >= v.cfg.WarmingRatio:
		return model.KindVolumeWarming
	}
	return model.KindVolumeNormal
}

// Evaluate emits a single volume event whose direction follows the latest
// bar's body.
func (v *Volume) Evaluate(series model.Series, asset string, iv model.Interval) []model.Event {
	if len(series) < v.cfg.MinBars || len(series) == 0 {
		return nil
	}
	vols := series.Volumes()
	window := vols
	if v.cfg.BaselineBars > 0 && len(vols) > v.cfg.BaselineBars {
		window = vols[len(vols)-v.cfg.BaselineBars:]
	}
	var sum float64
	for _, x := range window {
		sum += x
	}
	avg := sum / float64(len(window))
	if avg <= 0 {
		return nil
	}

	last := series.Last()
	ratio := last.Volume / avg
	kind := v.Level(ratio)
	dir := model.Bearish
	if last.Bullish() {
		dir = model.Bullish
	}
	return []model.Event{newEvent(series, model.ModuleVolume, kind, dir,
		"Volume at "+strconv.FormatFloat(ratio, 'f', 2, 64)+"x average", 0,
		map[string]string{
			"level":   volumeLevelName(kind),
			"ratio":   strconv.FormatFloat(ratio, 'f', 4, 64),
			"average": strconv.FormatFloat(avg, 'f', 4, 64),
		})}
}

func volumeLevelName(kind model.EventKind) string {
	switch kind {
	case model.KindVolumeClimax:
		return "CLIMAX"
	case model.KindVolumeHot:
		return "HOT"
	case model.KindVolumeWarming:
		return "WARMING"
	}
	return "NORMAL"
}
