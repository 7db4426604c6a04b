package confluence

import (
	"fmt"

	"confluence-signals/internal/model"
)

// DataIntegrityError reports a malformed price series. The cycle for that
// (asset, interval) is aborted; nothing is scored against the series.
type DataIntegrityError struct {
	Asset    string
	Interval model.Interval
	Index    int
	Reason   string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s %s bar %d: %s", e.Asset, e.Interval, e.Index, e.Reason)
}

// ValidateSeries checks ordering, spacing and OHLCV invariants. Bars must be
// strictly increasing and exactly one interval apart.
func ValidateSeries(series model.Series, asset string, iv model.Interval) error {
	fail := func(i int, format string, args ...any) error {
		return &DataIntegrityError{Asset: asset, Interval: iv, Index: i, Reason: fmt.Sprintf(format, args...)}
	}
	step := int64(iv.Seconds())
	if step <= 0 {
		return fail(0, "unsupported interval")
	}
	for i := range series {
		b := &series[i]
		if b.Asset != asset || b.Interval != iv {
			return fail(i, "bar belongs to %s", b.Key())
		}
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			return fail(i, "non-positive price")
		}
		if b.Volume < 0 {
			return fail(i, "negative volume %v", b.Volume)
		}
		if b.High < b.Open || b.High < b.Close || b.Low > b.Open || b.Low > b.Close {
			return fail(i, "ohlc out of range (o=%v h=%v l=%v c=%v)", b.Open, b.High, b.Low, b.Close)
		}
		if i == 0 {
			continue
		}
		prev := series[i-1].Timestamp
		switch {
		case b.Timestamp <= prev:
			return fail(i, "timestamp %d not after %d", b.Timestamp, prev)
		case b.Timestamp-prev != step:
			return fail(i, "gap of %ds between %d and %d", b.Timestamp-prev, prev, b.Timestamp)
		}
	}
	return nil
}
