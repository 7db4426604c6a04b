package indicator

import (
	"math"

	"github.com/markcheno/go-talib"
)

// Series helpers return slices the same length as their input. Entries
// before the lookback is satisfied are NaN.

func sma(x []float64, period int) []float64 {
	if period <= 0 || len(x) < period {
		return nanSlice(len(x))
	}
	out := talib.Sma(x, period)
	fillNaN(out, period-1)
	return out
}

func wma(x []float64, period int) []float64 {
	if period <= 0 || len(x) < period {
		return nanSlice(len(x))
	}
	out := talib.Wma(x, period)
	fillNaN(out, period-1)
	return out
}

// hull computes the Hull moving average: WMA(2*WMA(n/2) - WMA(n), sqrt(n)).
func hull(x []float64, period int) []float64 {
	out := nanSlice(len(x))
	if period < 2 || len(x) < period {
		return out
	}
	half := wma(x, period/2)
	full := wma(x, period)

	start := period - 1
	diff := make([]float64, len(x)-start)
	for i := range diff {
		diff[i] = 2*half[start+i] - full[start+i]
	}

	smoothed := wma(diff, int(math.Sqrt(float64(period))))
	copy(out[start:], smoothed)
	return out
}

func rollingMax(x []float64, period int) []float64 {
	if period <= 0 || len(x) < period {
		return nanSlice(len(x))
	}
	out := talib.Max(x, period)
	fillNaN(out, period-1)
	return out
}

func rollingMin(x []float64, period int) []float64 {
	if period <= 0 || len(x) < period {
		return nanSlice(len(x))
	}
	out := talib.Min(x, period)
	fillNaN(out, period-1)
	return out
}

// midpoint returns (max(high, period) + min(low, period)) / 2.
func midpoint(high, low []float64, period int) []float64 {
	hi := rollingMax(high, period)
	lo := rollingMin(low, period)
	out := make([]float64, len(high))
	for i := range out {
		out[i] = (hi[i] + lo[i]) / 2
	}
	return out
}

// pivotHighs returns indices i where x[i] is strictly greater than every
// value within order bars on each side.
func pivotHighs(x []float64, order int) []int {
	return pivots(x, order, func(a, b float64) bool { return a > b })
}

// pivotLows returns indices i where x[i] is strictly less than every value
// within order bars on each side.
func pivotLows(x []float64, order int) []int {
	return pivots(x, order, func(a, b float64) bool { return a < b })
}

func pivots(x []float64, order int, beats func(a, b float64) bool) []int {
	var out []int
	for i := order; i+order < len(x); i++ {
		ok := true
		for j := i - order; j <= i+order && ok; j++ {
			if j != i && !beats(x[i], x[j]) {
				ok = false
			}
		}
		if ok {
			out = append(out, i)
		}
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	fillNaN(out, n)
	return out
}

func fillNaN(x []float64, upto int) {
	if upto > len(x) {
		upto = len(x)
	}
	for i := 0; i < upto; i++ {
		x[i] = math.NaN()
	}
}

func valid(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}

func lastN(idx []int, n int) []int {
	if len(idx) <= n {
		return idx
	}
	return idx[len(idx)-n:]
}
