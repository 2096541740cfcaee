package indicator

import "math"

// Pure helpers shared by the incremental engine and the batch recompute path.
// All of them follow the same null contract: ok=false means the warmup
// requirement is not met, and no value is ever NaN or infinite.

// SMA returns the arithmetic mean of the last period values.
// ok is false when fewer than period values are available.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// StdDev returns the population standard deviation (denominator = period)
// of the last period values. Same warmup rule as SMA.
func StdDev(values []float64, period int) (float64, bool) {
	mean, ok := SMA(values, period)
	if !ok {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(period)), true
}

// PctChange returns b/a - 1, defined as 0 when a == 0.
func PctChange(a, b float64) float64 {
	if a == 0 {
		return 0
	}
	return sanitize(b/a - 1)
}

// Slope returns series[last] - series[last-lookback].
// ok is false when the series is too short.
func Slope(values []float64, lookback int) (float64, bool) {
	if lookback <= 0 || len(values) <= lookback {
		return 0, false
	}
	return values[len(values)-1] - values[len(values)-1-lookback], true
}

// sanitize collapses NaN/Inf to 0. Indicator outputs are contractually
// finite; any would-be NaN or infinity becomes the documented fallback.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// fptr boxes a value after sanitizing it, for nullable indicator fields.
func fptr(v float64) *float64 {
	v = sanitize(v)
	return &v
}
