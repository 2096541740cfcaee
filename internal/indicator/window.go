package indicator

import "math"

// rollingWindow keeps the last capacity values in a circular buffer and
// serves the window statistics that need more than a running sum
// (population stddev, min/max). The windows involved are small (≤ 20), so
// a scan per stat keeps the math exact without accumulator drift.
type rollingWindow struct {
	cap   int
	buf   []float64
	idx   int
	count int
	sum   float64
}

func newRollingWindow(capacity int) *rollingWindow {
	return &rollingWindow{
		cap: capacity,
		buf: make([]float64, capacity),
	}
}

func (w *rollingWindow) Update(v float64) {
	if w.count >= w.cap {
		w.sum -= w.buf[w.idx]
	}
	w.buf[w.idx] = v
	w.sum += v
	w.idx = (w.idx + 1) % w.cap
	w.count++
}

// Full reports whether capacity values have been seen.
func (w *rollingWindow) Full() bool {
	return w.count >= w.cap
}

// Mean returns the window mean; ok=false until the window is full.
func (w *rollingWindow) Mean() (float64, bool) {
	if !w.Full() {
		return 0, false
	}
	return w.sum / float64(w.cap), true
}

// Std returns the population standard deviation (denominator = capacity).
func (w *rollingWindow) Std() (float64, bool) {
	mean, ok := w.Mean()
	if !ok {
		return 0, false
	}
	sum := 0.0
	for _, v := range w.buf {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(w.cap)), true
}

// MinMax returns the smallest and largest window values.
func (w *rollingWindow) MinMax() (min, max float64, ok bool) {
	if !w.Full() {
		return 0, 0, false
	}
	min, max = w.buf[0], w.buf[0]
	for _, v := range w.buf[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, true
}

// Prev returns the value pushed lookback updates ago (lookback ≥ 1).
// ok=false when not enough values have been seen or lookback exceeds capacity.
func (w *rollingWindow) Prev(lookback int) (float64, bool) {
	if lookback < 1 || lookback >= w.cap || w.count <= lookback {
		return 0, false
	}
	// idx points at the next write position; the newest value sits at idx-1.
	pos := (w.idx - 1 - lookback + 2*w.cap) % w.cap
	return w.buf[pos], true
}
