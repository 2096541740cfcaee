package indicator

import (
	"math"
	"testing"
)

func TestSMA(t *testing.T) {
	cases := []struct {
		values []float64
		period int
		want   float64
		ok     bool
	}{
		{[]float64{1, 2, 3, 4, 5}, 3, 4, true},
		{[]float64{1, 2, 3, 4, 5}, 5, 3, true},
		{[]float64{1, 2}, 3, 0, false},
		{nil, 3, 0, false},
		{[]float64{10}, 1, 10, true},
	}
	for _, tc := range cases {
		got, ok := SMA(tc.values, tc.period)
		if ok != tc.ok || math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("SMA(%v, %d) = (%v, %v), want (%v, %v)", tc.values, tc.period, got, ok, tc.want, tc.ok)
		}
	}
}

func TestStdDevPopulation(t *testing.T) {
	// Population stddev of {2,4,4,4,5,5,7,9} is exactly 2
	vals := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	got, ok := StdDev(vals, 8)
	if !ok {
		t.Fatal("expected ok")
	}
	if math.Abs(got-2) > 1e-9 {
		t.Errorf("StdDev = %v, want 2", got)
	}

	// Constant series has zero deviation
	got, ok = StdDev([]float64{5, 5, 5, 5}, 4)
	if !ok || got != 0 {
		t.Errorf("StdDev of constant series = (%v, %v), want (0, true)", got, ok)
	}

	if _, ok := StdDev([]float64{1, 2}, 3); ok {
		t.Error("expected ok=false below warmup")
	}
}

func TestPctChange(t *testing.T) {
	cases := []struct {
		a, b float64
		want float64
	}{
		{100, 110, 0.1},
		{100, 90, -0.1},
		{0, 5, 0}, // zero base is defined as 0, not Inf
		{0, 0, 0},
		{50, 50, 0},
	}
	for _, tc := range cases {
		if got := PctChange(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("PctChange(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSlope(t *testing.T) {
	vals := []float64{1, 3, 6, 10}
	got, ok := Slope(vals, 1)
	if !ok || got != 4 {
		t.Errorf("Slope lookback=1 = (%v, %v), want (4, true)", got, ok)
	}
	got, ok = Slope(vals, 3)
	if !ok || got != 9 {
		t.Errorf("Slope lookback=3 = (%v, %v), want (9, true)", got, ok)
	}
	if _, ok := Slope(vals, 4); ok {
		t.Error("expected ok=false when lookback exceeds history")
	}
}

func TestSanitize(t *testing.T) {
	if v := sanitize(math.NaN()); v != 0 {
		t.Errorf("sanitize(NaN) = %v, want 0", v)
	}
	if v := sanitize(math.Inf(1)); v != 0 {
		t.Errorf("sanitize(+Inf) = %v, want 0", v)
	}
	if v := sanitize(3.5); v != 3.5 {
		t.Errorf("sanitize(3.5) = %v", v)
	}
}

func TestRollingWindowPrev(t *testing.T) {
	w := newRollingWindow(4)
	for _, v := range []float64{1, 2, 3, 4, 5} { // 1 evicted
		w.Update(v)
	}
	if v, ok := w.Prev(1); !ok || v != 4 {
		t.Errorf("Prev(1) = (%v, %v), want (4, true)", v, ok)
	}
	if v, ok := w.Prev(3); !ok || v != 2 {
		t.Errorf("Prev(3) = (%v, %v), want (2, true)", v, ok)
	}
	if _, ok := w.Prev(4); ok {
		t.Error("Prev(4) should be out of range for capacity 4")
	}
}

func TestWilderRSIAllGains(t *testing.T) {
	r := newWilderRSI(14)
	for i := 0; i <= 20; i++ {
		r.Update(float64(100 + i))
	}
	v, ok := r.Value()
	if !ok {
		t.Fatal("expected RSI ready after 21 closes")
	}
	if v != 100 {
		t.Errorf("monotonically rising closes: RSI = %v, want exactly 100", v)
	}
}

func TestWilderRSIWarmup(t *testing.T) {
	r := newWilderRSI(14)
	for i := 0; i < 14; i++ { // 14 closes = 13 deltas, one short
		r.Update(float64(100 + i))
	}
	if _, ok := r.Value(); ok {
		t.Error("RSI should not be ready with only 13 deltas")
	}
	r.Update(115)
	if _, ok := r.Value(); !ok {
		t.Error("RSI should be ready after 14 deltas")
	}
}
