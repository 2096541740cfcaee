package agg

import (
	"testing"

	"candleflow/internal/indicator"
	"candleflow/internal/model"
	"candleflow/internal/timeframe"
)

func newTestAgg() (*Aggregator, chan model.Candle, chan model.Indicator) {
	a := New(indicator.NewEngine(indicator.Config{}))
	candleCh := make(chan model.Candle, 256)
	indCh := make(chan model.Indicator, 256)
	return a, candleCh, indCh
}

func tick(market string, ts int64, o, h, l, c, v float64) model.Tick {
	return model.Tick{Market: market, TS: ts, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func drainCandles(ch chan model.Candle) []model.Candle {
	var out []model.Candle
	for {
		select {
		case c := <-ch:
			out = append(out, c)
		default:
			return out
		}
	}
}

func TestFirstTickEmitsNothing(t *testing.T) {
	a, candleCh, indCh := newTestAgg()
	a.OnTick(tick("BTC-USD", 0, 100, 101, 99, 100, 10), candleCh, indCh)

	if got := drainCandles(candleCh); len(got) != 0 {
		t.Errorf("first tick should emit nothing, got %d candles", len(got))
	}
}

func TestSameBucketReplacesWithoutEmit(t *testing.T) {
	a, candleCh, indCh := newTestAgg()
	a.OnTick(tick("BTC-USD", 0, 100, 101, 99, 100, 10), candleCh, indCh)
	a.OnTick(tick("BTC-USD", 30_000, 100, 105, 98, 104, 25), candleCh, indCh)

	if got := drainCandles(candleCh); len(got) != 0 {
		t.Fatalf("same-bucket tick should emit nothing, got %d candles", len(got))
	}

	// Rollover: the finalized candle must carry the replacement snapshot
	a.OnTick(tick("BTC-USD", 60_000, 104, 104, 104, 104, 1), candleCh, indCh)
	got := drainCandles(candleCh)
	if len(got) != 1 {
		t.Fatalf("expected 1 closed candle, got %d", len(got))
	}
	c := got[0]
	if c.High != 105 || c.Low != 98 || c.Close != 104 || c.Volume != 25 {
		t.Errorf("candle should reflect latest snapshot, got %+v", c)
	}
	if !c.Closed {
		t.Error("finalized candle must be marked closed")
	}
	if c.OpenTime != 0 || c.CloseTime != 60_000 {
		t.Errorf("bucket times = (%d, %d), want (0, 60000)", c.OpenTime, c.CloseTime)
	}
}

func TestLateTickDropped(t *testing.T) {
	a, candleCh, indCh := newTestAgg()
	dropped := 0
	a.OnLateTick = func() { dropped++ }

	a.OnTick(tick("BTC-USD", 120_000, 100, 101, 99, 100, 10), candleCh, indCh)
	a.OnTick(tick("BTC-USD", 60_000, 90, 91, 89, 90, 5), candleCh, indCh)

	if dropped != 1 {
		t.Errorf("expected 1 late tick dropped, got %d", dropped)
	}
	if got := drainCandles(candleCh); len(got) != 0 {
		t.Errorf("late tick must not emit, got %d candles", len(got))
	}
}

func TestBucketAlignmentInvariant(t *testing.T) {
	a, candleCh, indCh := newTestAgg()
	// Misaligned tick timestamps still produce aligned buckets
	a.OnTick(tick("BTC-USD", 61_234, 100, 101, 99, 100, 10), candleCh, indCh)
	a.OnTick(tick("BTC-USD", 125_999, 101, 102, 100, 101, 10), candleCh, indCh)
	a.OnTick(tick("BTC-USD", 180_001, 102, 103, 101, 102, 10), candleCh, indCh)

	for _, c := range drainCandles(candleCh) {
		tfMs, _ := timeframe.DurationMs(c.TF)
		if c.OpenTime%tfMs != 0 {
			t.Errorf("tf=%s open_time=%d not aligned", c.TF, c.OpenTime)
		}
		if c.CloseTime != c.OpenTime+tfMs {
			t.Errorf("tf=%s close_time=%d, want open+%d", c.TF, c.CloseTime, tfMs)
		}
	}
}

func TestCascadeFiveMinute(t *testing.T) {
	a, candleCh, indCh := newTestAgg()

	// Six minutes of ticks: minutes 0-4 fill one 5m bucket, minute 5 confirms
	closes := []float64{100, 102, 98, 104, 103, 105}
	for i, cl := range closes {
		a.OnTick(tick("BTC-USD", int64(i)*60_000, cl, cl+2, cl-2, cl, 10), candleCh, indCh)
	}

	var m5 []model.Candle
	for _, c := range drainCandles(candleCh) {
		if c.TF == timeframe.M5 {
			m5 = append(m5, c)
		}
	}
	if len(m5) != 1 {
		t.Fatalf("expected exactly 1 closed 5m candle, got %d", len(m5))
	}

	c := m5[0]
	if c.OpenTime != 0 || c.CloseTime != 300_000 {
		t.Errorf("5m bucket = (%d, %d), want (0, 300000)", c.OpenTime, c.CloseTime)
	}
	if c.Open != 100 {
		t.Errorf("5m open = %v, want first minute's open 100", c.Open)
	}
	if c.Close != 103 {
		t.Errorf("5m close = %v, want last minute's close 103", c.Close)
	}
	if c.High != 106 { // max of minute highs: 104+2
		t.Errorf("5m high = %v, want 106", c.High)
	}
	if c.Low != 96 { // min of minute lows: 98-2
		t.Errorf("5m low = %v, want 96", c.Low)
	}
	if c.Volume != 50 {
		t.Errorf("5m volume = %v, want 50", c.Volume)
	}
}

func TestCascadeClosesStaleBucketAfterGap(t *testing.T) {
	a, candleCh, indCh := newTestAgg()

	// Minutes 0 and 1, then a jump past the 5m boundary. The 5m aggregate
	// for bucket 0 lost its final minute to the gap and must close on the
	// first candle of the next bucket.
	a.OnTick(tick("BTC-USD", 0, 100, 101, 99, 100, 10), candleCh, indCh)
	a.OnTick(tick("BTC-USD", 60_000, 101, 102, 100, 101, 10), candleCh, indCh)
	a.OnTick(tick("BTC-USD", 600_000, 110, 111, 109, 110, 10), candleCh, indCh) // minute 10
	a.OnTick(tick("BTC-USD", 660_000, 111, 112, 110, 111, 10), candleCh, indCh) // closes minute 10

	var m5 []model.Candle
	for _, c := range drainCandles(candleCh) {
		if c.TF == timeframe.M5 {
			m5 = append(m5, c)
		}
	}
	if len(m5) != 1 {
		t.Fatalf("expected the stale 5m bucket to close, got %d candles", len(m5))
	}
	c := m5[0]
	if c.OpenTime != 0 {
		t.Errorf("stale 5m open_time = %d, want 0", c.OpenTime)
	}
	if c.Volume != 20 { // only two minutes made it in
		t.Errorf("stale 5m volume = %v, want 20", c.Volume)
	}
}

func TestWindowEviction(t *testing.T) {
	a, candleCh, indCh := newTestAgg()
	for i := 0; i <= windowCap+10; i++ {
		a.OnTick(tick("BTC-USD", int64(i)*60_000, 100, 101, 99, 100, 1), candleCh, indCh)
		drainCandles(candleCh) // keep channel from filling
		for len(indCh) > 0 {
			<-indCh
		}
	}
	if got := len(a.Window("BTC-USD")); got != windowCap {
		t.Errorf("window length = %d, want capped at %d", got, windowCap)
	}
}

func TestSixteenTicksEndToEnd(t *testing.T) {
	a, candleCh, indCh := newTestAgg()

	// 16 consecutive minute ticks at 0..900000ms. Minute 15's arrival closes
	// minute 14, which is the final minute of the first 15m bucket.
	for i := 0; i < 16; i++ {
		ts := int64(i) * 60_000
		cl := 100 + float64(i)
		a.OnTick(tick("BTC-USD", ts, cl, cl+1, cl-1, cl, 10), candleCh, indCh)
	}

	byTF := map[string][]model.Candle{}
	for _, c := range drainCandles(candleCh) {
		byTF[c.TF] = append(byTF[c.TF], c)
	}

	if got := len(byTF[timeframe.M1]); got != 15 {
		t.Errorf("closed 1m candles = %d, want 15", got)
	}
	if got := len(byTF[timeframe.M5]); got != 3 {
		t.Errorf("closed 5m candles = %d, want 3", got)
	}

	m15 := byTF[timeframe.M15]
	if len(m15) != 1 {
		t.Fatalf("closed 15m candles = %d, want exactly 1", len(m15))
	}
	c := m15[0]
	if c.OpenTime != 0 || c.CloseTime != 900_000 {
		t.Errorf("15m bucket = (%d, %d), want (0, 900000)", c.OpenTime, c.CloseTime)
	}
	if c.Open != 100 { // tick[0].open
		t.Errorf("15m open = %v, want 100", c.Open)
	}
	if c.Close != 114 { // tick[14].close
		t.Errorf("15m close = %v, want 114", c.Close)
	}
	if c.Volume != 150 {
		t.Errorf("15m volume = %v, want 150", c.Volume)
	}

	// Indicator records pair 1:1 with closed candles, with warmup nulls
	var inds []model.Indicator
	for len(indCh) > 0 {
		inds = append(inds, <-indCh)
	}
	if len(inds) != 15+3+1 {
		t.Fatalf("indicator records = %d, want 19", len(inds))
	}
	for _, ind := range inds {
		if ind.Market != "BTC-USD" {
			t.Fatalf("unexpected market %q", ind.Market)
		}
		if ind.TF == timeframe.M1 && ind.OpenTime == 14*60_000 {
			// 15th closed 1m candle: the 1m series has warmed past MA7
			if ind.MA7 == nil {
				t.Error("15th 1m record: MA7 should be non-null")
			}
		}
		if ind.TF == timeframe.M15 {
			// A single 15m close satisfies no rolling warmup
			if ind.RSI14 != nil {
				t.Errorf("15m record: RSI14 should be null, got %v", *ind.RSI14)
			}
			if ind.MA7 != nil {
				t.Errorf("15m record: MA7 should be null, got %v", *ind.MA7)
			}
		}
	}
}

func TestSeedHistoryWarmsIndicators(t *testing.T) {
	a, candleCh, indCh := newTestAgg()

	hist := make([]model.Candle, 0, 10)
	for i := 0; i < 10; i++ {
		open := int64(i) * 60_000
		cl := 100 + float64(i)
		hist = append(hist, model.Candle{
			Market: "BTC-USD", TF: timeframe.M1,
			OpenTime: open, CloseTime: open + 60_000,
			Open: cl, High: cl + 1, Low: cl - 1, Close: cl, Volume: 10, Closed: true,
		})
	}
	a.SeedHistory(hist)

	// The first live close already has a warm MA7
	a.OnTick(tick("BTC-USD", 600_000, 110, 111, 109, 110, 10), candleCh, indCh)
	a.OnTick(tick("BTC-USD", 660_000, 111, 112, 110, 111, 10), candleCh, indCh)

	ind := <-indCh
	if ind.MA7 == nil {
		t.Error("seeded series should produce a warm MA7 on the first live close")
	}
}
