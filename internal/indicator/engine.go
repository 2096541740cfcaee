// Package indicator computes rolling technical statistics over closed candles.
//
// The engine is incremental: each series carries O(1) running state, so a
// closed candle costs a constant amount of work regardless of history depth.
// The batch path (ComputeWindow) replays candles through the same state type,
// which guarantees recomputed history is bit-identical to the live stream.
package indicator

import (
	"candleflow/internal/model"
)

// Parameter set for the fixed indicator catalogue.
const (
	bollingerPeriod = 20
	bollingerMult   = 2.0
	rsiPeriod       = 14
	stochLen        = 14
	stochSmoothK    = 3
	stochSmoothD    = 3
	slopeLookback   = 1
	retLookback     = 5
)

var maPeriods = [5]int{7, 50, 200, 400, 800}

// Config controls engine-wide behaviour.
type Config struct {
	// IncludeSynthetic feeds synthetic gap-fill candles into indicator state.
	// When false (the default) a synthetic candle does not mutate state; its
	// indicator record repeats the last real values so outage periods cannot
	// flatten volatility-sensitive indicators.
	IncludeSynthetic bool
}

// Engine computes indicator records for every (market, timeframe) series it
// sees. Designed for single-goroutine ownership — no locks. Shard markets
// across engines for parallelism.
type Engine struct {
	cfg   Config
	state map[string]*seriesState // key = market|tf
}

// NewEngine creates an indicator engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:   cfg,
		state: make(map[string]*seriesState, 64),
	}
}

// seriesState is the per-series running state behind the O(1) updates.
type seriesState struct {
	count int
	mas   [5]*rollingSMA
	bb    *rollingWindow // closes for Bollinger(20)
	rsi   *wilderRSI
	stoch *stochRSI
	vol   volumeFlow

	maTrail [2]*rollingWindow // MA7 / MA50 value trails for slopes
	closes  *rollingWindow    // close trail for returns

	last *model.Indicator // most recent output, reused for skipped synthetics
}

func newSeriesState() *seriesState {
	st := &seriesState{
		bb:     newRollingWindow(bollingerPeriod),
		rsi:    newWilderRSI(rsiPeriod),
		stoch:  newStochRSI(rsiPeriod, stochLen, stochSmoothK, stochSmoothD),
		closes: newRollingWindow(retLookback + 1),
	}
	for i, p := range maPeriods {
		st.mas[i] = newRollingSMA(p)
	}
	st.maTrail[0] = newRollingWindow(slopeLookback + 1)
	st.maTrail[1] = newRollingWindow(slopeLookback + 1)
	return st
}

// Compute folds one closed candle into the series state and returns the
// indicator record for that bucket. Candles must arrive in ascending bucket
// order per series; the aggregator guarantees this.
func (e *Engine) Compute(c model.Candle) model.Indicator {
	key := c.SeriesKey()
	st, ok := e.state[key]
	if !ok {
		st = newSeriesState()
		e.state[key] = st
	}

	if c.Synthetic && !e.cfg.IncludeSynthetic {
		return st.repeatLast(c)
	}

	st.count++
	st.closes.Update(c.Close)
	st.bb.Update(c.Close)
	st.rsi.Update(c.Close)
	st.stoch.Update(c.Close)
	st.vol.Update(c.Close, c.Volume)
	for _, ma := range st.mas {
		ma.Update(c.Close)
	}
	for i := 0; i < 2; i++ {
		if v, ok := st.mas[i].Value(); ok {
			st.maTrail[i].Update(v)
		}
	}

	ind := st.build(c)
	st.last = &ind
	return ind
}

// ComputeWindow recomputes the indicator record for the newest candle of an
// ordered trailing window by replaying it through fresh state. Backfill and
// recovery use this; it cannot drift from the live incremental path because
// it is the live path.
func (e *Engine) ComputeWindow(candles []model.Candle) (model.Indicator, bool) {
	if len(candles) == 0 {
		return model.Indicator{}, false
	}
	replay := NewEngine(e.cfg)
	var ind model.Indicator
	for _, c := range candles {
		ind = replay.Compute(c)
	}
	return ind, true
}

// build assembles the output record from current state.
func (st *seriesState) build(c model.Candle) model.Indicator {
	ind := model.Indicator{
		Exchange:  c.Exchange,
		Market:    c.Market,
		TF:        c.TF,
		OpenTime:  c.OpenTime,
		CloseTime: c.CloseTime,
		Close:     c.Close,
		Volume:    c.Volume,
		Version:   model.IndicatorVersion,
	}

	// Moving averages and distances: dist = close/ma - 1, null if ma null or 0
	maOut := [5]**float64{&ind.MA7, &ind.MA50, &ind.MA200, &ind.MA400, &ind.MA800}
	distOut := [5]**float64{&ind.Dist7, &ind.Dist50, &ind.Dist200, &ind.Dist400, &ind.Dist800}
	for i := range maPeriods {
		v, ok := st.mas[i].Value()
		if !ok {
			continue
		}
		*maOut[i] = fptr(v)
		if v != 0 {
			*distOut[i] = fptr(c.Close/v - 1)
		}
	}

	// Bollinger(20, 2)
	if mid, ok := st.bb.Mean(); ok {
		sd, _ := st.bb.Std()
		upper := mid + bollingerMult*sd
		lower := mid - bollingerMult*sd
		ind.BBMid = fptr(mid)
		ind.BBUpper = fptr(upper)
		ind.BBLower = fptr(lower)
		if mid != 0 {
			ind.BBWidth = fptr((upper - lower) / mid)
		}
		if upper != lower {
			ind.BBPos = fptr((c.Close - lower) / (upper - lower))
		}
	}

	if v, ok := st.rsi.Value(); ok {
		ind.RSI14 = fptr(v)
	}
	if k, ok := st.stoch.K(); ok {
		ind.StochK = fptr(k)
	}
	if d, ok := st.stoch.D(); ok {
		ind.StochD = fptr(d)
	}

	// Cumulative volume flows are defined from the first candle onward
	ind.OBV = fptr(st.vol.OBV())
	ind.PVT = fptr(st.vol.PVT())

	// Slopes over the MA series
	slopeOut := [2]**float64{&ind.MA7Slope, &ind.MA50Slope}
	for i := 0; i < 2; i++ {
		cur, okCur := st.mas[i].Value()
		prev, okPrev := st.maTrail[i].Prev(slopeLookback)
		if okCur && okPrev {
			*slopeOut[i] = fptr(cur - prev)
		}
	}

	// Returns: pctChange over 1 and 5 closed candles
	if prev, ok := st.closes.Prev(1); ok {
		ind.Ret1 = fptr(PctChange(prev, c.Close))
	}
	if prev, ok := st.closes.Prev(retLookback); ok {
		ind.Ret5 = fptr(PctChange(prev, c.Close))
	}

	return ind
}

// repeatLast emits a record for a skipped synthetic candle: the last real
// values under the synthetic bucket's identity, or all-null when the series
// has no real history yet.
func (st *seriesState) repeatLast(c model.Candle) model.Indicator {
	if st.last == nil {
		return model.Indicator{
			Exchange:  c.Exchange,
			Market:    c.Market,
			TF:        c.TF,
			OpenTime:  c.OpenTime,
			CloseTime: c.CloseTime,
			Close:     c.Close,
			Volume:    c.Volume,
			Version:   model.IndicatorVersion,
		}
	}
	ind := *st.last
	ind.OpenTime = c.OpenTime
	ind.CloseTime = c.CloseTime
	ind.Close = c.Close
	ind.Volume = c.Volume
	return ind
}
