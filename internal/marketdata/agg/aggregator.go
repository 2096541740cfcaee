// Package agg turns a stream of per-minute tick snapshots into closed 1m
// candles and cascades each closed 1m candle into the higher timeframes.
// One Aggregator owns the state for its set of markets and runs in a single
// goroutine — shard markets across aggregators for parallelism.
package agg

import (
	"context"
	"log"
	"time"

	"candleflow/internal/indicator"
	"candleflow/internal/model"
	"candleflow/internal/timeframe"
)

// windowCap bounds the rolling window of closed 1m candles kept per market.
const windowCap = 600

// marketState is the aggregation state for one market. Created on the first
// tick for the market and mutated on every tick after that; it lives for the
// process lifetime (cardinality is bounded by the number of markets).
type marketState struct {
	lastBucket int64        // start of the current 1m bucket, epoch ms
	current    model.Candle // in-progress 1m candle
	window     []model.Candle
	higher     map[string]*model.Candle // in-progress aggregate per higher TF
}

// Aggregator converts 1-minute tick snapshots into closed candles at all
// configured timeframes and computes the indicator record for each close.
type Aggregator struct {
	states map[string]*marketState
	engine *indicator.Engine

	// Metrics hooks (optional, set externally)
	OnLateTick      func()
	OnCandleDropped func()
	OnTickProcessed func(d time.Duration) // aggregation latency per tick
	OnComputed      func(d time.Duration) // indicator compute latency per close
}

// New creates an Aggregator that feeds closed candles through engine.
func New(engine *indicator.Engine) *Aggregator {
	return &Aggregator{
		states: make(map[string]*marketState, 64),
		engine: engine,
	}
}

// Run consumes ticks in a single goroutine and emits closed candles and
// their indicator records. Blocks until ctx is cancelled or tickCh closes.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, candleCh chan<- model.Candle, indCh chan<- model.Indicator) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-tickCh:
			if !ok {
				return
			}
			start := time.Now()
			a.OnTick(tick, candleCh, indCh)
			if a.OnTickProcessed != nil {
				a.OnTickProcessed(time.Since(start))
			}
		}
	}
}

// OnTick incorporates a single tick. Ticks are full snapshots of their
// minute, so a same-bucket tick replaces the in-progress candle; a strictly
// newer bucket finalizes the previous candle and starts a new one. The
// bucket check only advances forward, which is what makes closed-candle
// emissions strictly time-ordered per market.
func (a *Aggregator) OnTick(tick model.Tick, candleCh chan<- model.Candle, indCh chan<- model.Indicator) {
	bucket := tick.Bucket1m()

	st, exists := a.states[tick.Market]
	if !exists {
		st = &marketState{
			lastBucket: bucket,
			current:    candleFromTick(tick, bucket),
			window:     make([]model.Candle, 0, windowCap),
			higher:     make(map[string]*model.Candle, len(timeframe.Cascade)),
		}
		a.states[tick.Market] = st
		return
	}

	if bucket < st.lastBucket {
		// Late tick for an already-finalized bucket — drop it
		if a.OnLateTick != nil {
			a.OnLateTick()
		}
		return
	}

	if bucket == st.lastBucket {
		// Same minute — the tick is the latest known state, replace in place
		st.current = candleFromTick(tick, bucket)
		return
	}

	// Bucket rolled over: finalize the previous 1m candle. A gap (missed
	// minutes) simply delays this rollover; nothing is synthesized here.
	a.finalize(st, candleCh, indCh)
	st.lastBucket = bucket
	st.current = candleFromTick(tick, bucket)
}

// finalize closes the in-progress 1m candle, appends it to the rolling
// window, emits candle + indicator, and cascades into higher timeframes.
func (a *Aggregator) finalize(st *marketState, candleCh chan<- model.Candle, indCh chan<- model.Indicator) {
	closed := st.current
	closed.Closed = true

	st.window = append(st.window, closed)
	if len(st.window) > windowCap {
		st.window = st.window[1:]
	}

	a.emit(closed, candleCh, indCh)
	a.cascade(st, closed, candleCh, indCh)
}

// cascade folds a closed 1m candle into every higher-timeframe aggregate.
// An aggregate closes either when its final minute arrives (the common case)
// or when a later 1m candle lands in a new bucket after a gap swallowed the
// final minute.
func (a *Aggregator) cascade(st *marketState, c model.Candle, candleCh chan<- model.Candle, indCh chan<- model.Indicator) {
	for _, tf := range timeframe.Cascade {
		tfMs, _ := timeframe.DurationMs(tf)
		bucket := timeframe.Bucket(c.OpenTime, tfMs)

		aggc := st.higher[tf]
		if aggc == nil || aggc.OpenTime != bucket {
			if aggc != nil {
				// Bucket rolled over with the final minute missing — close
				// the stale aggregate before seeding the new one
				aggc.Closed = true
				a.emit(*aggc, candleCh, indCh)
			}
			seeded := c
			seeded.TF = tf
			seeded.OpenTime = bucket
			seeded.CloseTime = bucket + tfMs
			seeded.Closed = false
			aggc = &seeded
			st.higher[tf] = aggc
		} else {
			if c.High > aggc.High {
				aggc.High = c.High
			}
			if c.Low < aggc.Low {
				aggc.Low = c.Low
			}
			aggc.Close = c.Close
			aggc.Volume += c.Volume
			// An aggregate is synthetic only if every folded minute was
			aggc.Synthetic = aggc.Synthetic && c.Synthetic
		}

		if c.CloseTime == aggc.CloseTime {
			// The folded minute was the bucket's final minute — complete
			aggc.Closed = true
			a.emit(*aggc, candleCh, indCh)
			delete(st.higher, tf)
		}
	}
}

// emit publishes a closed candle and its indicator record. State is already
// updated when emit runs, so a crash here loses at most one record and never
// corrupts aggregation state. Sends are non-blocking to keep a slow consumer
// from stalling the market shard.
func (a *Aggregator) emit(c model.Candle, candleCh chan<- model.Candle, indCh chan<- model.Indicator) {
	select {
	case candleCh <- c:
	default:
		if a.OnCandleDropped != nil {
			a.OnCandleDropped()
		} else {
			log.Printf("[agg] candleCh full, dropping candle %s tf=%s open=%d", c.Market, c.TF, c.OpenTime)
		}
	}

	start := time.Now()
	ind := a.engine.Compute(c)
	if a.OnComputed != nil {
		a.OnComputed(time.Since(start))
	}
	select {
	case indCh <- ind:
	default:
		if a.OnCandleDropped != nil {
			a.OnCandleDropped()
		} else {
			log.Printf("[agg] indCh full, dropping indicator %s tf=%s open=%d", c.Market, c.TF, c.OpenTime)
		}
	}
}

// Window returns the rolling closed-1m window for a market (newest last).
// Used to re-seed indicator state after a restart.
func (a *Aggregator) Window(market string) []model.Candle {
	st, ok := a.states[market]
	if !ok {
		return nil
	}
	out := make([]model.Candle, len(st.window))
	copy(out, st.window)
	return out
}

// SeedHistory replays historical closed candles (ascending, one series)
// through the indicator engine so live computation starts warm.
func (a *Aggregator) SeedHistory(candles []model.Candle) {
	for _, c := range candles {
		a.engine.Compute(c)
	}
}

// candleFromTick builds the in-progress 1m candle for a tick snapshot.
func candleFromTick(t model.Tick, bucket int64) model.Candle {
	return model.Candle{
		Exchange:  t.Exchange,
		Market:    t.Market,
		TF:        timeframe.M1,
		OpenTime:  bucket,
		CloseTime: bucket + timeframe.M1Ms,
		Open:      t.Open,
		High:      t.High,
		Low:       t.Low,
		Close:     t.Close,
		Volume:    t.Volume,
		Source:    t.Source,
	}
}
