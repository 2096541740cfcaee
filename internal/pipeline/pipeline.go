// Package pipeline wires the processing stages together: ticks are sharded by
// market across single-goroutine aggregators, closed candles and indicator
// records meet in the merge-join, and merged records land in the series store
// before fanning out to publishers.
package pipeline

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"candleflow/internal/bus"
	"candleflow/internal/indicator"
	"candleflow/internal/join"
	"candleflow/internal/marketdata/agg"
	"candleflow/internal/model"
	"candleflow/internal/series"
)

const (
	defaultShards     = 4
	defaultChannelBuf = 1024
	sweepInterval     = time.Minute
)

// Config tunes the pipeline topology.
type Config struct {
	Shards           int
	ChannelBuf       int
	SeriesCapacity   int
	IncludeSynthetic bool // pass synthetic gap-fill candles to the indicator engine
	Join             join.Config
}

// Hooks are optional metric callbacks, wired by the caller.
type Hooks struct {
	OnTick           func()
	OnTickDropped    func()
	OnLateTick       func()
	OnCandleDropped  func()
	OnCandle         func(tf string, synthetic bool) // per closed candle
	OnIndicator      func()                          // per indicator record
	OnMerge          func()
	OnEvict          func(n int)
	OnPublishDrop    func()
	PendingKeys      func(n int)           // sampled after each merge attempt
	ObserveAggregate func(d time.Duration) // aggregation latency per tick
	ObserveCompute   func(d time.Duration) // indicator compute latency per close
}

// shard owns one aggregator goroutine and its channels.
type shard struct {
	tickCh   chan model.Tick
	candleCh chan model.Candle
	indCh    chan model.Indicator
	agg      *agg.Aggregator
}

// Pipeline is the assembled processing graph.
type Pipeline struct {
	cfg    Config
	hooks  Hooks
	shards []*shard
	joiner *join.Joiner
	store  *series.Store
	fanout *bus.FanOut

	mergedCh chan model.Merged
}

// New builds the pipeline graph. Call Subscribe for each downstream consumer
// before Run.
func New(cfg Config, hooks Hooks) *Pipeline {
	if cfg.Shards <= 0 {
		cfg.Shards = defaultShards
	}
	if cfg.ChannelBuf <= 0 {
		cfg.ChannelBuf = defaultChannelBuf
	}

	p := &Pipeline{
		cfg:      cfg,
		hooks:    hooks,
		joiner:   join.New(cfg.Join),
		store:    series.NewStore(cfg.SeriesCapacity),
		fanout:   bus.New(cfg.ChannelBuf),
		mergedCh: make(chan model.Merged, cfg.ChannelBuf),
	}
	p.joiner.OnEvict = hooks.OnEvict

	for i := 0; i < cfg.Shards; i++ {
		engine := indicator.NewEngine(indicator.Config{IncludeSynthetic: cfg.IncludeSynthetic})
		a := agg.New(engine)
		a.OnLateTick = hooks.OnLateTick
		a.OnCandleDropped = hooks.OnCandleDropped
		a.OnTickProcessed = hooks.ObserveAggregate
		a.OnComputed = hooks.ObserveCompute
		p.shards = append(p.shards, &shard{
			tickCh:   make(chan model.Tick, cfg.ChannelBuf),
			candleCh: make(chan model.Candle, cfg.ChannelBuf),
			indCh:    make(chan model.Indicator, cfg.ChannelBuf),
			agg:      a,
		})
	}
	return p
}

// Store exposes the series store for the query API.
func (p *Pipeline) Store() *series.Store { return p.store }

// FanOut exposes the fan-out for drop instrumentation.
func (p *Pipeline) FanOut() *bus.FanOut { return p.fanout }

// Subscribe registers a downstream consumer of merged records.
func (p *Pipeline) Subscribe() <-chan model.Merged {
	return p.fanout.Subscribe()
}

// Seed replays historical closed 1m candles for one market through the
// market's shard so indicator warmup starts from history. Call before Run.
func (p *Pipeline) Seed(market string, candles []model.Candle) {
	p.shards[shardIndex(market, len(p.shards))].agg.SeedHistory(candles)
}

// Run starts every stage and blocks until ctx is cancelled and the stages
// have drained. tickCh is the normalized tick input from ingestion.
func (p *Pipeline) Run(ctx context.Context, tickCh <-chan model.Tick) {
	var wg sync.WaitGroup

	for _, sh := range p.shards {
		sh := sh
		wg.Add(2)
		go func() {
			defer wg.Done()
			sh.agg.Run(ctx, sh.tickCh, sh.candleCh, sh.indCh)
		}()
		go func() {
			defer wg.Done()
			p.collect(ctx, sh)
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		p.joiner.Run(ctx, sweepInterval)
	}()
	go func() {
		defer wg.Done()
		p.fanout.Run(ctx, p.mergedCh)
	}()

	p.dispatch(ctx, tickCh)
	wg.Wait()
}

// dispatch routes ticks to their market's shard. Routing is stable (FNV over
// the market name) so each market is always handled by the same single
// goroutine, which is what keeps per-market ordering intact.
func (p *Pipeline) dispatch(ctx context.Context, tickCh <-chan model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-tickCh:
			if !ok {
				return
			}
			if p.hooks.OnTick != nil {
				p.hooks.OnTick()
			}
			sh := p.shards[shardIndex(tick.Market, len(p.shards))]
			select {
			case sh.tickCh <- tick:
			default:
				if p.hooks.OnTickDropped != nil {
					p.hooks.OnTickDropped()
				} else {
					log.Printf("[pipeline] shard channel full, dropping tick %s ts=%d", tick.Market, tick.TS)
				}
			}
		}
	}
}

// collect feeds one shard's closed candles and indicator records into the
// merge-join. A completed merge is stored first, then published: the store is
// the query source of truth, the fan-out is best-effort delivery.
func (p *Pipeline) collect(ctx context.Context, sh *shard) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sh.candleCh:
			if !ok {
				return
			}
			if p.hooks.OnCandle != nil {
				p.hooks.OnCandle(c.TF, c.Synthetic)
			}
			if rec, done := p.joiner.IngestCandle(c); done {
				p.deliver(rec)
			}
			p.samplePending()
		case ind, ok := <-sh.indCh:
			if !ok {
				return
			}
			if p.hooks.OnIndicator != nil {
				p.hooks.OnIndicator()
			}
			if rec, done := p.joiner.IngestIndicator(ind); done {
				p.deliver(rec)
			}
			p.samplePending()
		}
	}
}

func (p *Pipeline) deliver(rec model.Merged) {
	p.store.Upsert(rec)
	if p.hooks.OnMerge != nil {
		p.hooks.OnMerge()
	}

	select {
	case p.mergedCh <- rec:
	default:
		if p.hooks.OnPublishDrop != nil {
			p.hooks.OnPublishDrop()
		} else {
			log.Printf("[pipeline] merged channel full, dropping %s", rec.SeriesKey())
		}
	}
}

func (p *Pipeline) samplePending() {
	if p.hooks.PendingKeys != nil {
		p.hooks.PendingKeys(p.joiner.PendingKeys())
	}
}

func shardIndex(market string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(market))
	return int(h.Sum32() % uint32(n))
}
