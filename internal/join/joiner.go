// Package join correlates independently-arriving candle and indicator events
// for the same (market, timeframe, bucket) into one merged record.
package join

import (
	"context"
	"sync"
	"time"

	"candleflow/internal/model"
)

const (
	// DefaultTTL bounds how long one half of a pair waits for its counterpart.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxPendingKeys is the live-key ceiling that triggers an eviction
	// sweep. Sweeping only past the ceiling keeps the sweep cost off the
	// per-event path.
	DefaultMaxPendingKeys = 200_000
)

// Config tunes the joiner's eviction behaviour.
type Config struct {
	TTL            time.Duration
	MaxPendingKeys int

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Joiner holds TTL-bounded pending state for the candle⋈indicator merge.
// Safe for concurrent use; each ingest touches only the joiner's own maps,
// so a single lock does not serialize unrelated market aggregation.
type Joiner struct {
	mu      sync.Mutex
	candles map[string]model.Candle
	inds    map[string]model.Indicator
	touched map[string]time.Time

	ttl     time.Duration
	maxKeys int
	now     func() time.Time

	// OnEvict is called with the number of keys dropped by a sweep.
	OnEvict func(n int)
}

// New creates a Joiner. Zero config fields fall back to defaults.
func New(cfg Config) *Joiner {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxPendingKeys <= 0 {
		cfg.MaxPendingKeys = DefaultMaxPendingKeys
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Joiner{
		candles: make(map[string]model.Candle),
		inds:    make(map[string]model.Indicator),
		touched: make(map[string]time.Time),
		ttl:     cfg.TTL,
		maxKeys: cfg.MaxPendingKeys,
		now:     cfg.Now,
	}
}

// IngestCandle upserts a pending candle (last write wins) and merges when the
// matching indicator is already pending. A merge deletes all pending state
// for the key, so there is at most one merge emission per key.
func (j *Joiner) IngestCandle(c model.Candle) (model.Merged, bool) {
	key := c.BucketKey()

	j.mu.Lock()
	defer j.mu.Unlock()

	if ind, ok := j.inds[key]; ok {
		delete(j.inds, key)
		delete(j.candles, key)
		delete(j.touched, key)
		return merged(c, ind), true
	}

	j.candles[key] = c
	j.touched[key] = j.now()
	j.maybeEvictLocked()
	return model.Merged{}, false
}

// IngestIndicator is the symmetric half of IngestCandle.
func (j *Joiner) IngestIndicator(ind model.Indicator) (model.Merged, bool) {
	key := ind.BucketKey()

	j.mu.Lock()
	defer j.mu.Unlock()

	if c, ok := j.candles[key]; ok {
		delete(j.candles, key)
		delete(j.inds, key)
		delete(j.touched, key)
		return merged(c, ind), true
	}

	j.inds[key] = ind
	j.touched[key] = j.now()
	j.maybeEvictLocked()
	return model.Merged{}, false
}

// PendingKeys returns the number of live correlation keys.
func (j *Joiner) PendingKeys() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.touched)
}

// Run performs periodic eviction sweeps until ctx is cancelled. The sweep is
// an explicitly owned task: it stops deterministically on shutdown and never
// blocks ingestion for longer than one sweep pass.
func (j *Joiner) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.mu.Lock()
			j.sweepLocked()
			j.mu.Unlock()
		}
	}
}

// maybeEvictLocked sweeps only when the live-key ceiling is exceeded,
// bounding memory when one side of a pair never arrives.
func (j *Joiner) maybeEvictLocked() {
	if len(j.touched) > j.maxKeys {
		j.sweepLocked()
	}
}

// sweepLocked drops every key whose last touch is older than now-TTL.
func (j *Joiner) sweepLocked() {
	cutoff := j.now().Add(-j.ttl)
	evicted := 0
	for key, ts := range j.touched {
		if ts.Before(cutoff) {
			delete(j.candles, key)
			delete(j.inds, key)
			delete(j.touched, key)
			evicted++
		}
	}
	if evicted > 0 && j.OnEvict != nil {
		j.OnEvict(evicted)
	}
}

func merged(c model.Candle, ind model.Indicator) model.Merged {
	indCopy := ind
	return model.Merged{Candle: c, Indicators: &indCopy}
}
