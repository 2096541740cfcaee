package api

import (
	"context"
	"sync"

	"candleflow/internal/model"
	"candleflow/internal/series"
)

// LiveCache keeps a small per-series ring of the most recent merged records
// for the /recent endpoint. It is fed from the fan-out, so entries arrive in
// time order per series and the ring's ordered-producer constraint holds.
type LiveCache struct {
	mu       sync.RWMutex
	rings    map[string]*series.Ring
	capacity int
}

// NewLiveCache creates a cache holding up to capacity records per series.
func NewLiveCache(capacity int) *LiveCache {
	if capacity <= 0 {
		capacity = 120
	}
	return &LiveCache{
		rings:    make(map[string]*series.Ring),
		capacity: capacity,
	}
}

// Run consumes merged records until ctx is cancelled or the channel closes.
func (lc *LiveCache) Run(ctx context.Context, recordCh <-chan model.Merged) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-recordCh:
			if !ok {
				return
			}
			lc.put(rec)
		}
	}
}

func (lc *LiveCache) put(rec model.Merged) {
	key := rec.SeriesKey()

	lc.mu.RLock()
	ring := lc.rings[key]
	lc.mu.RUnlock()

	if ring == nil {
		lc.mu.Lock()
		ring = lc.rings[key]
		if ring == nil {
			ring = series.NewRing(lc.capacity)
			lc.rings[key] = ring
		}
		lc.mu.Unlock()
	}
	ring.Push(rec)
}

// Recent returns up to limit most recent records for a series, oldest first.
func (lc *LiveCache) Recent(market, tf string, limit int) []model.Merged {
	lc.mu.RLock()
	ring := lc.rings[market+"|"+tf]
	lc.mu.RUnlock()

	if ring == nil {
		return nil
	}
	recs := ring.Snapshot()
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs
}
