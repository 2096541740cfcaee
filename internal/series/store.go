// Package series provides the in-memory snapshot store backing queries and
// live updates: per-(market, timeframe) sequences that are ascending by time,
// time-unique, and capacity-bounded.
package series

import (
	"sort"
	"sync"

	"candleflow/internal/model"
)

// DefaultCapacity bounds each series when no capacity is configured.
const DefaultCapacity = 1500

// Series is one ascending, time-deduplicated sequence. Each series carries
// its own lock so unrelated markets never serialize on a shared one.
type Series struct {
	mu       sync.RWMutex
	entries  []model.Merged
	capacity int
}

// Upsert inserts or replaces the record at its bucket time. Binary-search
// upsert is the canonical algorithm: an exact time match replaces in place,
// otherwise the record is inserted at its sorted position, and the oldest
// entry is dropped when capacity is exceeded.
func (s *Series) Upsert(rec model.Merged) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A zero-value Series is usable: without the floor, capacity 0 would
	// evict every entry on insert.
	if s.capacity <= 0 {
		s.capacity = DefaultCapacity
	}

	t := rec.Time()
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Time() >= t
	})

	if i < len(s.entries) && s.entries[i].Time() == t {
		s.entries[i] = rec
		return
	}

	s.entries = append(s.entries, model.Merged{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = rec

	if len(s.entries) > s.capacity {
		s.entries = s.entries[1:]
	}
}

// Query returns the most recent limit entries within [from, to] (0 means
// unbounded on that side), in ascending time order.
func (s *Series) Query(limit int, from, to int64) []model.Merged {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo := 0
	if from > 0 {
		lo = sort.Search(len(s.entries), func(i int) bool {
			return s.entries[i].Time() >= from
		})
	}
	hi := len(s.entries)
	if to > 0 {
		hi = sort.Search(len(s.entries), func(i int) bool {
			return s.entries[i].Time() > to
		})
	}
	if lo >= hi {
		return nil
	}

	window := s.entries[lo:hi]
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	out := make([]model.Merged, len(window))
	copy(out, window)
	return out
}

// Len returns the number of entries in the series.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Store holds every series, keyed by "market|tf".
type Store struct {
	mu       sync.RWMutex
	series   map[string]*Series
	capacity int
}

// NewStore creates a Store with the given per-series capacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		series:   make(map[string]*Series, 64),
		capacity: capacity,
	}
}

// Upsert routes a record to its series, creating the series on first use.
func (st *Store) Upsert(rec model.Merged) {
	st.get(rec.SeriesKey()).Upsert(rec)
}

// Query implements model.SnapshotQuerier.
func (st *Store) Query(market, tf string, limit int, from, to int64) []model.Merged {
	st.mu.RLock()
	s, ok := st.series[market+"|"+tf]
	st.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.Query(limit, from, to)
}

func (st *Store) get(key string) *Series {
	st.mu.RLock()
	s, ok := st.series[key]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok = st.series[key]; ok {
		return s
	}
	s = &Series{capacity: st.capacity}
	st.series[key] = s
	return s
}
