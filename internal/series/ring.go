package series

import (
	"sync"

	"candleflow/internal/model"
)

// Ring is the O(1) append-only variant of the snapshot sequence. Pushing a
// record with the same time as the current last entry replaces that entry in
// place (a candle's latest partial state); a strictly newer time appends,
// evicting the oldest entry when full; an older time is dropped as
// out-of-order.
//
// Use only where the producer guarantees in-order, at-most-duplicate
// delivery — one upstream owner per series. Anywhere out-of-order arrival is
// possible across more than one step, use Series.Upsert instead.
type Ring struct {
	mu   sync.RWMutex
	buf  []model.Merged
	cap  int
	pos  int // next write position
	full bool
}

// NewRing creates a ring with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 500
	}
	return &Ring{
		buf: make([]model.Merged, capacity),
		cap: capacity,
	}
}

// Push applies the ordered-upsert rule. Returns false when the record was
// dropped as out-of-order.
func (r *Ring) Push(rec model.Merged) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := r.len(); n > 0 {
		last := &r.buf[r.index(n-1)]
		switch {
		case rec.Time() == last.Time():
			*last = rec
			return true
		case rec.Time() < last.Time():
			return false
		}
	}

	r.buf[r.pos] = rec
	r.pos = (r.pos + 1) % r.cap
	if r.pos == 0 && !r.full {
		r.full = true
	}
	return true
}

// Snapshot returns all entries, oldest first.
func (r *Ring) Snapshot() []model.Merged {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.len()
	out := make([]model.Merged, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[r.index(i)]
	}
	return out
}

// Len returns the number of entries currently held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.len()
}

func (r *Ring) len() int {
	if r.full {
		return r.cap
	}
	return r.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (r *Ring) index(logical int) int {
	if r.full {
		return (r.pos + logical) % r.cap
	}
	return logical
}
