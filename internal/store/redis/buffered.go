package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"candleflow/internal/model"
)

// streamWriter is the write surface the circuit breaker wraps.
type streamWriter interface {
	writeCandle(ctx context.Context, c model.Candle) error
	writeIndicator(ctx context.Context, ind model.Indicator) error
}

// pendingWrite represents a write buffered during circuit-open state.
type pendingWrite struct {
	WriteType string // "candle", "indicator"
	Data      []byte // JSON-encoded payload
}

// BufferedPublisher wraps a Publisher with a circuit breaker. A write that
// fails or is rejected by the open circuit is buffered locally and flushed
// when the circuit closes again.
type BufferedPublisher struct {
	pub streamWriter
	cb  *CircuitBreaker
	ctx context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int // max buffered writes before dropping oldest

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered writes
}

// NewBufferedPublisher creates a BufferedPublisher wrapping pub.
func NewBufferedPublisher(ctx context.Context, pub *Publisher, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	return newBufferedPublisher(ctx, pub, cb, maxBufferSize)
}

func newBufferedPublisher(ctx context.Context, w streamWriter, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		pub:    w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}

	return bp
}

// WriteCandle writes a candle through the circuit breaker. A failed write
// counts toward tripping the breaker; failed and circuit-rejected writes are
// both buffered, so the record is never lost to an outage.
func (bp *BufferedPublisher) WriteCandle(c model.Candle) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.writeCandle(bp.ctx, c)
	})
	if err != nil {
		bp.bufferWrite("candle", c)
	}
	return nil
}

// WriteIndicator writes an indicator record through the circuit breaker.
func (bp *BufferedPublisher) WriteIndicator(ind model.Indicator) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.writeIndicator(bp.ctx, ind)
	})
	if err != nil {
		bp.bufferWrite("indicator", ind)
	}
	return nil
}

func (bp *BufferedPublisher) bufferWrite(writeType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[buffered-publisher] marshal error: %v", err)
		return
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		// Buffer full — drop oldest
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, pendingWrite{WriteType: writeType, Data: data})

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered writes through the underlying publisher. If a write
// fails mid-flush, the remainder is re-queued for the next circuit close.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bp.buffer
	bp.buffer = make([]pendingWrite, 0, 256)
	bp.mu.Unlock()

	flushed := 0
	for i, pw := range toFlush {
		var err error
		switch pw.WriteType {
		case "candle":
			var c model.Candle
			if json.Unmarshal(pw.Data, &c) == nil {
				err = bp.pub.writeCandle(bp.ctx, c)
			}
		case "indicator":
			var ind model.Indicator
			if json.Unmarshal(pw.Data, &ind) == nil {
				err = bp.pub.writeIndicator(bp.ctx, ind)
			}
		}
		if err != nil {
			bp.requeue(toFlush[i:])
			log.Printf("[buffered-publisher] flush interrupted after %d writes, re-queued %d: %v",
				flushed, len(toFlush)-i, err)
			return
		}
		flushed++
	}

	log.Printf("[buffered-publisher] flushed %d buffered writes", flushed)
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// requeue puts unflushed writes back at the front of the buffer, preserving
// their original order ahead of anything buffered during the flush.
func (bp *BufferedPublisher) requeue(pending []pendingWrite) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	merged := make([]pendingWrite, 0, len(pending)+len(bp.buffer))
	merged = append(merged, pending...)
	merged = append(merged, bp.buffer...)
	if over := len(merged) - bp.maxBuf; over > 0 {
		merged = merged[over:]
	}
	bp.buffer = merged
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
