package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"candleflow/internal/model"
)

// flakyWriter stands in for the Redis publisher so outage behavior is
// testable without a server.
type flakyWriter struct {
	mu      sync.Mutex
	fail    bool
	candles int
	inds    int
}

func (w *flakyWriter) writeCandle(_ context.Context, _ model.Candle) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("connection refused")
	}
	w.candles++
	return nil
}

func (w *flakyWriter) writeIndicator(_ context.Context, _ model.Indicator) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("connection refused")
	}
	w.inds++
	return nil
}

func (w *flakyWriter) setFail(v bool) {
	w.mu.Lock()
	w.fail = v
	w.mu.Unlock()
}

func (w *flakyWriter) written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.candles + w.inds
}

func TestFailingWritesTripBreakerAndBuffer(t *testing.T) {
	w := &flakyWriter{fail: true}
	cb := NewCircuitBreaker(3, time.Minute)
	bp := newBufferedPublisher(context.Background(), w, cb, 100)

	buffered := 0
	bp.OnBuffer = func() { buffered++ }

	c := model.Candle{Market: "BTC-USD", TF: "1m"}
	for i := 0; i < 3; i++ {
		bp.WriteCandle(c)
	}
	if got := cb.CurrentState(); got != StateOpen {
		t.Fatalf("state after 3 failed writes = %v, want open", got)
	}
	if got := bp.PendingCount(); got != 3 {
		t.Errorf("pending = %d, want the 3 failed writes buffered", got)
	}

	// Open circuit: the write is rejected without touching the wire and
	// lands in the buffer too.
	bp.WriteIndicator(model.Indicator{Market: "BTC-USD", TF: "1m"})
	if got := bp.PendingCount(); got != 4 {
		t.Errorf("pending = %d, want 4", got)
	}
	if buffered != 4 {
		t.Errorf("OnBuffer fired %d times, want 4", buffered)
	}
	if w.written() != 0 {
		t.Errorf("%d writes landed during the outage, want 0", w.written())
	}
}

func TestBufferFlushesWhenCircuitCloses(t *testing.T) {
	w := &flakyWriter{fail: true}
	cb := NewCircuitBreaker(2, 20*time.Millisecond)
	bp := newBufferedPublisher(context.Background(), w, cb, 100)

	flushedCh := make(chan int, 1)
	bp.OnFlush = func(n int) { flushedCh <- n }

	c := model.Candle{Market: "BTC-USD", TF: "1m"}
	bp.WriteCandle(c)
	bp.WriteCandle(c)
	if cb.CurrentState() != StateOpen {
		t.Fatal("breaker should be open after 2 failed writes")
	}

	// Redis recovers. After the reset timeout the next write half-opens the
	// breaker, succeeds, closes it, and the close triggers the flush.
	w.setFail(false)
	time.Sleep(30 * time.Millisecond)
	bp.WriteCandle(c)

	select {
	case n := <-flushedCh:
		if n != 2 {
			t.Errorf("flushed %d writes, want 2", n)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for flush")
	}
	if got := bp.PendingCount(); got != 0 {
		t.Errorf("pending = %d after flush, want 0", got)
	}
	if got := w.written(); got != 3 {
		t.Errorf("writes landed = %d, want 3 (probe + 2 flushed)", got)
	}
}

func TestFlushRequeuesRemainderOnFailure(t *testing.T) {
	w := &flakyWriter{fail: true}
	cb := NewCircuitBreaker(2, time.Minute)
	bp := newBufferedPublisher(context.Background(), w, cb, 100)

	c := model.Candle{Market: "BTC-USD", TF: "1m"}
	bp.WriteCandle(c)
	bp.WriteCandle(c)
	if bp.PendingCount() != 2 {
		t.Fatalf("pending = %d, want 2", bp.PendingCount())
	}

	// Flush against a still-failing writer: nothing lands, nothing is lost.
	bp.flush()
	if got := bp.PendingCount(); got != 2 {
		t.Errorf("pending = %d after failed flush, want 2 re-queued", got)
	}
	if w.written() != 0 {
		t.Errorf("%d writes landed, want 0", w.written())
	}
}
