package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the pipeline from concrete storage backends
// (Redis, Postgres, SQLite). Each implementation satisfies one or more.

// MergedWriter publishes merged candle+indicator records.
type MergedWriter interface {
	// Run reads merged records from recordCh and writes them.
	// Blocks until ctx is cancelled or recordCh is closed.
	Run(ctx context.Context, recordCh <-chan Merged)

	// Close releases underlying resources.
	Close() error
}

// CandleUpserter persists candles idempotently, keyed by (market, tf, time).
// Repeated upserts of the same key must be safe; backfill and recovery reuse
// the same contract.
type CandleUpserter interface {
	UpsertBatch(ctx context.Context, records []Merged) error
	Close() error
}

// SnapshotQuerier serves ordered candle(+indicator) snapshots.
type SnapshotQuerier interface {
	// Query returns the most recent limit records within [from, to] bounds
	// (0 = unbounded), in ascending time order.
	Query(market, tf string, limit int, from, to int64) []Merged
}
