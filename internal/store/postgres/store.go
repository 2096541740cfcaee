// Package postgres persists merged candle+indicator records with idempotent
// upserts keyed by (market, tf, ts). Backfill and recovery reuse the same
// upsert, so repeated runs are safe.
package postgres

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"candleflow/internal/model"
)

const (
	defaultBatchSize  = 200
	defaultFlushDelay = 500 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS candles (
	exchange   TEXT             NOT NULL DEFAULT '',
	market     TEXT             NOT NULL,
	tf         TEXT             NOT NULL,
	ts         BIGINT           NOT NULL,
	open       DOUBLE PRECISION NOT NULL,
	high       DOUBLE PRECISION NOT NULL,
	low        DOUBLE PRECISION NOT NULL,
	close      DOUBLE PRECISION NOT NULL,
	volume     DOUBLE PRECISION NOT NULL,
	synthetic  BOOLEAN          NOT NULL DEFAULT FALSE,
	indicators JSONB,
	updated_at TIMESTAMPTZ      NOT NULL DEFAULT now(),
	PRIMARY KEY (market, tf, ts)
);`

const upsertSQL = `
INSERT INTO candles (exchange, market, tf, ts, open, high, low, close, volume, synthetic, indicators, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
ON CONFLICT (market, tf, ts) DO UPDATE SET
	open = EXCLUDED.open,
	high = EXCLUDED.high,
	low = EXCLUDED.low,
	close = EXCLUDED.close,
	volume = EXCLUDED.volume,
	synthetic = EXCLUDED.synthetic,
	indicators = COALESCE(EXCLUDED.indicators, candles.indicators),
	updated_at = now()`

// Store is a batched Postgres writer implementing model.CandleUpserter.
type Store struct {
	db *sqlx.DB

	// Metrics hooks (optional, set externally)
	OnFlush        func(d time.Duration) // per successful batch flush
	OnFlushFailure func()                // per failed flush (batch re-queued)
}

// New opens the database, verifies connectivity, and ensures the schema.
func New(dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("postgres schema: %w", err)
	}

	log.Println("[postgres] store ready")
	return &Store{db: db}, nil
}

// DB returns the underlying sqlx.DB for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

// UpsertBatch writes records in one transaction. Safe to retry: the upsert
// is idempotent per (market, tf, ts).
func (s *Store) UpsertBatch(ctx context.Context, records []model.Merged) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres begin: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, upsertSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("postgres prepare: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		rec := &records[i]
		var indJSON interface{}
		if rec.Indicators != nil {
			indJSON = string(rec.Indicators.JSON())
		}
		if _, err := stmt.ExecContext(ctx,
			rec.Exchange, rec.Market, rec.TF, rec.OpenTime,
			rec.Open, rec.High, rec.Low, rec.Close, rec.Volume,
			rec.Synthetic, indJSON,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("postgres upsert %s %s %d: %w", rec.Market, rec.TF, rec.OpenTime, err)
		}
	}

	return tx.Commit()
}

// Run consumes merged records and flushes them in batches. A failed flush is
// re-queued for the next attempt: at-least-once, may duplicate (harmless
// under the idempotent upsert), never lost, never fatal to the process.
func (s *Store) Run(ctx context.Context, recordCh <-chan model.Merged) {
	batch := make([]model.Merged, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.UpsertBatch(flushCtx, batch)
		cancel()
		if err != nil {
			// Keep the batch for the next flush attempt
			if s.OnFlushFailure != nil {
				s.OnFlushFailure()
			}
			log.Printf("[postgres] flush failed, re-queued %d records: %v", len(batch), err)
			return
		}
		if s.OnFlush != nil {
			s.OnFlush(time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case rec, ok := <-recordCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
