// Package sqlite keeps a local archive of closed candles. It is the recovery
// source when Redis and Postgres are both unreachable: the single-writer
// append survives restarts and replays cheaply.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"candleflow/internal/model"
	"candleflow/internal/timeframe"
)

const (
	archiveBatchSize  = 100
	archiveFlushDelay = time.Second
)

// Archive is a batched single-writer SQLite store for closed candles.
type Archive struct {
	db *sql.DB

	// OnCommit observes batch commit latency (optional, set externally).
	OnCommit func(d time.Duration)
}

// NewArchive opens (or creates) the archive database at path.
func NewArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// Single writer; SQLite serializes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS candles (
	market    TEXT    NOT NULL,
	tf        TEXT    NOT NULL,
	ts        INTEGER NOT NULL,
	open      REAL    NOT NULL,
	high      REAL    NOT NULL,
	low       REAL    NOT NULL,
	close     REAL    NOT NULL,
	volume    REAL    NOT NULL,
	synthetic INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (market, tf, ts)
);
CREATE INDEX IF NOT EXISTS idx_candles_ts ON candles (tf, ts);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] archive ready at %s", path)
	return &Archive{db: db}, nil
}

// DB returns the underlying handle for health probes.
func (a *Archive) DB() *sql.DB { return a.db }

// WriteBatch inserts candles in one transaction, replacing duplicates.
func (a *Archive) WriteBatch(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR REPLACE INTO candles (market, tf, ts, open, high, low, close, volume, synthetic)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		syn := 0
		if c.Synthetic {
			syn = 1
		}
		if _, err := stmt.ExecContext(ctx,
			c.Market, c.TF, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume, syn,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert %s %s %d: %w", c.Market, c.TF, c.OpenTime, err)
		}
	}

	return tx.Commit()
}

// Run consumes closed candles and archives them in batches. Archive failures
// are logged and the batch dropped; the archive is best-effort local history,
// not the durability path.
func (a *Archive) Run(ctx context.Context, candleCh <-chan model.Candle) {
	batch := make([]model.Candle, 0, archiveBatchSize)
	timer := time.NewTimer(archiveFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.WriteBatch(flushCtx, batch); err != nil {
			log.Printf("[sqlite] archive flush failed, dropped %d candles: %v", len(batch), err)
		} else if a.OnCommit != nil {
			a.OnCommit(time.Since(start))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case c, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, c)
			if len(batch) >= archiveBatchSize {
				flush()
				timer.Reset(archiveFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(archiveFlushDelay)
		}
	}
}

// Load returns archived candles for one series in ascending time order,
// optionally bounded by from/to (0 = unbounded). Used to reseed aggregator
// windows and indicator state after a restart.
func (a *Archive) Load(ctx context.Context, market, tf string, from, to int64, limit int) ([]model.Candle, error) {
	if to == 0 {
		to = 1<<63 - 1
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := a.db.QueryContext(ctx, `
SELECT market, tf, ts, open, high, low, close, volume, synthetic
FROM candles
WHERE market = ? AND tf = ? AND ts >= ? AND ts <= ?
ORDER BY ts DESC LIMIT ?`, market, tf, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		var syn int
		if err := rows.Scan(&c.Market, &c.TF, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &syn); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		if tfMs, ok := timeframe.DurationMs(c.TF); ok {
			c.CloseTime = c.OpenTime + tfMs
		}
		c.Synthetic = syn == 1
		c.Closed = true
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to ascending order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}
