// Command backfill fetches historical 1m candles for one or more markets,
// fills gaps with synthetic flat candles, recomputes indicators by replay,
// and upserts the merged records into Postgres. Re-running over the same
// range is safe: the upsert is idempotent.
package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"candleflow/config"
	"candleflow/internal/backfill"
	"candleflow/internal/indicator"
	"candleflow/internal/model"
	"candleflow/internal/store/postgres"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		markets = flag.String("markets", "", "comma-separated market symbols (required)")
		from    = flag.Int64("from", 0, "range start, epoch ms (required)")
		to      = flag.Int64("to", 0, "range end, epoch ms, exclusive (required)")
	)
	flag.Parse()

	if *markets == "" || *from <= 0 || *to <= *from {
		log.Fatalf("[backfill] usage: backfill -markets=BTC-USD,ETH-USD -from=<ms> -to=<ms>")
	}

	cfg := config.Load()
	if cfg.BackfillURL == "" {
		log.Fatalf("[backfill] BACKFILL_URL not set")
	}

	jobID := uuid.NewString()
	log.Printf("[backfill] job %s: %s from=%d to=%d", jobID, *markets, *from, *to)

	client := backfill.New(backfill.Config{
		BaseURL: cfg.BackfillURL,
		APIKey:  cfg.BackfillAPIKey,
	})

	store, err := postgres.New(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("[backfill] postgres init failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, market := range strings.Split(*markets, ",") {
		market = strings.TrimSpace(market)
		if market == "" {
			continue
		}
		if err := run(ctx, client, store, market, *from, *to); err != nil {
			log.Fatalf("[backfill] %s failed: %v", market, err)
		}
	}

	log.Printf("[backfill] job %s complete", jobID)
}

func run(ctx context.Context, client *backfill.Client, store *postgres.Store, market string, from, to int64) error {
	start := time.Now()

	candles, err := client.FetchCandles(ctx, market, from, to)
	if err != nil {
		return err
	}
	fetched := len(candles)
	candles = backfill.FillGaps(candles)
	log.Printf("[backfill] %s: fetched %d candles, %d after gap fill", market, fetched, len(candles))

	// Replay through a fresh engine so backfilled indicators match what live
	// computation would have produced over the same history.
	engine := indicator.NewEngine(indicator.Config{})
	records := make([]model.Merged, 0, len(candles))
	for _, c := range candles {
		ind := engine.Compute(c)
		indCopy := ind
		records = append(records, model.Merged{Candle: c, Indicators: &indCopy})
	}

	const chunk = 500
	for i := 0; i < len(records); i += chunk {
		end := i + chunk
		if end > len(records) {
			end = len(records)
		}
		if err := store.UpsertBatch(ctx, records[i:end]); err != nil {
			return err
		}
	}

	log.Printf("[backfill] %s: upserted %d records in %s", market, len(records), time.Since(start).Round(time.Millisecond))
	return nil
}
