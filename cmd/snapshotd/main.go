// Command snapshotd is a read replica: it tails the candle and indicator
// streams from Redis, correlates them with the same merge-join the main
// pipeline uses, and serves the snapshot API from its own in-memory series
// store. Scaling the query side means running more of these.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"candleflow/config"
	"candleflow/internal/api"
	"candleflow/internal/join"
	"candleflow/internal/logger"
	"candleflow/internal/model"
	"candleflow/internal/series"
	redisstore "candleflow/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	slogger := logger.Init("snapshotd", logger.ParseLevel(cfg.LogLevel))
	slogger.Info("starting", slog.String("instance_id", uuid.NewString()))

	tfs := cfg.ParseTimeframes()

	consumer, err := redisstore.NewConsumer(redisstore.PublisherConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("[snapshotd] redis init failed: %v", err)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	store := series.NewStore(cfg.SeriesCap)
	joiner := join.New(join.Config{
		TTL:            cfg.JoinTTL,
		MaxPendingKeys: cfg.JoinMaxKeys,
	})
	go joiner.Run(ctx, cfg.JoinTTL/5)

	liveCache := api.NewLiveCache(120)
	mergedCh := make(chan model.Merged, 1024)
	go liveCache.Run(ctx, mergedCh)

	deliver := func(rec model.Merged) {
		store.Upsert(rec)
		select {
		case mergedCh <- rec:
		default:
		}
	}

	// One tailer goroutine per stream keeps per-series order intact.
	for _, tf := range tfs {
		tf := tf
		go func() {
			err := consumer.RunCandleStream(ctx, tf, "", func(c model.Candle) {
				if rec, done := joiner.IngestCandle(c); done {
					deliver(rec)
				}
			})
			if err != nil {
				log.Printf("[snapshotd] candle stream %s: %v", tf, err)
			}
		}()
		go func() {
			err := consumer.RunIndicatorStream(ctx, tf, "", func(ind model.Indicator) {
				if rec, done := joiner.IngestIndicator(ind); done {
					deliver(rec)
				}
			})
			if err != nil {
				log.Printf("[snapshotd] indicator stream %s: %v", tf, err)
			}
		}()
	}

	router := api.NewRouter(api.Deps{
		Snapshots: store,
		Live:      liveCache,
	})
	go func() {
		if err := api.Serve(cfg.APIAddr, router); err != nil {
			log.Printf("[snapshotd] api server error: %v", err)
		}
	}()

	log.Printf("[snapshotd] tailing streams for TFs %v, serving %s", tfs, cfg.APIAddr)

	<-sigCh
	log.Println("[snapshotd] shutdown signal received")
	cancel()
	log.Println("[snapshotd] shutdown complete.")
}
