package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"candleflow/config"
	"candleflow/internal/api"
	"candleflow/internal/ingest"
	"candleflow/internal/join"
	"candleflow/internal/logger"
	"candleflow/internal/metrics"
	"candleflow/internal/model"
	"candleflow/internal/pipeline"
	"candleflow/internal/store/postgres"
	redisstore "candleflow/internal/store/redis"
	sqlitestore "candleflow/internal/store/sqlite"
	"candleflow/internal/timeframe"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	slogger := logger.Init("candleflow", logger.ParseLevel(cfg.LogLevel))

	instanceID := uuid.NewString()
	slogger.Info("starting", slog.String("instance_id", instanceID))

	tfs := cfg.ParseTimeframes()
	log.Printf("[candleflow] enabled TFs: %v", tfs)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetEnabledTFs(tfs)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite archive (off hot path) ----
	os.MkdirAll("data", 0o755)
	archive, err := sqlitestore.NewArchive(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[candleflow] sqlite init failed: %v", err)
	}
	archive.OnCommit = func(d time.Duration) { prom.SQLiteCommitDur.Observe(d.Seconds()) }
	defer archive.Close()

	// ---- Postgres store ----
	var pgStore *postgres.Store
	pgStore, err = postgres.New(cfg.PostgresDSN)
	if err != nil {
		log.Printf("[candleflow] WARNING: postgres init failed: %v (continuing without postgres)", err)
	}
	if pgStore != nil {
		pgStore.OnFlush = func(d time.Duration) { prom.PostgresFlushDur.Observe(d.Seconds()) }
		pgStore.OnFlushFailure = func() { prom.PostgresFlushFailures.Inc() }
		defer pgStore.Close()
	}

	// ---- Redis publisher with circuit breaker ----
	var publisher *redisstore.Publisher
	var buffered *redisstore.BufferedPublisher
	publisher, err = redisstore.NewPublisher(redisstore.PublisherConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Printf("[candleflow] WARNING: redis init failed: %v (continuing without redis)", err)
	} else {
		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			log.Printf("[candleflow] redis circuit breaker %s -> %s", from, to)
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
		}
		buffered = redisstore.NewBufferedPublisher(ctx, publisher, cb, 10000)
		buffered.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
		defer publisher.Close()
	}

	// ---- Periodic liveness checks ----
	{
		var rdb *goredis.Client
		if publisher != nil {
			rdb = publisher.Client()
		}
		var pgDB *sql.DB
		if pgStore != nil {
			pgDB = pgStore.DB().DB
		}
		health.StartLivenessChecker(ctx, rdb, pgDB, archive.DB(), 10*time.Second)
	}

	// ---- Pipeline ----
	pl := pipeline.New(pipeline.Config{
		Shards:         cfg.Shards,
		SeriesCapacity: cfg.SeriesCap,
		Join: join.Config{
			TTL:            cfg.JoinTTL,
			MaxPendingKeys: cfg.JoinMaxKeys,
		},
	}, pipeline.Hooks{
		OnTick: func() {
			prom.TicksTotal.Inc()
			health.SetLastTickTime(time.Now())
		},
		OnTickDropped:   func() { prom.DroppedTicks.Inc() },
		OnLateTick:      func() { prom.LateTicks.Inc() },
		OnCandleDropped: func() { prom.CandlesDropped.Inc() },
		OnCandle: func(tf string, synthetic bool) {
			prom.CandlesTotal.WithLabelValues(tf).Inc()
			if synthetic {
				prom.SyntheticTotal.Inc()
			}
		},
		OnIndicator:      func() { prom.IndicatorsTotal.Inc() },
		OnMerge:          func() { prom.MergesTotal.Inc() },
		OnEvict:          func(n int) { prom.JoinEvictions.Add(float64(n)) },
		OnPublishDrop:    func() { prom.CandlesDropped.Inc() },
		PendingKeys:      func(n int) { prom.JoinPendingKeys.Set(float64(n)) },
		ObserveAggregate: func(d time.Duration) { prom.AggregateDur.Observe(d.Seconds()) },
		ObserveCompute:   func(d time.Duration) { prom.IndicatorComputeDur.Observe(d.Seconds()) },
	})
	pl.FanOut().OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}

	// ---- Warm start: replay archived 1m candles per configured market ----
	for _, market := range splitMarkets(cfg.Markets) {
		hist, err := archive.Load(ctx, market, timeframe.M1, 0, 0, 800)
		if err != nil {
			log.Printf("[candleflow] warm start skipped for %s: %v", market, err)
			continue
		}
		if len(hist) > 0 {
			pl.Seed(market, hist)
			log.Printf("[candleflow] warm start: replayed %d candles for %s", len(hist), market)
		}
	}

	// ---- Downstream subscribers ----
	if buffered != nil {
		redisCh := pl.Subscribe()
		go func() {
			for rec := range redisCh {
				start := time.Now()
				buffered.WriteCandle(rec.Candle)
				if rec.Indicators != nil {
					buffered.WriteIndicator(*rec.Indicators)
				}
				publisher.WriteMerged(ctx, rec)
				prom.RedisWriteDur.Observe(time.Since(start).Seconds())
			}
		}()
	}

	if pgStore != nil {
		go pgStore.Run(ctx, pl.Subscribe())
	}

	archiveCandleCh := make(chan model.Candle, 1024)
	go archive.Run(ctx, archiveCandleCh)
	archiveIn := pl.Subscribe()
	go func() {
		defer close(archiveCandleCh)
		for rec := range archiveIn {
			select {
			case archiveCandleCh <- rec.Candle:
			default:
			}
		}
	}()

	liveCache := api.NewLiveCache(120)
	go liveCache.Run(ctx, pl.Subscribe())

	// ---- Query API ----
	router := api.NewRouter(api.Deps{
		Snapshots: pl.Store(),
		Live:      liveCache,
		Healthy:   health.Healthy,
	})
	go func() {
		if err := api.Serve(cfg.APIAddr, router); err != nil {
			log.Printf("[candleflow] api server error: %v", err)
		}
	}()

	// ---- Feed ingestion ----
	tickCh := make(chan model.Tick, 10000)
	feed, err := ingest.New(ingest.Config{
		URL:               cfg.FeedURL,
		ReconnectDelay:    2 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
	})
	if err != nil {
		log.Fatalf("[candleflow] feed init failed: %v", err)
	}
	feed.OnConnected = func() { health.SetWSConnected(true) }
	feed.OnReconnect = func() {
		prom.WSReconnects.Inc()
		health.SetWSConnected(false)
	}
	feed.OnMalformed = func() { prom.MalformedTicks.Inc() }
	feed.OnDropped = func() { prom.DroppedTicks.Inc() }

	go func() {
		if err := feed.Start(ctx, tickCh); err != nil {
			log.Printf("[candleflow] feed error: %v", err)
			health.SetWSConnected(false)
		}
	}()

	go pl.Run(ctx, tickCh)
	log.Printf("[candleflow] pipeline ready: [feed] -> [1m agg] -> [cascade %v] -> [indicators] -> [join] -> [store/redis/postgres]", tfs)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[candleflow] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[candleflow] shutdown complete.")
}

func splitMarkets(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
