package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the candle pipeline.
type Metrics struct {
	TicksTotal     prometheus.Counter
	MalformedTicks prometheus.Counter
	LateTicks      prometheus.Counter
	DroppedTicks   prometheus.Counter
	WSReconnects   prometheus.Counter

	// Aggregation
	CandlesTotal   *prometheus.CounterVec // labels: tf
	SyntheticTotal prometheus.Counter
	CandlesDropped prometheus.Counter
	AggregateDur   prometheus.Histogram

	// Indicator engine
	IndicatorsTotal     prometheus.Counter
	IndicatorComputeDur prometheus.Histogram

	// Merge-join
	MergesTotal     prometheus.Counter
	JoinEvictions   prometheus.Counter
	JoinPendingKeys prometheus.Gauge

	// Backpressure
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber

	// Stores
	RedisWriteDur            prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	PostgresFlushDur         prometheus.Histogram
	PostgresFlushFailures    prometheus.Counter
	SQLiteCommitDur          prometheus.Histogram
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleflow_ticks_total",
			Help: "Total tick snapshots received",
		}),
		MalformedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleflow_malformed_ticks_total",
			Help: "Tick frames rejected by normalization",
		}),
		LateTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleflow_late_ticks_total",
			Help: "Ticks dropped for arriving behind the current 1m bucket",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleflow_dropped_ticks_total",
			Help: "Ticks dropped because the ingest channel was full",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleflow_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),

		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleflow_candles_total",
			Help: "Closed candles emitted (by timeframe)",
		}, []string{"tf"}),
		SyntheticTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleflow_synthetic_candles_total",
			Help: "Synthetic gap-fill candles produced",
		}),
		CandlesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleflow_candles_dropped_total",
			Help: "Closed candles dropped because an output channel was full",
		}),
		AggregateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candleflow_aggregate_duration_seconds",
			Help:    "Aggregator processing latency per tick",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),

		IndicatorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleflow_indicators_total",
			Help: "Total indicator records computed",
		}),
		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candleflow_indicator_compute_duration_seconds",
			Help:    "Indicator engine compute latency per closed candle",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),

		MergesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleflow_merges_total",
			Help: "Merged candle+indicator records emitted by the join",
		}),
		JoinEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleflow_join_evictions_total",
			Help: "Pending join entries evicted by TTL or the key ceiling",
		}),
		JoinPendingKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candleflow_join_pending_keys",
			Help: "Current number of unmatched keys held by the join",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleflow_fanout_drops_total",
			Help: "Merged records dropped by the fan-out per subscriber",
		}, []string{"subscriber"}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candleflow_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candleflow_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleflow_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleflow_redis_buffered_writes_total",
			Help: "Writes buffered locally during Redis circuit breaker open state",
		}),
		PostgresFlushDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candleflow_postgres_flush_duration_seconds",
			Help:    "Postgres batch upsert latency",
			Buckets: prometheus.DefBuckets,
		}),
		PostgresFlushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleflow_postgres_flush_failures_total",
			Help: "Postgres batch flushes that failed and were re-queued",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candleflow_sqlite_commit_duration_seconds",
			Help:    "SQLite archive batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.MalformedTicks,
		m.LateTicks,
		m.DroppedTicks,
		m.WSReconnects,
		m.CandlesTotal,
		m.SyntheticTotal,
		m.CandlesDropped,
		m.AggregateDur,
		m.IndicatorsTotal,
		m.IndicatorComputeDur,
		m.MergesTotal,
		m.JoinEvictions,
		m.JoinPendingKeys,
		m.FanoutDropsTotal,
		m.RedisWriteDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.PostgresFlushDur,
		m.PostgresFlushFailures,
		m.SQLiteCommitDur,
	)

	return m
}

// HealthStatus represents the pipeline health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	PostgresOK     bool      `json:"postgres_ok"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	EnabledTFs     []string  `json:"enabled_tfs"`

	RedisLatencyMs    float64   `json:"redis_latency_ms"`
	PostgresLatencyMs float64   `json:"postgres_latency_ms"`
	LastCheckAt       time.Time `json:"last_check_at"`
	StartedAt         time.Time `json:"started_at"`

	// A dependency the process deliberately runs without never counts
	// against health. Set by StartLivenessChecker from the handles it gets.
	redisConfigured    bool
	postgresConfigured bool
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetEnabledTFs(tfs []string) {
	h.mu.Lock()
	h.EnabledTFs = tfs
	h.mu.Unlock()
}

// Healthy reports whether every configured dependency is reachable.
func (h *HealthStatus) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return (!h.redisConfigured || h.RedisConnected) &&
		(!h.postgresConfigured || h.PostgresOK)
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckPostgres pings Postgres and records latency + health.
func (h *HealthStatus) CheckPostgres(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.PostgresOK = err == nil
	h.PostgresLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial probe and records health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	err := db.PingContext(ctx)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. A nil handle marks
// that dependency as not configured, so it never degrades health.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, pgDB, sqliteDB *sql.DB, interval time.Duration) {
	h.mu.Lock()
	h.redisConfigured = rdb != nil
	h.postgresConfigured = pgDB != nil
	h.mu.Unlock()

	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if pgDB != nil {
			h.CheckPostgres(probeCtx, pgDB)
		}
		if sqliteDB != nil {
			h.CheckSQLite(probeCtx, sqliteDB)
		}
		cancel()
	}

	go func() {
		probe()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.redisConfigured && !h.RedisConnected
	postgresDown := h.postgresConfigured && !h.PostgresOK
	if !h.WSConnected || redisDown || postgresDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if redisDown && postgresDown {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status            string   `json:"status"`
		Uptime            string   `json:"uptime"`
		WSConnected       bool     `json:"ws_connected"`
		LastTickTime      string   `json:"last_tick_time"`
		TickAge           string   `json:"tick_age"`
		RedisConnected    bool     `json:"redis_connected"`
		RedisLatencyMs    float64  `json:"redis_latency_ms"`
		PostgresOK        bool     `json:"postgres_ok"`
		PostgresLatencyMs float64  `json:"postgres_latency_ms"`
		SQLiteOK          bool     `json:"sqlite_ok"`
		EnabledTFs        []string `json:"enabled_tfs"`
		LastCheckAt       string   `json:"last_check_at"`
	}{
		Status:            overallStatus,
		Uptime:            time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:       h.WSConnected,
		LastTickTime:      h.LastTickTime.Format(time.RFC3339),
		TickAge:           tickAge,
		RedisConnected:    h.RedisConnected,
		RedisLatencyMs:    h.RedisLatencyMs,
		PostgresOK:        h.PostgresOK,
		PostgresLatencyMs: h.PostgresLatencyMs,
		SQLiteOK:          h.SQLiteOK,
		EnabledTFs:        h.EnabledTFs,
		LastCheckAt:       h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
