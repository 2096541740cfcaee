// Package redis publishes candle, indicator, and merged records to Redis and
// consumes the candle/indicator streams that feed the merge-join. Streams are
// partitioned by timeframe (one candle stream and one indicator stream per
// timeframe) and keyed by market.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"candleflow/internal/model"
)

const (
	// Stream trimming: keep roughly a day of 1m records per stream.
	streamMaxLen     = 100_000
	defaultLatestTTL = 30 * time.Minute
)

// CandleStream returns the timeframe-partitioned candle stream key.
func CandleStream(tf string) string { return "candles:" + tf }

// IndicatorStream returns the timeframe-partitioned indicator stream key.
func IndicatorStream(tf string) string { return "indicators:" + tf }

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes candles, indicator records, and merged records to Redis.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// NewPublisher creates a Publisher and pings the server.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// RunCandles reads closed candles from candleCh and publishes them.
// Blocks until ctx is cancelled or candleCh is closed.
func (p *Publisher) RunCandles(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			if err := p.writeCandle(ctx, c); err != nil {
				log.Printf("[redis] %v", err)
			}
		}
	}
}

// RunIndicators reads indicator records and publishes them.
func (p *Publisher) RunIndicators(ctx context.Context, indCh <-chan model.Indicator) {
	for {
		select {
		case <-ctx.Done():
			return
		case ind, ok := <-indCh:
			if !ok {
				return
			}
			if err := p.writeIndicator(ctx, ind); err != nil {
				log.Printf("[redis] %v", err)
			}
		}
	}
}

// Run reads merged records and publishes them for live subscribers.
// Implements model.MergedWriter.
func (p *Publisher) Run(ctx context.Context, recordCh <-chan model.Merged) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-recordCh:
			if !ok {
				return
			}
			p.WriteMerged(ctx, rec)
		}
	}
}

// writeCandle performs a pipelined XADD + SET latest + PUBLISH for a candle.
// The error is returned so the circuit breaker sees failed writes.
func (p *Publisher) writeCandle(ctx context.Context, c model.Candle) error {
	jsonData := string(c.JSON())

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: CandleStream(c.TF),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"market": c.Market, "data": jsonData},
	})
	pipe.Set(ctx, "candle:latest:"+c.TF+":"+c.Market, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, "pub:candle:"+c.TF+":"+c.Market, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("candle pipeline %s %s: %w", c.Market, c.TF, err)
	}
	return nil
}

// writeIndicator performs a pipelined XADD + SET latest + PUBLISH for an
// indicator record.
func (p *Publisher) writeIndicator(ctx context.Context, ind model.Indicator) error {
	jsonData := string(ind.JSON())

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: IndicatorStream(ind.TF),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"market": ind.Market, "data": jsonData},
	})
	pipe.Set(ctx, "ind:latest:"+ind.TF+":"+ind.Market, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, "pub:ind:"+ind.TF+":"+ind.Market, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("indicator pipeline %s %s: %w", ind.Market, ind.TF, err)
	}
	return nil
}

// WriteMerged publishes a merged record for dashboard subscribers.
func (p *Publisher) WriteMerged(ctx context.Context, rec model.Merged) {
	jsonData := string(rec.JSON())

	pipe := p.client.Pipeline()
	pipe.Set(ctx, "merged:latest:"+rec.TF+":"+rec.Market, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, "pub:merged:"+rec.TF+":"+rec.Market, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] merged pipeline error for %s %s: %v", rec.Market, rec.TF, err)
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
