package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"candleflow/internal/model"
)

// Consumer tails timeframe-partitioned candle and indicator streams and
// hands decoded records to callbacks. One consumption goroutine per stream
// keeps per-series delivery ordered, which is what the merge-join expects.
type Consumer struct {
	client *goredis.Client

	// Optional hook for undecodable stream entries.
	OnDecodeError func(stream string)
}

// NewConsumer creates a Consumer and pings the server.
func NewConsumer(cfg PublisherConfig) (*Consumer, error) {
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
	return &Consumer{client: client}, nil
}

// RunCandleStream tails one candle stream from lastID ("$" = new entries
// only) and invokes onCandle per decoded record. Blocks until ctx cancelled.
func (c *Consumer) RunCandleStream(ctx context.Context, tf, lastID string, onCandle func(model.Candle)) error {
	return c.tail(ctx, CandleStream(tf), lastID, func(data string) {
		var candle model.Candle
		if err := json.Unmarshal([]byte(data), &candle); err != nil {
			c.decodeError(CandleStream(tf), err)
			return
		}
		onCandle(candle)
	})
}

// RunIndicatorStream is the indicator-side twin of RunCandleStream.
func (c *Consumer) RunIndicatorStream(ctx context.Context, tf, lastID string, onIndicator func(model.Indicator)) error {
	return c.tail(ctx, IndicatorStream(tf), lastID, func(data string) {
		var ind model.Indicator
		if err := json.Unmarshal([]byte(data), &ind); err != nil {
			c.decodeError(IndicatorStream(tf), err)
			return
		}
		onIndicator(ind)
	})
}

// tail blocks on XREAD against a single stream, dispatching the "data" field
// of each entry.
func (c *Consumer) tail(ctx context.Context, stream, lastID string, handle func(data string)) error {
	if lastID == "" {
		lastID = "$"
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		res, err := c.client.XRead(ctx, &goredis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   100,
			Block:   2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil {
				continue // block timeout, poll again
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("redis xread %s: %w", stream, err)
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				lastID = msg.ID
				data, ok := msg.Values["data"].(string)
				if !ok {
					c.decodeError(stream, fmt.Errorf("missing data field"))
					continue
				}
				handle(data)
			}
		}
	}
}

func (c *Consumer) decodeError(stream string, err error) {
	if c.OnDecodeError != nil {
		c.OnDecodeError(stream)
	} else {
		log.Printf("[redis] undecodable entry on %s: %v", stream, err)
	}
}

// Close closes the Redis client.
func (c *Consumer) Close() error {
	return c.client.Close()
}
