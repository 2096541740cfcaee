// Package backfill fetches historical 1m candles over REST and fills gaps
// with synthetic flat candles so downstream series stay contiguous.
package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"candleflow/internal/model"
	"candleflow/internal/timeframe"
)

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 15 * time.Second
)

// Config configures the backfill client.
type Config struct {
	BaseURL     string
	APIKey      string
	MaxAttempts int           // attempts per request before giving up
	BaseDelay   time.Duration // first retry delay, doubled per attempt
	MaxDelay    time.Duration // retry delay ceiling
}

// Client fetches historical candles from an upstream REST API.
type Client struct {
	http *resty.Client
	cfg  Config
}

// New creates a backfill client.
func New(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		rc.SetHeader("X-API-Key", cfg.APIKey)
	}

	return &Client{http: rc, cfg: cfg}
}

// wireCandle is the upstream REST row shape.
type wireCandle struct {
	TS     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// FetchCandles fetches 1m candles for [from, to) in ascending order.
// Transient failures (429, 5xx, network errors) are retried with exponential
// backoff and jitter up to MaxAttempts; other 4xx responses fail immediately.
func (c *Client) FetchCandles(ctx context.Context, market string, from, to int64) ([]model.Candle, error) {
	var body []byte

	delay := c.cfg.BaseDelay
	for attempt := 1; ; attempt++ {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"market": market,
				"tf":     timeframe.M1,
				"from":   fmt.Sprintf("%d", from),
				"to":     fmt.Sprintf("%d", to),
			}).
			Get("/v1/candles")

		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}

		if err == nil && status == http.StatusOK {
			body = resp.Body()
			break
		}

		if !retryable(status, err) {
			return nil, fmt.Errorf("backfill fetch %s: status %d: %s", market, status, resp.String())
		}
		if attempt >= c.cfg.MaxAttempts {
			return nil, fmt.Errorf("backfill fetch %s: giving up after %d attempts (status %d, err %v)", market, attempt, status, err)
		}

		wait := delay + time.Duration(rand.Int63n(int64(delay/2)+1))
		log.Printf("[backfill] %s attempt %d failed (status %d, err %v), retrying in %s", market, attempt, status, err, wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
		if delay > c.cfg.MaxDelay {
			delay = c.cfg.MaxDelay
		}
	}

	var rows []wireCandle
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("backfill decode %s: %w", market, err)
	}

	out := make([]model.Candle, 0, len(rows))
	for _, r := range rows {
		open := r.TS - r.TS%timeframe.M1Ms
		out = append(out, model.Candle{
			Market:    market,
			TF:        timeframe.M1,
			OpenTime:  open,
			CloseTime: open + timeframe.M1Ms,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
			Closed:    true,
			Source:    "backfill",
		})
	}
	return out, nil
}

// retryable reports whether a request outcome is worth another attempt.
func retryable(status int, err error) bool {
	if err != nil {
		return true // network error or timeout
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500
}

// FillGaps returns candles with every missing 1m bucket between consecutive
// rows filled by a synthetic flat candle: OHLC pinned to the previous close,
// zero volume. Input must be ascending; output is ascending and contiguous.
func FillGaps(candles []model.Candle) []model.Candle {
	if len(candles) < 2 {
		return candles
	}

	out := make([]model.Candle, 0, len(candles))
	out = append(out, candles[0])

	for i := 1; i < len(candles); i++ {
		prev := out[len(out)-1]
		for next := prev.OpenTime + timeframe.M1Ms; next < candles[i].OpenTime; next += timeframe.M1Ms {
			out = append(out, model.Candle{
				Exchange:  prev.Exchange,
				Market:    prev.Market,
				TF:        timeframe.M1,
				OpenTime:  next,
				CloseTime: next + timeframe.M1Ms,
				Open:      prev.Close,
				High:      prev.Close,
				Low:       prev.Close,
				Close:     prev.Close,
				Volume:    0,
				Closed:    true,
				Synthetic: true,
				Source:    "gapfill",
			})
			prev = out[len(out)-1]
		}
		out = append(out, candles[i])
	}
	return out
}
