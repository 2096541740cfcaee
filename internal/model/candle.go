package model

import (
	"encoding/json"
	"strconv"
)

// Candle represents an OHLCV candle for a single market and timeframe.
// OpenTime is epoch ms aligned to the timeframe duration;
// CloseTime = OpenTime + timeframe duration.
type Candle struct {
	Exchange  string  `json:"exchange"`
	Market    string  `json:"market"`
	TF        string  `json:"tf"`
	OpenTime  int64   `json:"open_time"`  // epoch ms, tf-aligned
	CloseTime int64   `json:"close_time"` // epoch ms
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Closed    bool    `json:"is_closed"`
	Synthetic bool    `json:"synthetic,omitempty"` // gap-fill row, not real trades
	Source    string  `json:"source,omitempty"`
}

// SeriesKey returns "market|tf", identifying one candle series.
func (c *Candle) SeriesKey() string {
	return c.Market + "|" + c.TF
}

// BucketKey returns "market|tf|openTime", identifying one bucket of one series.
func (c *Candle) BucketKey() string {
	return BucketKey(c.Market, c.TF, c.OpenTime)
}

// BucketKey builds the composite correlation key used across the pipeline.
func BucketKey(market, tf string, openTime int64) string {
	return market + "|" + tf + "|" + strconv.FormatInt(openTime, 10)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
