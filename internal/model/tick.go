package model

import "candleflow/internal/timeframe"

// Tick is the latest known state of one minute of one market, as delivered by
// an exchange feed. Ticks for the same minute are snapshots, not deltas: each
// one replaces the previous state of that minute.
type Tick struct {
	Exchange string  `json:"exchange"`
	Market   string  `json:"market"`
	TS       int64   `json:"ts"` // event time, epoch ms
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Source   string  `json:"source,omitempty"`
}

// Bucket1m returns the 1-minute bucket start for this tick's event time.
func (t *Tick) Bucket1m() int64 {
	return timeframe.Bucket(t.TS, timeframe.M1Ms)
}
