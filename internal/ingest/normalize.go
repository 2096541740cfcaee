// Package ingest is the system boundary for raw feed data. It performs one
// strict normalization step from heterogeneous wire shapes to the canonical
// tick type; anything that fails to normalize is dropped at the boundary, so
// the core pipeline never sees unvalidated shapes.
package ingest

import (
	"encoding/json"
	"fmt"

	"candleflow/internal/model"
)

// wireTick matches the candle tick wire record. Exchanges disagree on
// whether numbers arrive as JSON numbers or numeric strings, so every
// numeric field is a json.Number.
type wireTick struct {
	Exchange string      `json:"exchange"`
	Market   string      `json:"market"`
	TS       json.Number `json:"ts"`
	Open     json.Number `json:"open"`
	High     json.Number `json:"high"`
	Low      json.Number `json:"low"`
	Close    json.Number `json:"close"`
	Volume   json.Number `json:"volume"`
	Source   string      `json:"source"`
}

// Normalize maps a raw feed message to a canonical tick. Malformed input
// (missing market/time, non-numeric OHLCV) returns an error; callers drop
// and count it — normalization failures are filtered, never propagated.
func Normalize(raw []byte) (model.Tick, error) {
	var w wireTick
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Tick{}, fmt.Errorf("ingest: decode: %w", err)
	}

	if w.Market == "" {
		return model.Tick{}, fmt.Errorf("ingest: missing market")
	}
	ts, err := w.TS.Int64()
	if err != nil || ts <= 0 {
		return model.Tick{}, fmt.Errorf("ingest: bad timestamp %q", w.TS)
	}

	t := model.Tick{
		Exchange: w.Exchange,
		Market:   w.Market,
		TS:       ts,
		Source:   w.Source,
	}

	fields := [5]struct {
		num json.Number
		dst *float64
	}{
		{w.Open, &t.Open},
		{w.High, &t.High},
		{w.Low, &t.Low},
		{w.Close, &t.Close},
		{w.Volume, &t.Volume},
	}
	for _, f := range fields {
		v, err := f.num.Float64()
		if err != nil {
			return model.Tick{}, fmt.Errorf("ingest: non-numeric field %q", f.num)
		}
		*f.dst = v
	}

	if t.Low > t.Open || t.Low > t.Close || t.High < t.Open || t.High < t.Close || t.Volume < 0 {
		return model.Tick{}, fmt.Errorf("ingest: inconsistent OHLCV for %s", t.Market)
	}

	return t, nil
}
