package model

import "encoding/json"

// Merged is the join of a closed candle with its indicator record for the
// same (market, tf, bucket). Indicators may be nil when the record was built
// from a candle alone (e.g. historical backfill rows without recomputation).
type Merged struct {
	Candle
	Indicators *Indicator `json:"indicators,omitempty"`
}

// Time returns the record's bucket time. Uniqueness of Time within a series
// is a hard invariant of the snapshot store.
func (m *Merged) Time() int64 {
	return m.OpenTime
}

// JSON returns the JSON-encoded merged record.
func (m *Merged) JSON() []byte {
	b, _ := json.Marshal(m)
	return b
}
