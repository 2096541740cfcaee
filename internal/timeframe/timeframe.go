// Package timeframe owns the supported candle timeframes and bucket math.
// All bucket times are epoch milliseconds aligned to the timeframe duration.
package timeframe

import "fmt"

// Supported timeframe identifiers.
const (
	M1  = "1m"
	M5  = "5m"
	M15 = "15m"
	H1  = "1h"
	H4  = "4h"
)

// M1Ms is the base timeframe duration in milliseconds.
const M1Ms = int64(60_000)

// durations maps timeframe identifiers to their length in milliseconds.
var durations = map[string]int64{
	M1:  60_000,
	M5:  300_000,
	M15: 900_000,
	H1:  3_600_000,
	H4:  14_400_000,
}

// Cascade lists the higher timeframes a closed 1m candle folds into, in order.
var Cascade = []string{M5, M15, H1, H4}

// All lists every supported timeframe, lowest first.
var All = []string{M1, M5, M15, H1, H4}

// DurationMs returns the timeframe duration in milliseconds.
// ok is false for unknown identifiers.
func DurationMs(tf string) (int64, bool) {
	d, ok := durations[tf]
	return d, ok
}

// Bucket floors an epoch-ms timestamp to the start of its tfMs bucket.
func Bucket(tsMs, tfMs int64) int64 {
	return tsMs - tsMs%tfMs
}

// Validate checks a configured timeframe list. An unknown identifier is a
// configuration error and must be fatal at startup, never at runtime.
func Validate(tfs []string) error {
	if len(tfs) == 0 {
		return fmt.Errorf("timeframe: empty timeframe list")
	}
	for _, tf := range tfs {
		if _, ok := durations[tf]; !ok {
			return fmt.Errorf("timeframe: unsupported timeframe %q", tf)
		}
	}
	return nil
}
