package indicator

// wilderRSI computes the Relative Strength Index with Wilder exponential
// smoothing, seeded by a simple average of the first period deltas.
// Update is O(1) per close. Value reports ok=false until period deltas
// (period+1 closes) have been seen.
//
// Wilder smoothing is the canonical RSI formula for this pipeline; the batch
// recompute path replays history through a fresh instance so live and
// recomputed values can never diverge.
type wilderRSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

func newWilderRSI(period int) *wilderRSI {
	return &wilderRSI{period: period}
}

func (r *wilderRSI) Update(close float64) {
	r.count++

	if r.count == 1 {
		// First close — no delta yet
		r.prevClose = close
		return
	}

	delta := close - r.prevClose
	r.prevClose = close

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		// Accumulation phase: build the SMA seed
		r.avgGain += gain
		r.avgLoss += loss
		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = rsiFrom(r.avgGain, r.avgLoss)
		}
		return
	}

	// Wilder smoothing: avg = (prevAvg*(period-1) + x) / period
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = rsiFrom(r.avgGain, r.avgLoss)
}

func (r *wilderRSI) Value() (float64, bool) {
	if r.count <= r.period {
		return 0, false
	}
	return r.current, true
}

// rsiFrom maps average gain/loss to RSI. avgLoss == 0 yields exactly 100.
func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
