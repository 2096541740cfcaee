package indicator

// volumeFlow carries the two cumulative volume indicators, OBV and PVT.
// Both start at 0 on the first candle of a series and are O(1) per update.
type volumeFlow struct {
	started   bool
	prevClose float64
	obv       float64
	pvt       float64
}

func (v *volumeFlow) Update(close, volume float64) {
	if !v.started {
		v.started = true
		v.prevClose = close
		return
	}

	// OBV: +volume on close up, -volume on close down, unchanged on equal
	switch {
	case close > v.prevClose:
		v.obv += volume
	case close < v.prevClose:
		v.obv -= volume
	}

	// PVT: volume-weighted fractional price change; unchanged when the
	// previous close is 0 (never a divide-by-zero)
	if v.prevClose != 0 {
		v.pvt += volume * (close - v.prevClose) / v.prevClose
	}

	v.prevClose = close
}

func (v *volumeFlow) OBV() float64 { return v.obv }
func (v *volumeFlow) PVT() float64 { return v.pvt }
