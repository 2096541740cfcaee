package indicator

// stochRSI computes the Stochastic RSI oscillator:
//
//	rawK = (rsi - min(rsiWindow)) / (max(rsiWindow) - min(rsiWindow)) * 100
//	k    = sma(rawK series, smoothK)
//	d    = sma(k series, smoothD)
//
// rawK is 0 when max == min. Both k and d stay null until the combined
// warmup of rsiLen+stochLen+smoothK+smoothD closes has been observed.
type stochRSI struct {
	rsi     *wilderRSI
	rsiWin  *rollingWindow // last stochLen RSI values
	kSmooth *rollingSMA    // smoothK over rawK
	dSmooth *rollingSMA    // smoothD over k
	warmup  int
	count   int
	curK    float64
	curD    float64
	haveK   bool
	haveD   bool
}

func newStochRSI(rsiLen, stochLen, smoothK, smoothD int) *stochRSI {
	return &stochRSI{
		rsi:     newWilderRSI(rsiLen),
		rsiWin:  newRollingWindow(stochLen),
		kSmooth: newRollingSMA(smoothK),
		dSmooth: newRollingSMA(smoothD),
		warmup:  rsiLen + stochLen + smoothK + smoothD,
	}
}

func (s *stochRSI) Update(close float64) {
	s.count++
	s.rsi.Update(close)

	rsi, ok := s.rsi.Value()
	if !ok {
		return
	}
	s.rsiWin.Update(rsi)

	min, max, ok := s.rsiWin.MinMax()
	if !ok {
		return
	}
	rawK := 0.0
	if max > min {
		rawK = (rsi - min) / (max - min) * 100.0
	}
	s.kSmooth.Update(rawK)

	k, ok := s.kSmooth.Value()
	if !ok {
		return
	}
	s.curK, s.haveK = k, true
	s.dSmooth.Update(k)

	if d, ok := s.dSmooth.Value(); ok {
		s.curD, s.haveD = d, true
	}
}

// K returns the smoothed %K; ok=false until the combined warmup is met.
func (s *stochRSI) K() (float64, bool) {
	if !s.haveK || s.count < s.warmup {
		return 0, false
	}
	return s.curK, true
}

// D returns the smoothed %D under the same warmup rule as K.
func (s *stochRSI) D() (float64, bool) {
	if !s.haveD || s.count < s.warmup {
		return 0, false
	}
	return s.curD, true
}
