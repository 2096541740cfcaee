package indicator

// rollingSMA is an O(1) simple moving average over a preallocated circular
// buffer. Value reports ok=false until period values have been seen.
type rollingSMA struct {
	period int
	buf    []float64
	idx    int
	count  int
	sum    float64
}

func newRollingSMA(period int) *rollingSMA {
	return &rollingSMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *rollingSMA) Update(v float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++
}

func (s *rollingSMA) Value() (float64, bool) {
	if s.count < s.period {
		return 0, false
	}
	return s.sum / float64(s.period), true
}
