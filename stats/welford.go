package stats

import "math"

// Welford keeps a streaming mean and variance without storing samples.
type Welford struct {
	count uint64
	mean  float64
	m2    float64
}

func NewWelford() *Welford {
	return &Welford{
		count: 0,
		mean:  0,
		m2:    0,
	}
}

func (welford *Welford) Update(value float64) {
	welford.count++
	delta := value - welford.mean
	welford.mean += delta / float64(welford.count)
	delta2 := value - welford.mean
	welford.m2 += delta * delta2
}

func (welford *Welford) Count() uint64 {
	return welford.count
}

func (welford *Welford) GetMean() float64 {
	return welford.mean
}

func (welford *Welford) GetVariance() float64 {
	if welford.count < 2 {
		return 0
	}
	return welford.m2 / float64(welford.count)
}

func (welford *Welford) GetSampleVariance() float64 {
	if welford.count < 2 {
		return 0
	}
	return welford.m2 / float64(welford.count-1)
}

func (welford *Welford) GetSD() float64 {
	return math.Sqrt(welford.GetSampleVariance())
}

func (welford *Welford) GetCV() float64 {
	if welford.count < 2 || welford.mean == 0 {
		return 0
	}
	return welford.GetSD() / welford.GetMean()
}

func (welford *Welford) Reset() {
	welford.count = 0
	welford.mean = 0
	welford.m2 = 0
}
