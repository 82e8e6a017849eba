package stats

// DistanceStatistics tracks the spacing between consecutive timestamps of a
// series. Only forward steps are counted; duplicates and out-of-order pairs
// carry no information about the grid. FirstTimestamp and LastTimestamp are
// meaningful once NumSamples is positive.
type DistanceStatistics struct {
	FirstTimestamp int64
	LastTimestamp  int64
	NumSamples     uint64
	Distances      *Welford
}

func NewDistanceStatistics() *DistanceStatistics {
	return &DistanceStatistics{
		Distances: NewWelford(),
	}
}

// Record adds the distance between two neighbouring timestamps.
func (stats *DistanceStatistics) Record(previous, next int64) {
	if next <= previous {
		return
	}
	if stats.NumSamples == 0 || previous < stats.FirstTimestamp {
		stats.FirstTimestamp = previous
	}
	if stats.NumSamples == 0 || next > stats.LastTimestamp {
		stats.LastTimestamp = next
	}
	stats.Distances.Update(float64(next - previous))
	stats.NumSamples++
}

func (stats *DistanceStatistics) MeanDistance() float64 {
	return stats.Distances.GetMean()
}
