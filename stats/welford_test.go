package stats

import (
	"histcache/utils"
	"testing"
)

func TestWelford(t *testing.T) {
	welford := NewWelford()

	utils.AssertEqual(t, welford.GetMean(), 0.0)
	utils.AssertEqual(t, welford.GetVariance(), 0.0)
	utils.AssertEqual(t, welford.GetSampleVariance(), 0.0)
	utils.AssertEqual(t, welford.GetCV(), 0.0)

	for i := 1; i < 100; i++ {
		welford.Update(float64(i))
	}

	utils.AssertEqual(t, welford.Count(), uint64(99))
	utils.AssertEqual(t, welford.GetMean(), 50.0)
	utils.AssertClose(t, welford.GetVariance(), 816.666667, 1e-4)
	utils.AssertClose(t, welford.GetSampleVariance(), 825.0000, 1e-4)
	utils.AssertClose(t, welford.GetCV(), 0.5744563, 1e-4)

	welford.Reset()
	utils.AssertEqual(t, welford.Count(), uint64(0))
	utils.AssertEqual(t, welford.GetMean(), 0.0)
}

func TestDistanceStatistics(t *testing.T) {
	stats := NewDistanceStatistics()
	stats.Record(100, 110)
	stats.Record(110, 110)
	stats.Record(110, 130)
	stats.Record(130, 140)

	// 110 -> 110 is a duplicate and carries no spacing
	utils.AssertEqual(t, stats.NumSamples, uint64(3))
	utils.AssertClose(t, stats.MeanDistance(), 40.0/3.0, 1e-9)
	utils.AssertEqual(t, stats.FirstTimestamp, int64(100))
	utils.AssertEqual(t, stats.LastTimestamp, int64(140))

	stats.Record(50, 60)
	utils.AssertEqual(t, stats.FirstTimestamp, int64(50))
	utils.AssertEqual(t, stats.NumSamples, uint64(4))

	stats.Record(70, 60)
	utils.AssertEqual(t, stats.NumSamples, uint64(4))
}

func TestDistanceStatistics_PreEpoch(t *testing.T) {
	stats := NewDistanceStatistics()
	stats.Record(-3, -1)
	utils.AssertEqual(t, stats.FirstTimestamp, int64(-3))
	utils.AssertEqual(t, stats.LastTimestamp, int64(-1))

	stats.Record(-1, 1)
	utils.AssertEqual(t, stats.FirstTimestamp, int64(-3))
	utils.AssertEqual(t, stats.LastTimestamp, int64(1))
	utils.AssertEqual(t, stats.NumSamples, uint64(2))
	utils.AssertClose(t, stats.MeanDistance(), 2.0, 1e-9)

	negative := NewDistanceStatistics()
	negative.Record(-20, -10)
	utils.AssertEqual(t, negative.LastTimestamp, int64(-10))
}
