package replay

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"histcache/core"
)

// Report summarizes a replay.
type Report struct {
	Lookups  int
	Found    int
	Stats    core.QueryCoreStats
	ReadBack time.Duration
	Size     int
	Cached   int
}

// Replay asks a fresh query core for the entry shift steps before every
// stored timestamp of series.
func Replay(ctx context.Context, series *core.Series, backward bool, shift int) (Report, error) {
	timestamps := make([]int64, 0, series.Store().Index().Len())
	first, ok := series.Store().Index().First()
	for ok {
		timestamps = append(timestamps, first)
		first, ok = series.Store().Index().Next(first)
	}
	if backward {
		for i, j := 0, len(timestamps)-1; i < j; i, j = i+1, j-1 {
			timestamps[i], timestamps[j] = timestamps[j], timestamps[i]
		}
	}

	cache := series.Cache()
	queryCore := cache.NewQueryCore()
	report := Report{}
	for _, timestamp := range timestamps {
		entry, err := queryCore.GetPreviousEntry(ctx, core.NewTimeKey(timestamp), shift)
		if err != nil {
			return report, err
		}
		report.Lookups++
		if entry != nil {
			report.Found++
		}
	}

	report.Stats = queryCore.Stats()
	report.ReadBack = cache.OptimalReadBackDuration()
	report.Size = cache.Values().MaximumSize()
	report.Cached = cache.Values().Size()
	log.Debug().
		Str("cache", cache.Name()).
		Int("lookups", report.Lookups).
		Int("window_misses", report.Stats.WindowMisses).
		Msg("replay finished")
	return report, nil
}
