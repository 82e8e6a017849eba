package core

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"histcache/stats"
)

type GapMissConfig struct {
	// Threshold is the number of successive misses that makes a burst.
	Threshold        int
	GrowthMultiplier float64
	// SampleSize scales the mean element distance into a read-back duration.
	SampleSize              int
	InitialReadBackDuration time.Duration
	// When positive, a read-back duration beyond this range is cut to half
	// of it.
	MaxFurtherValuesRange time.Duration
	MaximumSizeLimit      int
}

type ReoptimizationEvent struct {
	OldReadBackDuration time.Duration
	NewReadBackDuration time.Duration
	OldMaximumSize      int
	NewMaximumSize      int
	BurstMin            TimeKey
	BurstMax            TimeKey
	BurstCount          int
}

type DiagnosticsSink interface {
	OnReoptimization(event ReoptimizationEvent)
}

type logDiagnosticsSink struct {
	name   string
	logger zerolog.Logger
}

// NewLogDiagnosticsSink logs every reoptimization at info level and counts
// it in the cache metrics.
func NewLogDiagnosticsSink(name string, logger zerolog.Logger) DiagnosticsSink {
	return &logDiagnosticsSink{name: name, logger: logger}
}

func (sink *logDiagnosticsSink) OnReoptimization(event ReoptimizationEvent) {
	recordReoptimization(context.Background(), sink.name)
	sink.logger.Info().
		Str("cache", sink.name).
		Dur("old_read_back", event.OldReadBackDuration).
		Dur("new_read_back", event.NewReadBackDuration).
		Int("old_maximum_size", event.OldMaximumSize).
		Int("new_maximum_size", event.NewMaximumSize).
		Int64("burst_min", event.BurstMin.Millis()).
		Int64("burst_max", event.BurstMax.Millis()).
		Int("burst_count", event.BurstCount).
		Msg("gap miss reoptimization")
}

// GapMissCounter watches misses caused by backward scans over evicted data
// and grows the read-back duration and the values map capacity. It is not
// safe for concurrent use; the owning cache serializes calls.
type GapMissCounter struct {
	config GapMissConfig

	burstActive   bool
	burstCount    int
	burstMin      int64
	burstMax      int64
	maxSuccessive int
	grownInBurst  bool

	readBackDuration time.Duration
	maximumSize      int
	distances        *stats.DistanceStatistics

	onMaximumSizeChange func(int)
	sink                DiagnosticsSink
}

func NewGapMissCounter(config GapMissConfig, sink DiagnosticsSink) *GapMissCounter {
	if config.Threshold < 1 {
		config.Threshold = 1
	}
	if config.GrowthMultiplier < 1 {
		config.GrowthMultiplier = 1
	}
	if config.SampleSize < 1 {
		config.SampleSize = 1
	}
	return &GapMissCounter{
		config:           config,
		readBackDuration: config.InitialReadBackDuration,
		distances:        stats.NewDistanceStatistics(),
		sink:             sink,
	}
}

func (counter *GapMissCounter) SetOnMaximumSizeChange(callback func(int)) *GapMissCounter {
	counter.onMaximumSizeChange = callback
	return counter
}

// OnCapacityHint tells the counter the current values map capacity.
func (counter *GapMissCounter) OnCapacityHint(size int) {
	counter.maximumSize = size
}

func (counter *GapMissCounter) RecordElementDistance(previous, next TimeKey) {
	counter.distances.Record(previous.Millis(), next.Millis())
}

func (counter *GapMissCounter) OptimalReadBackDuration() time.Duration {
	return counter.readBackDuration
}

func (counter *GapMissCounter) OptimalMaximumSize() int {
	return counter.maximumSize
}

func (counter *GapMissCounter) MeanElementDistance() time.Duration {
	return time.Duration(counter.distances.MeanDistance() * float64(time.Millisecond))
}

// BurstRange returns the key range of the current burst.
func (counter *GapMissCounter) BurstRange() (TimeKey, TimeKey, bool) {
	if !counter.burstActive {
		return TimeKey{}, TimeKey{}, false
	}
	return NewTimeKey(counter.burstMin), NewTimeKey(counter.burstMax), true
}

// OnMiss records a cold load at key. A miss at or below the current burst
// minimum extends the burst; any other miss starts a new one.
func (counter *GapMissCounter) OnMiss(key TimeKey) {
	millis := key.Millis()
	if counter.burstActive && millis <= counter.burstMin {
		counter.burstCount++
		counter.burstMin = millis
	} else {
		counter.burstActive = true
		counter.burstCount = 1
		counter.burstMin = millis
		counter.burstMax = millis
		counter.grownInBurst = false
	}

	if counter.burstCount > counter.maxSuccessive {
		counter.maxSuccessive = counter.burstCount
	}
	if counter.burstCount >= counter.config.Threshold {
		counter.reoptimize()
	}
}

func (counter *GapMissCounter) meanDistanceMillis() float64 {
	if mean := counter.distances.MeanDistance(); mean > 0 {
		return mean
	}
	if counter.burstCount > 1 {
		return float64(counter.burstMax-counter.burstMin) / float64(counter.burstCount-1)
	}
	return 0
}

func (counter *GapMissCounter) reoptimize() {
	oldDuration := counter.readBackDuration
	oldSize := counter.maximumSize

	candidateMillis := counter.meanDistanceMillis() *
		float64(counter.config.SampleSize) * float64(counter.maxSuccessive)
	candidate := time.Duration(math.Min(candidateMillis*float64(time.Millisecond), math.MaxInt64))
	newDuration := oldDuration
	if candidate > newDuration {
		newDuration = candidate
	}
	if limit := counter.config.MaxFurtherValuesRange; limit > 0 && newDuration > limit {
		newDuration = limit / 2
	}
	counter.readBackDuration = newDuration

	if !counter.grownInBurst && oldSize > 0 {
		newSize := int(float64(oldSize) * counter.config.GrowthMultiplier)
		if limit := counter.config.MaximumSizeLimit; limit > 0 && newSize > limit {
			newSize = limit
		}
		counter.grownInBurst = true
		if newSize != oldSize {
			counter.maximumSize = newSize
			if counter.onMaximumSizeChange != nil {
				counter.onMaximumSizeChange(newSize)
			}
		}
	}

	if counter.sink != nil {
		counter.sink.OnReoptimization(ReoptimizationEvent{
			OldReadBackDuration: oldDuration,
			NewReadBackDuration: newDuration,
			OldMaximumSize:      oldSize,
			NewMaximumSize:      counter.maximumSize,
			BurstMin:            NewTimeKey(counter.burstMin),
			BurstMax:            NewTimeKey(counter.burstMax),
			BurstCount:          counter.burstCount,
		})
	}
}
