package util

import (
	"math/rand"
	"time"

	"histcache/core"
)

const defaultSyntheticStep = time.Minute

// 2024-01-01T00:00:00Z
const syntheticEpoch int64 = 1704067200000

// AppendSynthetic appends count samples of a seeded random walk starting at
// start, one every step. The walk is the same for equal arguments.
func AppendSynthetic(series *core.Series, start int64, step time.Duration, count int) error {
	random := rand.New(rand.NewSource(start))
	value := 100.0
	for i := 0; i < count; i++ {
		value += random.NormFloat64()
		if err := series.Append(start+int64(i)*step.Milliseconds(), value); err != nil {
			return err
		}
	}
	return nil
}
