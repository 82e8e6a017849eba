package ema

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"histcache/core"
)

// EMA is an exponential moving average over a stored series. Every value
// depends on the previous one, so it is resolved through a RecursiveQuery.
type EMA struct {
	series *core.Series
	cache  *core.HistoricalCache[float64]
	query  *core.RecursiveQuery[float64]
	alpha  float64
	logger zerolog.Logger
}

// NewEMA builds the average. A nil unstable count selects the continuous
// strategy.
func NewEMA(series *core.Series, period, recursion int, unstable *int, config core.StoreConfig) (*EMA, error) {
	if period < 1 {
		return nil, fmt.Errorf("invalid ema period %d", period)
	}
	ema := &EMA{series: series, alpha: 2 / float64(period+1), logger: config.Logger}

	cache, err := core.NewHistoricalCache(fmt.Sprintf("ema-%d-%d", series.ID(), period), ema.load, series.Store().Calendar(), config)
	if err != nil {
		return nil, err
	}
	ema.cache = cache
	ema.query, err = cache.NewRecursiveQuery(core.RecursiveQueryConfig[float64]{
		RecursionCount:         recursion,
		UnstableRecursionCount: unstable,
		InitialValue:           ema.seed,
	})
	if err != nil {
		return nil, err
	}
	return ema, nil
}

func (ema *EMA) Cache() *core.HistoricalCache[float64] {
	return ema.cache
}

func (ema *EMA) Query() *core.RecursiveQuery[float64] {
	return ema.query
}

// seed starts a cut-off recursion at the raw price. load has already
// fetched that price into the series cache and reported any failure.
func (ema *EMA) seed(previousKey core.TimeKey) float64 {
	entry, err := ema.series.Cache().Get(context.Background(), previousKey)
	if err != nil {
		ema.logger.Error().Err(err).Str("key", previousKey.String()).Msg("seeding ema")
		return 0
	}
	if entry == nil {
		return 0
	}
	return entry.Value()
}

func (ema *EMA) load(ctx context.Context, key core.TimeKey) (*core.Entry[float64], error) {
	price, err := ema.series.Cache().Get(ctx, key)
	if err != nil || price == nil {
		return nil, err
	}

	previousKey, ok := ema.cache.Calendar().PreviousKey(price.Key())
	if !ok {
		return core.NewEntry(price.Key(), price.Value()), nil
	}
	// the recursion may be cut off here and seeded with this price
	if _, err := ema.series.Cache().Get(ctx, previousKey); err != nil {
		return nil, err
	}
	previous, err := ema.query.GetPreviousValue(ctx, price.Key(), previousKey)
	if err != nil {
		return nil, err
	}
	return core.NewEntry(price.Key(), ema.alpha*price.Value()+(1-ema.alpha)*previous), nil
}

// Tail returns the last count averages, oldest first.
func (ema *EMA) Tail(ctx context.Context, count int) ([]*core.Entry[float64], error) {
	last, ok := ema.series.Store().Index().Last()
	if !ok {
		return nil, nil
	}
	iter, err := ema.cache.NewQueryCore().GetPreviousEntries(ctx, core.NewTimeKey(last), count)
	if err != nil {
		return nil, err
	}
	return core.Collect(iter)
}
