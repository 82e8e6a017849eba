package core

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("histcache.core")
	meter  = otel.Meter("histcache.core")
)

var (
	cacheHits            metric.Int64Counter
	cacheMisses          metric.Int64Counter
	cacheEvictions       metric.Int64Counter
	cacheLoadErrors      metric.Int64Counter
	cacheLoadLatency     metric.Float64Histogram
	windowMisses         metric.Int64Counter
	gapReoptimizations   metric.Int64Counter
	highWaterEvictions   metric.Int64Counter
	initialValueFallback metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		counters := []struct {
			target      *metric.Int64Counter
			name        string
			description string
		}{
			{&cacheHits, "histcache_hits_total", "Total number of values map hits"},
			{&cacheMisses, "histcache_misses_total", "Total number of values map misses"},
			{&cacheEvictions, "histcache_evictions_total", "Total number of capacity evictions"},
			{&cacheLoadErrors, "histcache_load_errors_total", "Total number of failed loads"},
			{&windowMisses, "histcache_window_misses_total", "Total number of query core window misses"},
			{&gapReoptimizations, "histcache_gap_reoptimizations_total", "Total number of read-back reoptimizations"},
			{&highWaterEvictions, "histcache_high_water_evictions_total", "Keys evicted by an advancing high-water mark"},
			{&initialValueFallback, "histcache_initial_value_total", "Recursive lookups resolved by the initial value"},
		}
		for _, counter := range counters {
			var err error
			*counter.target, err = meter.Int64Counter(counter.name,
				metric.WithDescription(counter.description))
			if err != nil {
				metricsErr = err
				return
			}
		}

		var err error
		cacheLoadLatency, err = meter.Float64Histogram(
			"histcache_load_duration_seconds",
			metric.WithDescription("Duration of loader calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func addCounter(ctx context.Context, counter *metric.Int64Counter, n int64, cache string) {
	if err := initMetrics(); err != nil || n == 0 {
		return
	}
	(*counter).Add(ctx, n, metric.WithAttributes(attribute.String("cache", cache)))
}

func recordCacheHit(ctx context.Context, cache string) {
	addCounter(ctx, &cacheHits, 1, cache)
}

func recordCacheMiss(ctx context.Context, cache string) {
	addCounter(ctx, &cacheMisses, 1, cache)
}

func recordCacheEviction(ctx context.Context, cache string) {
	addCounter(ctx, &cacheEvictions, 1, cache)
}

func recordLoad(ctx context.Context, cache string, duration time.Duration, err error) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheLoadLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("cache", cache),
			attribute.Bool("error", err != nil),
		),
	)
	if err != nil {
		addCounter(ctx, &cacheLoadErrors, 1, cache)
	}
}

func recordWindowMiss(ctx context.Context, cache string) {
	addCounter(ctx, &windowMisses, 1, cache)
}

func recordReoptimization(ctx context.Context, cache string) {
	addCounter(ctx, &gapReoptimizations, 1, cache)
}

func recordHighWaterEvictions(ctx context.Context, cache string, n int) {
	addCounter(ctx, &highWaterEvictions, int64(n), cache)
}

func recordInitialValue(ctx context.Context, cache string) {
	addCounter(ctx, &initialValueFallback, 1, cache)
}

func startLoadSpan(ctx context.Context, cache string, key TimeKey) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ValuesMap.load",
		trace.WithAttributes(
			attribute.String("cache.name", cache),
			attribute.Int64("cache.key", key.Millis()),
		),
	)
}
