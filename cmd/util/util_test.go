package util

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"histcache/core"
	"histcache/storage"
)

func TestWrapString(t *testing.T) {
	wrapped := WrapString(strings.Repeat("word ", 30))
	for _, line := range strings.Split(wrapped, "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "short text", WrapString("  short   text "))
}

func TestGetStoreConfig(t *testing.T) {
	defer viper.Reset()
	viper.Set("values-map", "ristretto")
	viper.Set("maximum-size", 64)
	viper.Set("max-window", 128)
	viper.Set("remember-null", false)
	viper.Set("max-further-range", "1h")

	config, err := GetStoreConfig()
	require.NoError(t, err)
	assert.Equal(t, core.Ristretto, config.ValuesMap)
	assert.Equal(t, 64, config.MaximumSize)
	assert.Equal(t, 128, config.MaxWindowSize)
	assert.False(t, config.RememberNullValues)
	assert.Equal(t, time.Hour, config.GapMiss.MaxFurtherValuesRange)

	viper.Set("values-map", "fifo")
	_, err = GetStoreConfig()
	assert.Error(t, err)
}

func TestAppendSynthetic(t *testing.T) {
	config := core.DefaultStoreConfig()
	config.ValuesMap = core.Unbounded
	db := core.NewWithBackend(storage.NewInMemoryBackend(), config)
	defer db.Close()

	series, err := db.OpenSeries(1)
	require.NoError(t, err)
	require.NoError(t, AppendSynthetic(series, syntheticEpoch, time.Minute, 10))

	index := series.Store().Index()
	assert.Equal(t, 10, index.Len())
	last, ok := index.Last()
	require.True(t, ok)
	assert.Equal(t, syntheticEpoch+9*time.Minute.Milliseconds(), last)

	entry, err := series.Cache().Get(context.Background(), core.NewTimeKey(last))
	require.NoError(t, err)
	assert.NotZero(t, entry.Value())
}
