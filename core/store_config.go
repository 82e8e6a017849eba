package core

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ValuesMapKind int

const (
	// BoundedLRU evicts the least recently used key.
	BoundedLRU ValuesMapKind = iota
	// BoundedLRA evicts the least recently added key.
	BoundedLRA
	// Ristretto is a bounded TinyLFU cache. Its size is approximate.
	Ristretto
	Unbounded
)

func (kind ValuesMapKind) String() string {
	switch kind {
	case BoundedLRU:
		return "lru"
	case BoundedLRA:
		return "lra"
	case Ristretto:
		return "ristretto"
	case Unbounded:
		return "unbounded"
	}
	return "unknown"
}

func ParseValuesMapKind(name string) (ValuesMapKind, bool) {
	for _, kind := range []ValuesMapKind{BoundedLRU, BoundedLRA, Ristretto, Unbounded} {
		if kind.String() == name {
			return kind, true
		}
	}
	return BoundedLRU, false
}

type StoreConfig struct {
	ValuesMap          ValuesMapKind
	MaximumSize        int
	RememberNullValues bool
	// MaxWindowSize bounds the entries a query core keeps for previous
	// lookups.
	MaxWindowSize int
	GapMiss       GapMissConfig

	Refresh     *RefreshManager
	Diagnostics DiagnosticsSink
	Logger      zerolog.Logger
}

func DefaultGapMissConfig() GapMissConfig {
	return GapMissConfig{
		Threshold:               2,
		GrowthMultiplier:        2,
		SampleSize:              10,
		InitialReadBackDuration: 0,
		MaxFurtherValuesRange:   0,
		MaximumSizeLimit:        1 << 20,
	}
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		ValuesMap:          BoundedLRU,
		MaximumSize:        1000,
		RememberNullValues: true,
		MaxWindowSize:      10000,
		GapMiss:            DefaultGapMissConfig(),
		Refresh:            DefaultRefreshManager,
		Logger:             log.Logger,
	}
}

// MaxFurtherValuesRange caps the read-back duration at half of d.
func (config StoreConfig) WithMaxFurtherValuesRange(d time.Duration) StoreConfig {
	config.GapMiss.MaxFurtherValuesRange = d
	return config
}
