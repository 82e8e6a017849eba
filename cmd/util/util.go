package util

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"histcache/core"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}
		currentLine.WriteString(word)
		lineWidth += len(word)
	}
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}
	return strings.Join(wrappedLines, "\n")
}

// SetupStoreFlags adds the cache tuning flags shared by all commands
func SetupStoreFlags(cmd *cobra.Command) {
	defaults := core.DefaultStoreConfig()

	key := "config"
	cmd.PersistentFlags().String(key, "", WrapString("Optional config file (yaml, toml or json) read before the environment"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("Log level (trace, debug, info, warn, error)"))

	key = "values-map"
	cmd.PersistentFlags().String(key, defaults.ValuesMap.String(), WrapString("Values map kind (lru, lra, ristretto, unbounded)"))

	key = "maximum-size"
	cmd.PersistentFlags().Int(key, defaults.MaximumSize, WrapString("Initial capacity of bounded values maps"))

	key = "max-window"
	cmd.PersistentFlags().Int(key, defaults.MaxWindowSize, WrapString("Maximum number of entries a query core keeps for previous lookups"))

	key = "remember-null"
	cmd.PersistentFlags().Bool(key, defaults.RememberNullValues, WrapString("Cache loads that found no value until the next refresh"))

	key = "max-further-range"
	cmd.PersistentFlags().Duration(key, 0, WrapString("When set, a read-back duration beyond this range is cut to half of it"))
}

// InitConfig loads env files, binds the flags of cmd and sets up logging.
// The format of the environment variables is HISTCACHE_<flag> (e.g.
// HISTCACHE_MAXIMUM_SIZE=5000)
func InitConfig(cmd *cobra.Command) error {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("histcache")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return InitLogger(viper.GetString("log-level"))
}

// InitLogger points the global logger at stderr
func InitLogger(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", level, err)
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	return nil
}

// GetStoreConfig reads the cache configuration from viper
func GetStoreConfig() (core.StoreConfig, error) {
	config := core.DefaultStoreConfig()

	kind, ok := core.ParseValuesMapKind(viper.GetString("values-map"))
	if !ok {
		return config, fmt.Errorf("invalid values map %s", viper.GetString("values-map"))
	}
	config.ValuesMap = kind
	config.MaximumSize = viper.GetInt("maximum-size")
	config.MaxWindowSize = viper.GetInt("max-window")
	config.RememberNullValues = viper.GetBool("remember-null")
	config.Logger = log.Logger
	config.Refresh = core.DefaultRefreshManager.SetLogger(log.Logger)
	return config.WithMaxFurtherValuesRange(viper.GetDuration("max-further-range")), nil
}

// SetupSeriesFlags adds the flags selecting the series a command reads
func SetupSeriesFlags(cmd *cobra.Command) {
	key := "db"
	cmd.Flags().String(key, "", WrapString("Badger directory of the series store; empty keeps everything in memory"))

	key = "series"
	cmd.Flags().Int64(key, 1, WrapString("Series id"))

	key = "synthetic"
	cmd.Flags().Int(key, 0, WrapString("Append this many synthetic samples to the series before running"))

	key = "step"
	cmd.Flags().Duration(key, 0, WrapString("Spacing of synthetic samples (default one minute)"))
}

// OpenSeries opens the configured store and series, appending synthetic
// samples when asked to.
func OpenSeries(config core.StoreConfig) (*core.DB, *core.Series, error) {
	db, err := core.New(viper.GetString("db"), config)
	if err != nil {
		return nil, nil, fmt.Errorf("opening series store: %w", err)
	}
	series, err := db.OpenSeries(viper.GetInt64("series"))
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	if count := viper.GetInt("synthetic"); count > 0 {
		step := viper.GetDuration("step")
		if step <= 0 {
			step = defaultSyntheticStep
		}
		start := syntheticEpoch
		if last, ok := series.Store().Index().Last(); ok {
			start = last + step.Milliseconds()
		}
		if err := AppendSynthetic(series, start, step, count); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return db, series, nil
}
