package ema

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"histcache/cmd/util"
)

var (
	EmaCmd = &cobra.Command{
		Use:   "ema",
		Short: "Print the tail of an exponential moving average over a series",
		Long: `Computes an exponential moving average over the series through a
recursive query. At most --recursion steps (plus --unstable steps for the
unstable strategy) are computed per cold lookup; older history is replaced
by the raw price.`,
		RunE: run,
	}
)

func init() {
	util.SetupSeriesFlags(EmaCmd)

	key := "period"
	EmaCmd.Flags().Int(key, 10, util.WrapString("EMA period"))

	key = "recursion"
	EmaCmd.Flags().Int(key, 20, util.WrapString("Number of steps computed per cold lookup"))

	key = "unstable"
	EmaCmd.Flags().Int(key, -1, util.WrapString("Additional steps for the unstable strategy; negative selects the continuous strategy"))

	key = "tail"
	EmaCmd.Flags().Int(key, 5, util.WrapString("Number of values to print"))
}

func run(cmd *cobra.Command, _ []string) error {
	config, err := util.GetStoreConfig()
	if err != nil {
		return err
	}
	db, series, err := util.OpenSeries(config)
	if err != nil {
		return err
	}
	defer db.Close()

	var unstable *int
	if count := viper.GetInt("unstable"); count >= 0 {
		unstable = &count
	}
	ema, err := NewEMA(series, viper.GetInt("period"), viper.GetInt("recursion"), unstable, config)
	if err != nil {
		return err
	}
	defer ema.Cache().Close()

	tail, err := ema.Tail(cmd.Context(), viper.GetInt("tail"))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "strategy: %s\n", ema.Query().Strategy())
	for _, entry := range tail {
		fmt.Fprintf(out, "%s  %.4f\n", entry.Key().Time().UTC().Format("2006-01-02T15:04:05Z"), entry.Value())
	}
	return nil
}
