package replay

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"histcache/cmd/util"
)

var (
	ReplayCmd = &cobra.Command{
		Use:   "replay",
		Short: "Replay a scan over a series through a query core",
		Long: `Replay walks every stored timestamp of a series, forward or backward,
asking the query core for the entry --shift steps before it. Afterwards it
prints how the lookups were resolved and the read-back duration and values
map size the cache settled on.`,
		RunE: run,
	}
)

func init() {
	util.SetupSeriesFlags(ReplayCmd)

	key := "backward"
	ReplayCmd.Flags().Bool(key, false, util.WrapString("Scan from the newest timestamp to the oldest"))

	key = "shift"
	ReplayCmd.Flags().Int(key, 0, util.WrapString("Number of entries to step back from each scanned timestamp"))
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

	report, err := Replay(cmd.Context(), series, viper.GetBool("backward"), viper.GetInt("shift"))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "lookups:        %d (found %d)\n", report.Lookups, report.Found)
	fmt.Fprintf(out, "index hits:     %d\n", report.Stats.IndexHits)
	fmt.Fprintf(out, "search hits:    %d\n", report.Stats.SearchHits)
	fmt.Fprintf(out, "appends:        %d\n", report.Stats.Appends)
	fmt.Fprintf(out, "window misses:  %d\n", report.Stats.WindowMisses)
	fmt.Fprintf(out, "read-back:      %s\n", report.ReadBack)
	fmt.Fprintf(out, "maximum size:   %d\n", report.Size)
	fmt.Fprintf(out, "cached values:  %d\n", report.Cached)
	return nil
}
