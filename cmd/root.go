package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"histcache/cmd/ema"
	"histcache/cmd/replay"
	"histcache/cmd/util"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "histcache",
		Short: "historical cache query engine",
		Long: fmt.Sprintf(`histcache (v%s)

Replays positional and recursive queries against a stored time series
through the historical cache and reports how the cache adapted.`, Version),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.InitConfig(cmd)
		},
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of histcache",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("histcache v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(replay.ReplayCmd)
	RootCmd.AddCommand(ema.EmaCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupStoreFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
