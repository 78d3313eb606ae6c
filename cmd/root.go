package cmd

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "0.1.0"

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	debug      bool
	recordPath string
	replayPath string
}

// Execute runs the xmem command line.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "xmem",
		Short: "Predictive memory manager for Linux hosts",
		Long: `xmem learns when each application needs memory, predicts demand for the
current hour of the week, watches for leaking apps and runs a staged
optimization pipeline (trim, caches, compression, balancing, defragmentation)
before memory runs out.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/xmem/config.toml)")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flags.StringVar(&opts.recordPath, "record", "", "record telemetry to FILE while running")
	flags.StringVar(&opts.replayPath, "replay", "", "read telemetry from a recorded FILE instead of /proc")
	rootCmd.MarkFlagsMutuallyExclusive("record", "replay")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newOptimizeCmd(opts),
		newAnalyzeCmd(opts),
		newPrioritizeCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}
