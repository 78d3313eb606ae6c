package cmd

import (
	"github.com/ftahirops/xmem/ui"
	"github.com/spf13/cobra"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live full-screen view of usage, predictions and leaks",
		Long: `Refresh telemetry on the ui.refresh interval (5s by default) and show
per-app usage, predictions and leak trends. Press o to optimize now,
a for the memory analysis, q to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(opts, wireOptions{journal: true, silent: true})
			if err != nil {
				return err
			}
			defer a.Close()
			return ui.Run(a.engine, a.cfg.UI.Refresh, a.renderOptions(cmd.OutOrStdout()))
		},
	}
}
