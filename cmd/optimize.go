package cmd

import (
	"errors"
	"fmt"

	"github.com/ftahirops/xmem/engine"
	"github.com/ftahirops/xmem/ui"
	"github.com/spf13/cobra"
)

func newOptimizeCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run the optimization pipeline once, now",
		Long: `Read telemetry once and run every pipeline stage immediately. Stages whose
free-memory predicate is not met are skipped and reported. With the default
"log" effector nothing on the host is changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(opts, wireOptions{journal: true, quiet: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.Refresh(cmd.Context()); err != nil {
				return err
			}
			rep, err := a.engine.RunOptimizationNow(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), ui.RenderReport(rep, a.renderOptions(cmd.OutOrStdout())))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the pipeline report as JSON")
	return cmd
}

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	var (
		asJSON bool
		top    int
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Break memory usage down by app and list the largest consumers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(opts, wireOptions{quiet: true, topConsumers: top})
			if err != nil {
				return err
			}
			defer a.Close()

			an, err := a.engine.Analyze(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), an)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), ui.RenderAnalysis(an, a.renderOptions(cmd.OutOrStdout())))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the analysis as JSON")
	cmd.Flags().IntVar(&top, "top", engine.DefaultTopConsumers, "number of largest consumers to list")
	return cmd
}

func newPrioritizeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prioritize APP",
		Short: "Raise an app's scheduling priority and lift its memory limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := wireApp(opts, wireOptions{quiet: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.PrioritizeApp(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, engine.ErrUnsupported) {
					return fmt.Errorf("%w (set effector.mode = %q)", err, "system")
				}
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "prioritized %s\n", args[0])
			return err
		},
	}
}
