package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/x/term"
	"github.com/ftahirops/xmem/ui"
	"github.com/spf13/cobra"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Read telemetry once and show usage, predictions and leak trends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(opts, wireOptions{quiet: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.Refresh(cmd.Context()); err != nil {
				return err
			}
			st := a.engine.Status()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), ui.RenderStatus(st, a.renderOptions(cmd.OutOrStdout())))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	return cmd
}

func (a *app) renderOptions(out io.Writer) ui.RenderOptions {
	return ui.RenderOptions{
		Width:         terminalWidth(out),
		LeakThreshold: a.cfg.Leak.Threshold,
		TriggerFactor: a.cfg.Allocator.TriggerFactor,
	}
}

// terminalWidth returns out's width when it is a terminal, else 100.
func terminalWidth(out io.Writer) int {
	if f, ok := out.(interface{ Fd() uintptr }); ok {
		if w, _, err := term.GetSize(f.Fd()); err == nil && w > 0 {
			return w
		}
	}
	return 100
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
