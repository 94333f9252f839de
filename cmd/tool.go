package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/pwrsync/internal/output"
)

func newToolCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Install the patch tool if it is missing and print its path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a := newApp()
			if check {
				if !a.butler.Installed() {
					output.PrintWarning("Patch tool is not installed")
					os.Exit(1)
				}
				output.PrintSuccess("Patch tool is installed")
				return
			}
			ensureCacheDir()
			ctx, stop := signalContext()
			defer stop()

			path, err := a.butler.EnsureInstalled(ctx, func(pct float64, msg string) {
				if !output.IsTerminal() {
					return
				}
				fmt.Printf("\r  %s%s", output.ProgressBar(pct, 30), output.FDebug(msg))
			})
			if output.IsTerminal() {
				fmt.Println()
			}
			if err != nil {
				output.PrintError(fmt.Sprintf("Cannot install patch tool: %v", err))
				os.Exit(1)
			}
			output.PrintSuccess(path)
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Only report whether the tool is present")
	return cmd
}
