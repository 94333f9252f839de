package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/pwrsync/internal/output"
	"github.com/tanq16/pwrsync/internal/utils"
)

func newSpeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "speed",
		Short: "Measure latency and throughput of every configured source",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a := newApp()
			ctx, stop := signalContext()
			defer stop()

			results, err := a.checker.CheckAll(ctx, a.registry.Sources())
			if err != nil {
				output.PrintWarning(fmt.Sprintf("Speed check aborted (%s)", utils.ErrorKind(err)))
				os.Exit(130)
			}
			fmt.Print(output.SpeedTable(results))
		},
	}
}
