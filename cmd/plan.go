package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/pwrsync/internal/install"
	"github.com/tanq16/pwrsync/internal/output"
	"github.com/tanq16/pwrsync/internal/planner"
	"github.com/tanq16/pwrsync/internal/utils"
)

func newPlanCmd() *cobra.Command {
	var branch string
	var target int
	var verify bool

	cmd := &cobra.Command{
		Use:   "plan [INSTALL_DIR] [--branch BRANCH] [--version N]",
		Short: "Show the patch plan for an install without applying it",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a := newApp()
			ctx, stop := signalContext()
			defer stop()

			plan, _, err := a.installer.Plan(ctx, install.Request{InstallDir: args[0], Branch: branch, Target: target})
			if err == nil && verify {
				plan, err = planner.Verify(ctx, plan, a.orchestrator, cfg.Limits.MaxDiffBytes)
			}
			if err != nil {
				output.PrintError(fmt.Sprintf("Cannot plan (%s): %v", utils.ErrorKind(err), err))
				os.Exit(1)
			}
			output.PrintHeader(fmt.Sprintf("%s plan v%d %s v%d from %s", plan.Strategy, plan.Installed, output.StyleSymbols["arrow"], plan.Target, plan.SourceID))
			for i, step := range plan.Steps {
				size := "size unchecked"
				if step.Size >= 0 && verify {
					size = utils.FormatBytes(uint64(step.Size))
				}
				fmt.Printf("  %s %s %s\n", output.FDetail(fmt.Sprintf("%d.", i+1)), step, output.FDebug(size))
				fmt.Printf("     %s\n", output.FDebug(step.URL))
			}
			if plan.Strategy == planner.NoOp {
				output.PrintSuccess("Already at target")
			}
		},
	}

	cmd.Flags().StringVarP(&branch, "branch", "b", "release", "Branch to plan for")
	cmd.Flags().IntVarP(&target, "version", "v", 0, "Target version (0 selects the latest)")
	cmd.Flags().BoolVar(&verify, "verify", false, "Check patch sizes against the differential size limit")
	return cmd
}
