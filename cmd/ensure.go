package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/pwrsync/internal/install"
	"github.com/tanq16/pwrsync/internal/output"
	"github.com/tanq16/pwrsync/internal/progress"
	"github.com/tanq16/pwrsync/internal/utils"
	"github.com/tanq16/pwrsync/internal/versions"
)

func newEnsureCmd() *cobra.Command {
	var branch string
	var target int
	var staleOK bool

	cmd := &cobra.Command{
		Use:   "ensure [INSTALL_DIR] [--branch BRANCH] [--version N]",
		Short: "Bring an install directory to the target version",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			installDir := args[0]
			ensureCacheDir()
			a := newApp()
			ctx, stop := signalContext()
			defer stop()

			mode := versions.FreshOnly
			if staleOK {
				mode = versions.StaleOK
			}
			rep := progress.NewReporter(64)
			manager := output.NewManager()
			id := manager.Register(fmt.Sprintf("%s (%s)", installDir, utils.NormalizeBranch(branch)))
			manager.StartDisplay()
			tracked := make(chan progress.State, 1)
			go func() {
				tracked <- manager.Track(id, rep.Updates())
			}()

			out, err := a.installer.EnsureAtTarget(ctx, install.Request{
				InstallDir: installDir,
				Branch:     branch,
				Target:     target,
				Mode:       mode,
			}, rep)
			rep.Close()
			<-tracked
			if err != nil {
				manager.ReportError(id, err)
			}
			manager.StopDisplay()
			a.registry.Cache().Close()

			switch {
			case err == nil:
				output.PrintSuccess(fmt.Sprintf("%s is at v%d (%s via %s)", installDir, out.Plan.Target, out.Plan.Strategy, out.SourceID))
			case utils.IsCancelled(err):
				output.PrintWarning(fmt.Sprintf("Cancelled; install left at v%d", out.Result.Version))
				os.Exit(130)
			default:
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&branch, "branch", "b", "release", "Branch to install (release, pre-release)")
	cmd.Flags().IntVarP(&target, "version", "v", 0, "Target version (0 selects the latest)")
	cmd.Flags().BoolVar(&staleOK, "stale-ok", false, "Accept a stale version list and refresh it in the background")
	return cmd
}
