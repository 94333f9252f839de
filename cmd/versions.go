package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/pwrsync/internal/output"
	"github.com/tanq16/pwrsync/internal/utils"
	"github.com/tanq16/pwrsync/internal/versions"
)

func newVersionsCmd() *cobra.Command {
	var branch string
	var sourceID string
	var limit int

	cmd := &cobra.Command{
		Use:   "versions [--branch BRANCH] [--source ID]",
		Short: "List the versions each source offers",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a := newApp()
			ctx, stop := signalContext()
			defer stop()

			sources := a.registry.Sources()
			if sourceID != "" {
				src, ok := a.registry.Get(sourceID)
				if !ok {
					output.PrintError(fmt.Sprintf("Unknown source %q", sourceID))
					os.Exit(1)
				}
				sources = []versions.Source{src}
			}
			b := utils.NormalizeBranch(branch)
			var lists []versions.List
			for _, src := range sources {
				list, err := a.registry.Cache().List(ctx, src, platform(), b, versions.FreshOnly)
				if err != nil {
					if utils.IsCancelled(err) {
						os.Exit(130)
					}
					output.PrintWarning(fmt.Sprintf("%s: %v", src.ID(), err))
					continue
				}
				lists = append(lists, list)
			}
			fmt.Print(output.VersionsTable(lists, limit))
		},
	}

	cmd.Flags().StringVarP(&branch, "branch", "b", "release", "Branch to list")
	cmd.Flags().StringVarP(&sourceID, "source", "s", "", "Only list this source")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Versions shown per source (0 for all)")
	return cmd
}
