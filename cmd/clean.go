package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/pwrsync/internal/output"
	"github.com/tanq16/pwrsync/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [DIR]",
		Short: "Remove partial downloads left in the cache dir (or DIR)",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dir := cfg.CacheDir
			if len(args) == 1 {
				dir = args[0]
			}
			n, err := utils.CleanPartials(dir)
			if err != nil {
				output.PrintError(fmt.Sprintf("Error cleaning up partial files: %v", err))
				os.Exit(1)
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d partial file(s) from %s", n, dir))
		},
	}
}
