package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/pwrsync/internal/output"
	"github.com/tanq16/pwrsync/internal/scheduler"
	"github.com/tanq16/pwrsync/internal/utils"
	"gopkg.in/yaml.v3"
)

type BatchFile struct {
	Installs []scheduler.Job `yaml:"installs"`
}

func newBatchCmd() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [--workers N]",
		Short: "Bring several install directories to their versions from a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				output.PrintError(fmt.Sprintf("Error reading YAML file: %v", err))
				os.Exit(1)
			}
			var batch BatchFile
			if err := yaml.Unmarshal(data, &batch); err != nil {
				output.PrintError(fmt.Sprintf("Error parsing YAML file: %v", err))
				os.Exit(1)
			}
			var jobs []scheduler.Job
			for _, job := range batch.Installs {
				if job.InstallDir == "" {
					output.PrintWarning("Skipping entry without dir")
					continue
				}
				jobs = append(jobs, job)
			}
			if len(jobs) == 0 {
				output.PrintError("No valid installs found in the batch file")
				os.Exit(1)
			}
			ensureCacheDir()
			a := newApp()
			ctx, stop := signalContext()
			defer stop()
			err = scheduler.Run(ctx, a.installer, jobs, workers, output.NewManager())
			a.registry.Cache().Close()
			if utils.IsCancelled(err) {
				os.Exit(130)
			}
			if err != nil {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 2, "Installs processed in parallel")
	return cmd
}
