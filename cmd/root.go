package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/pwrsync/internal/config"
	"github.com/tanq16/pwrsync/internal/output"
	"github.com/tanq16/pwrsync/internal/utils"
)

var (
	configPath string
	debug      bool
	logFile    string
	targetOS   string
	targetArch string
	headers    []string

	cfg config.Config
)

var PwrsyncVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "pwrsync",
	Short:   "pwrsync keeps a game install at a chosen version using official and mirror patch servers",
	Version: PwrsyncVersion,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := utils.LogConfig{Debug: debug}
		if logFile != "" {
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				output.PrintError(fmt.Sprintf("Cannot open log file: %v", err))
				os.Exit(1)
			}
			logCfg.File = f
		}
		utils.InitLogger(logCfg)
		loaded, err := config.Load(configPath)
		if err != nil {
			output.PrintError(fmt.Sprintf("Error loading config: %v", err))
			os.Exit(1)
		}
		if len(headers) > 0 {
			if loaded.HTTP.Headers == nil {
				loaded.HTTP.Headers = make(map[string]string)
			}
			for k, v := range utils.ParseHeaderArgs(headers) {
				loaded.HTTP.Headers[k] = v
			}
		}
		cfg = loaded
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func platform() utils.Platform {
	p := utils.CurrentPlatform()
	if targetOS != "" {
		p.OS = targetOS
	}
	if targetArch != "" {
		p.Arch = targetArch
	}
	return p
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (defaults to the user config dir)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file; stderr then only shows warnings and errors")
	rootCmd.PersistentFlags().StringVar(&targetOS, "os", "", "Override the target OS (windows, linux, darwin)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Extra request header ('Name: value'); can be specified multiple times")
	rootCmd.PersistentFlags().StringVar(&targetArch, "arch", "", "Override the target architecture (amd64, arm64)")

	rootCmd.AddCommand(newEnsureCmd())
	rootCmd.AddCommand(newVersionsCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newSpeedCmd())
	rootCmd.AddCommand(newToolCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCleanCmd())
}
