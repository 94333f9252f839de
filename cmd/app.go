package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tanq16/pwrsync/internal/downloader"
	"github.com/tanq16/pwrsync/internal/install"
	"github.com/tanq16/pwrsync/internal/output"
	"github.com/tanq16/pwrsync/internal/patcher"
	"github.com/tanq16/pwrsync/internal/health"
	"github.com/tanq16/pwrsync/internal/utils"
	"github.com/tanq16/pwrsync/internal/versions"
)

// app is the object graph every command shares.
type app struct {
	registry     *versions.Registry
	orchestrator *downloader.Orchestrator
	butler       *patcher.Butler
	installer    *install.Installer
	checker      *health.Checker
}

func newApp() *app {
	client := utils.NewPwrHTTPClient(cfg.HTTPClientConfig())
	sources, err := cfg.BuildSources(client)
	if err != nil {
		output.PrintError(fmt.Sprintf("Error building sources: %v", err))
		os.Exit(1)
	}
	if len(sources) == 0 {
		output.PrintError("No sources enabled in config")
		os.Exit(1)
	}
	cache := versions.NewCache(cfg.Cache.VersionsTTL)
	registry := versions.NewRegistry(cache, sources...)

	var opts []downloader.Option
	if cfg.S3Profile != "" {
		opts = append(opts, downloader.WithS3Profile(cfg.S3Profile))
	}
	orchestrator := downloader.NewOrchestrator(client, cfg.RetryPolicy(), opts...)
	butler := patcher.NewButler(patcher.ButlerConfig{
		Dir:      cfg.ToolDir,
		BrothURL: cfg.Tool.BrothURL,
		Platform: platform(),
	}, orchestrator)
	installer := install.New(registry, orchestrator, butler, install.Options{
		Platform:     platform(),
		CacheDir:     cfg.CacheDir,
		MaxDiffBytes: cfg.Limits.MaxDiffBytes,
	})
	checker := health.NewChecker(client, cache, health.CheckerConfig{
		Platform: platform(),
		TTL:      cfg.Cache.SpeedTTL,
		Window:   cfg.Limits.SpeedWindowBytes,
	})
	return &app{
		registry:     registry,
		orchestrator: orchestrator,
		butler:       butler,
		installer:    installer,
		checker:      checker,
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func ensureCacheDir() {
	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		output.PrintError(fmt.Sprintf("Cannot create cache dir: %v", err))
		os.Exit(1)
	}
}
