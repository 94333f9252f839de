package patcher

import (
	"context"

	"github.com/tanq16/pwrsync/internal/utils"
)

// ProgressFunc receives 0-100 sub-progress from a tool operation.
type ProgressFunc func(pct float64, msg string)

// Tool is the external patch applier.
type Tool interface {
	EnsureInstalled(ctx context.Context, onProgress ProgressFunc) (string, error)
	Apply(ctx context.Context, patchPath, installDir string, onProgress ProgressFunc) error
}

// Fetcher downloads an artifact to dest; see downloader.Orchestrator.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string, progressCh chan<- utils.Progress) (string, error)
}
