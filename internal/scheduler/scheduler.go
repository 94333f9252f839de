package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tanq16/pwrsync/internal/install"
	"github.com/tanq16/pwrsync/internal/output"
	"github.com/tanq16/pwrsync/internal/progress"
	"github.com/tanq16/pwrsync/internal/utils"
)

// Job is one install to bring to a version.
type Job struct {
	InstallDir string `yaml:"dir"`
	Branch     string `yaml:"branch,omitempty"`
	Version    int    `yaml:"version,omitempty"`
}

func (j Job) label() string {
	return fmt.Sprintf("%s (%s)", j.InstallDir, utils.NormalizeBranch(j.Branch))
}

// Ensurer is the part of the installer the scheduler drives.
type Ensurer interface {
	EnsureAtTarget(ctx context.Context, req install.Request, rep *progress.Reporter) (install.Outcome, error)
}

// Run executes jobs on numWorkers workers and returns every failure joined.
// Jobs for the same install dir are rejected by the installer, not queued.
func Run(ctx context.Context, ensurer Ensurer, jobs []Job, numWorkers int, outputMgr *output.Manager) error {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	log := utils.GetLogger("scheduler")
	outputMgr.StartDisplay()
	defer outputMgr.StopDisplay()

	jobCh := make(chan Job, len(jobs))
	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)

	var mu sync.Mutex
	var errs []error
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for job := range jobCh {
				if err := processJob(ctx, ensurer, job, outputMgr); err != nil {
					log.Debug().Str("op", "run").Int("worker", workerID).Str("install", job.InstallDir).Err(err).Msg("Job failed")
					mu.Lock()
					errs = append(errs, fmt.Errorf("%s: %w", job.InstallDir, err))
					mu.Unlock()
				}
			}
		}(i)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func processJob(ctx context.Context, ensurer Ensurer, job Job, outputMgr *output.Manager) error {
	funcID := outputMgr.Register(job.label())
	if ctx.Err() != nil {
		err := utils.Cancelled(ctx)
		outputMgr.ReportError(funcID, err)
		return err
	}
	rep := progress.NewReporter(64)
	tracked := make(chan struct{})
	go func() {
		defer close(tracked)
		outputMgr.Track(funcID, rep.Updates())
	}()
	_, err := ensurer.EnsureAtTarget(ctx, install.Request{
		InstallDir: job.InstallDir,
		Branch:     job.Branch,
		Target:     job.Version,
	}, rep)
	rep.Close()
	<-tracked
	if err != nil {
		outputMgr.ReportError(funcID, err)
	}
	return err
}
