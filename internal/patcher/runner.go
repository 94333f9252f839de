package patcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/tanq16/pwrsync/internal/marker"
	"github.com/tanq16/pwrsync/internal/planner"
	"github.com/tanq16/pwrsync/internal/progress"
	"github.com/tanq16/pwrsync/internal/utils"
)

type State int

const (
	Idle State = iota
	Preparing
	EnsureToolInstalled
	Downloading
	Applying
	StepComplete
	Complete
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case EnsureToolInstalled:
		return "ensure-tool"
	case Downloading:
		return "downloading"
	case Applying:
		return "applying"
	case StepComplete:
		return "step-complete"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Request struct {
	RunID      string
	Plan       planner.Plan
	InstallDir string
	CacheDir   string
}

// Result is the outcome of one run. Version is the installed version the
// marker reflects when the run ended.
type Result struct {
	State       State
	Version     int
	Applied     int
	Err         error
	Transitions []State
}

// Runner walks a plan through download and apply, advancing the marker
// after every applied step so a failed run can resume where it stopped.
type Runner struct {
	tool    Tool
	fetcher Fetcher
	markers marker.Store
	log     zerolog.Logger
}

func NewRunner(tool Tool, fetcher Fetcher, markers marker.Store) *Runner {
	return &Runner{tool: tool, fetcher: fetcher, markers: markers, log: utils.GetLogger("runner")}
}

type run struct {
	*Runner
	ctx    context.Context
	req    Request
	rep    *progress.Reporter
	result Result
	log    zerolog.Logger
}

// Run executes req.Plan, emitting progress on rep (nil discards it). It
// never returns an error directly; failures and cancellation are carried
// in Result.
func (r *Runner) Run(ctx context.Context, req Request, rep *progress.Reporter) Result {
	if rep == nil {
		rep = progress.Discard()
	}
	x := &run{
		Runner: r,
		ctx:    ctx,
		req:    req,
		rep:    rep,
		result: Result{State: Idle, Version: req.Plan.Installed, Transitions: []State{Idle}},
		log:    utils.RunLogger(r.log, req.RunID),
	}
	if err := x.execute(); err != nil {
		return x.finish(err)
	}
	return x.result
}

// transition moves to next unless the run has been cancelled.
func (x *run) transition(next State) error {
	if x.ctx.Err() != nil {
		return utils.Cancelled(x.ctx)
	}
	x.log.Debug().Str("op", "transition").Str("from", x.result.State.String()).Str("to", next.String()).Msg("State change")
	x.result.State = next
	x.result.Transitions = append(x.result.Transitions, next)
	return nil
}

func (x *run) execute() error {
	plan := x.req.Plan
	if err := x.transition(Preparing); err != nil {
		return err
	}
	x.rep.Preparing(fmt.Sprintf("Preparing %s update to v%d", plan.Strategy, plan.Target))
	if err := plan.Validate(); err != nil {
		return err
	}
	if plan.Strategy == planner.NoOp {
		x.log.Info().Str("op", "run").Int("installed", plan.Installed).Int("target", plan.Target).Msg("Already up to date")
		if err := x.transition(Complete); err != nil {
			return err
		}
		x.rep.Complete(fmt.Sprintf("Already at v%d", plan.Installed))
		return nil
	}

	if err := x.transition(EnsureToolInstalled); err != nil {
		return err
	}
	if _, err := x.tool.EnsureInstalled(x.ctx, func(pct float64, msg string) { x.rep.Tool(pct, msg) }); err != nil {
		return fmt.Errorf("error installing patch tool: %w", err)
	}
	x.rep.SetSteps(len(plan.Steps))

	for i, step := range plan.Steps {
		if err := x.runStep(i, step); err != nil {
			return err
		}
	}

	x.rep.Finalize(0, "Finalizing")
	if err := x.transition(Complete); err != nil {
		return err
	}
	x.rep.Finalize(100, "Finalizing")
	x.rep.Complete(fmt.Sprintf("Installed v%d", x.result.Version))
	x.log.Info().Str("op", "run").Int("version", x.result.Version).Int("applied", x.result.Applied).Msg("Run complete")
	return nil
}

func (x *run) runStep(i int, step planner.Step) error {
	plan := x.req.Plan
	label := fmt.Sprintf("patch %d/%d (v%d)", i+1, len(plan.Steps), step.To)
	if err := x.transition(Downloading); err != nil {
		return err
	}
	dest := filepath.Join(x.req.CacheDir, ArtifactName(plan.Branch, step))
	progressCh := make(chan utils.Progress, 16)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for p := range progressCh {
			x.rep.Download(i, p.Downloaded, p.Total, "Downloading "+label)
		}
	}()
	x.rep.Download(i, 0, step.Size, "Downloading "+label)
	path, err := x.fetcher.Fetch(x.ctx, step.URL, dest, progressCh)
	<-forwarded
	if err != nil {
		return fmt.Errorf("downloading %s: %w", step, err)
	}

	if err := x.transition(Applying); err != nil {
		x.cleanup(path)
		return err
	}
	x.rep.Apply(i, 0, "Applying "+label)
	err = x.tool.Apply(x.ctx, path, x.req.InstallDir, func(pct float64, msg string) {
		x.rep.Apply(i, pct, msg)
	})
	x.cleanup(path)
	if err != nil {
		var applyErr *utils.ToolApplyError
		if !errors.As(err, &applyErr) && !utils.IsCancelled(err) {
			err = &utils.ToolApplyError{Patch: step.String(), Err: err}
		}
		return err
	}

	if err := x.markers.Save(plan.Branch, step.To); err != nil {
		return fmt.Errorf("error saving installed version %d: %w", step.To, err)
	}
	x.result.Version = step.To
	x.result.Applied++
	x.log.Info().Str("op", "step").Str("step", step.String()).Msg("Patch applied")
	return x.transition(StepComplete)
}

// cleanup removes an applied or abandoned artifact. Failures only warn.
func (x *run) cleanup(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		x.log.Warn().Str("op", "cleanup").Str("path", path).Err(err).Msg("Could not delete artifact")
	}
}

// finish classifies err. Cancellation wins over any other failure.
func (x *run) finish(err error) Result {
	if x.ctx.Err() != nil || utils.IsCancelled(err) {
		x.result.State = Cancelled
		x.result.Transitions = append(x.result.Transitions, Cancelled)
		x.result.Err = utils.Cancelled(x.ctx)
		x.rep.Cancel("Cancelled")
		x.log.Warn().Str("op", "run").Int("version", x.result.Version).Msg("Run cancelled")
		return x.result
	}
	x.result.State = Failed
	x.result.Transitions = append(x.result.Transitions, Failed)
	x.result.Err = err
	x.rep.Fail(err)
	x.log.Error().Str("op", "run").Str("kind", utils.ErrorKind(err)).Int("version", x.result.Version).Err(err).Msg("Run failed")
	return x.result
}

// ArtifactName is the cache file name for a step.
func ArtifactName(branch string, step planner.Step) string {
	if step.From == 0 {
		return fmt.Sprintf("%s_%d%s", branch, step.To, utils.ArtifactExt)
	}
	return fmt.Sprintf("%s_patch_%d%s", branch, step.To, utils.ArtifactExt)
}
