package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/tanq16/pwrsync/internal/utils"
	"github.com/tanq16/pwrsync/internal/versions"
	"golang.org/x/sync/errgroup"
)

type Strategy int

const (
	Full Strategy = iota
	Differential
	NoOp
)

func (s Strategy) String() string {
	switch s {
	case Full:
		return "full"
	case Differential:
		return "differential"
	case NoOp:
		return "noop"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Step is one (From, To) transition. From is 0 for a full artifact.
type Step struct {
	From int
	To   int
	URL  string
	Size int64 // filled by Verify, -1 when the server did not say
}

func (s Step) String() string {
	return fmt.Sprintf("%d -> %d", s.From, s.To)
}

type Plan struct {
	Strategy  Strategy
	Steps     []Step
	SourceID  string
	Branch    string
	Installed int
	Target    int
}

// Decide applies the strategy table: unknown installs and sources without
// deltas always take a full download; diff-capable sources patch forward.
func Decide(installed, target int, diffCapable bool) Strategy {
	switch {
	case installed <= 0:
		return Full
	case !diffCapable:
		return Full
	case installed >= target:
		return NoOp
	default:
		return Differential
	}
}

// Chain returns the contiguous transitions installed -> target.
func Chain(installed, target int) []Step {
	if installed <= 0 || target <= installed {
		return nil
	}
	steps := make([]Step, 0, target-installed)
	for v := installed; v < target; v++ {
		steps = append(steps, Step{From: v, To: v + 1})
	}
	return steps
}

// Build produces the plan for reaching target from installed on src,
// attaching artifact URLs to every step.
func Build(src versions.Source, platform utils.Platform, branch string, installed, target int) (Plan, error) {
	if target <= 0 {
		return Plan{}, fmt.Errorf("invalid target version %d", target)
	}
	branch = utils.NormalizeBranch(branch)
	plan := Plan{
		Strategy:  Decide(installed, target, src.DiffCapable(branch)),
		SourceID:  src.ID(),
		Branch:    branch,
		Installed: installed,
		Target:    target,
	}
	switch plan.Strategy {
	case Full:
		plan.Steps = []Step{{From: 0, To: target, URL: src.DownloadURL(platform, branch, target), Size: -1}}
	case Differential:
		plan.Steps = Chain(installed, target)
		for i := range plan.Steps {
			link, ok := src.DiffURL(platform, branch, plan.Steps[i].From, plan.Steps[i].To)
			if !ok {
				return Plan{}, fmt.Errorf("source %s cannot build a patch URL for %s", src.ID(), plan.Steps[i])
			}
			plan.Steps[i].URL = link
			plan.Steps[i].Size = -1
		}
	}
	logger := utils.GetLogger("planner")
	logger.Debug().Str("op", "planner/build").Str("source", src.ID()).Str("strategy", plan.Strategy.String()).
		Int("installed", installed).Int("target", target).Int("steps", len(plan.Steps)).Msg("Built plan")
	return plan, plan.Validate()
}

var errGap = errors.New("patch chain is not contiguous")

// Validate checks the step shape for the plan's strategy.
func (p Plan) Validate() error {
	switch p.Strategy {
	case NoOp:
		if len(p.Steps) != 0 {
			return fmt.Errorf("noop plan carries %d steps", len(p.Steps))
		}
	case Full:
		if len(p.Steps) != 1 || p.Steps[0].From != 0 {
			return fmt.Errorf("full plan must be a single step from 0")
		}
	case Differential:
		if len(p.Steps) == 0 {
			return fmt.Errorf("differential plan has no steps")
		}
		if p.Steps[0].From != p.Installed || p.Steps[len(p.Steps)-1].To != p.Target {
			return fmt.Errorf("%w: chain does not span %d -> %d", errGap, p.Installed, p.Target)
		}
		for i, s := range p.Steps {
			if s.To != s.From+1 {
				return fmt.Errorf("%w: step %s", errGap, s)
			}
			if i > 0 && p.Steps[i-1].To != s.From {
				return fmt.Errorf("%w: %s then %s", errGap, p.Steps[i-1], s)
			}
		}
	}
	return nil
}

// Sizer reports the byte size of an artifact without downloading it.
type Sizer interface {
	Size(ctx context.Context, url string) (int64, error)
}

// Verify sizes every differential step and rejects the plan when an
// artifact is larger than limit. Full and noop plans pass through.
func Verify(ctx context.Context, plan Plan, sizer Sizer, limit int64) (Plan, error) {
	if plan.Strategy != Differential {
		return plan, nil
	}
	if limit <= 0 {
		limit = utils.MaxDiffBytes
	}
	steps := make([]Step, len(plan.Steps))
	copy(steps, plan.Steps)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range steps {
		i := i
		g.Go(func() error {
			size, err := sizer.Size(gctx, steps[i].URL)
			if err != nil {
				return fmt.Errorf("checking %s: %w", steps[i], err)
			}
			if size > limit {
				return &utils.SizePolicyViolation{URL: steps[i].URL, Size: size, Limit: limit}
			}
			steps[i].Size = size
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return plan, utils.Cancelled(ctx)
		}
		logger := utils.GetLogger("planner")
		logger.Warn().Str("op", "planner/verify").Err(err).Msg("Rejecting differential plan")
		return plan, err
	}
	plan.Steps = steps
	return plan, nil
}
