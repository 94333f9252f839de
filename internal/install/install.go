package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tanq16/pwrsync/internal/marker"
	"github.com/tanq16/pwrsync/internal/patcher"
	"github.com/tanq16/pwrsync/internal/planner"
	"github.com/tanq16/pwrsync/internal/progress"
	"github.com/tanq16/pwrsync/internal/utils"
	"github.com/tanq16/pwrsync/internal/versions"
)

// Transfer downloads artifacts and reports their sizes.
type Transfer interface {
	patcher.Fetcher
	planner.Sizer
}

type Options struct {
	Platform     utils.Platform
	CacheDir     string
	MaxDiffBytes int64
	Markers      func(installDir string) marker.Store
}

type Request struct {
	InstallDir string
	Branch     string
	Target     int // 0 selects the newest version the resolved source offers
	Mode       versions.Mode
}

type Outcome struct {
	RunID    string
	SourceID string
	Plan     planner.Plan
	Result   patcher.Result
}

// Installer brings one install directory to a target version. Only one run
// may be active per directory; different directories run independently.
type Installer struct {
	registry *versions.Registry
	transfer Transfer
	tool     patcher.Tool
	opts     Options
	log      zerolog.Logger

	mu     sync.Mutex
	active map[string]string
}

func New(registry *versions.Registry, transfer Transfer, tool patcher.Tool, opts Options) *Installer {
	if opts.Platform.OS == "" {
		opts.Platform = utils.CurrentPlatform()
	}
	if opts.MaxDiffBytes <= 0 {
		opts.MaxDiffBytes = utils.MaxDiffBytes
	}
	if opts.Markers == nil {
		opts.Markers = func(dir string) marker.Store { return marker.ForInstall(dir) }
	}
	return &Installer{
		registry: registry,
		transfer: transfer,
		tool:     tool,
		opts:     opts,
		log:      utils.GetLogger("installer"),
		active:   make(map[string]string),
	}
}

func slotKey(installDir string) string {
	if abs, err := filepath.Abs(installDir); err == nil {
		return abs
	}
	return filepath.Clean(installDir)
}

func (i *Installer) acquire(installDir, runID string) (func(), error) {
	key := slotKey(installDir)
	i.mu.Lock()
	defer i.mu.Unlock()
	if owner, busy := i.active[key]; busy {
		return nil, fmt.Errorf("%w: %s (run %s)", utils.ErrSlotBusy, installDir, owner)
	}
	i.active[key] = runID
	return func() {
		i.mu.Lock()
		delete(i.active, key)
		i.mu.Unlock()
	}, nil
}

// Plan resolves the authoritative source and builds the plan for req
// without touching the install. A version inferred from a butler receipt
// is used for the plan but not recorded.
func (i *Installer) Plan(ctx context.Context, req Request) (planner.Plan, versions.Source, error) {
	plan, src, _, err := i.plan(ctx, req)
	return plan, src, err
}

// plan also reports the installed version it inferred, 0 when the marker
// already had one.
func (i *Installer) plan(ctx context.Context, req Request) (planner.Plan, versions.Source, int, error) {
	branch := utils.NormalizeBranch(req.Branch)
	src, list, err := i.registry.Resolve(ctx, i.opts.Platform, branch, req.Mode)
	if err != nil {
		return planner.Plan{}, nil, 0, err
	}
	target := req.Target
	if target <= 0 {
		latest, _ := list.Latest()
		target = latest.Version
	} else if _, ok := list.Find(target); !ok {
		return planner.Plan{}, src, 0, fmt.Errorf("%w: v%d on %s (%s)", utils.ErrNoVersion, target, src.ID(), branch)
	}
	installed, err := i.opts.Markers(req.InstallDir).Load(branch)
	if err != nil {
		return planner.Plan{}, src, 0, err
	}
	detected := 0
	if installed == 0 {
		if detected = DetectInstalled(req.InstallDir, i.opts.CacheDir, branch); detected > 0 {
			i.log.Info().Str("op", "plan").Int("version", detected).Msg("Detected installed version from cached artifacts")
			installed = detected
		}
	}
	plan, err := planner.Build(src, i.opts.Platform, branch, installed, target)
	return plan, src, detected, err
}

// EnsureAtTarget runs resolve, plan, verify and apply for req. Progress goes
// to rep, which the caller drains and closes.
func (i *Installer) EnsureAtTarget(ctx context.Context, req Request, rep *progress.Reporter) (Outcome, error) {
	if rep == nil {
		rep = progress.Discard()
	}
	out := Outcome{RunID: uuid.NewString()}
	release, err := i.acquire(req.InstallDir, out.RunID)
	if err != nil {
		return out, err
	}
	defer release()
	log := utils.RunLogger(i.log, out.RunID)
	log.Info().Str("op", "ensure").Str("install", req.InstallDir).Str("branch", req.Branch).Int("target", req.Target).Msg("Starting run")

	fail := func(err error) (Outcome, error) {
		if utils.IsCancelled(err) || ctx.Err() != nil {
			rep.Cancel("Cancelled")
			return out, utils.Cancelled(ctx)
		}
		rep.Fail(err)
		log.Error().Str("op", "ensure").Str("kind", utils.ErrorKind(err)).Err(err).Msg("Run aborted before patching")
		return out, err
	}

	rep.Preparing("Resolving versions")
	plan, src, detected, err := i.plan(ctx, req)
	if src != nil {
		out.SourceID = src.ID()
	}
	if err != nil {
		return fail(err)
	}
	out.Plan = plan
	if detected > 0 {
		if err := i.opts.Markers(req.InstallDir).Save(plan.Branch, detected); err != nil {
			log.Warn().Str("op", "ensure").Err(err).Msg("Could not record detected version")
		}
	}
	log.Info().Str("op", "ensure").Str("source", out.SourceID).Str("strategy", plan.Strategy.String()).
		Int("installed", plan.Installed).Int("target", plan.Target).Msg("Plan ready")

	plan, err = planner.Verify(ctx, plan, i.transfer, i.opts.MaxDiffBytes)
	if err != nil {
		return fail(err)
	}
	out.Plan = plan

	runner := patcher.NewRunner(i.tool, i.transfer, i.opts.Markers(req.InstallDir))
	out.Result = runner.Run(ctx, patcher.Request{
		RunID:      out.RunID,
		Plan:       plan,
		InstallDir: req.InstallDir,
		CacheDir:   i.opts.CacheDir,
	}, rep)
	return out, out.Result.Err
}

// Active reports the run holding installDir, if any.
func (i *Installer) Active(installDir string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	id, ok := i.active[slotKey(installDir)]
	return id, ok
}

var receiptPath = filepath.Join(".itch", "receipt.json.gz")

// DetectInstalled guesses the installed version of an install that has a
// butler receipt but no marker, from artifacts left in cacheDir. It returns
// 0 when nothing can be inferred.
func DetectInstalled(installDir, cacheDir, branch string) int {
	if _, err := os.Stat(filepath.Join(installDir, receiptPath)); err != nil {
		return 0
	}
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return 0
	}
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(branch) + `_(?:patch_)?(\d+)` + regexp.QuoteMeta(utils.ArtifactExt) + `$`)
	best := 0
	for _, e := range entries {
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if v, err := strconv.Atoi(m[1]); err == nil && v > best {
			best = v
		}
	}
	return best
}

// IsSlotBusy reports whether err came from an overlapping run.
func IsSlotBusy(err error) bool {
	return errors.Is(err, utils.ErrSlotBusy)
}
