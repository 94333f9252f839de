package progress

import (
	"fmt"
	"sync"
)

type Stage int

const (
	StagePreparing Stage = iota
	StageTool
	StageDownloading
	StageApplying
	StageFinalizing
	StageComplete
	StageFailed
	StageCancelled
)

func (s Stage) String() string {
	switch s {
	case StagePreparing:
		return "preparing"
	case StageTool:
		return "tool"
	case StageDownloading:
		return "downloading"
	case StageApplying:
		return "applying"
	case StageFinalizing:
		return "finalizing"
	case StageComplete:
		return "complete"
	case StageFailed:
		return "failed"
	case StageCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed || s == StageCancelled
}

// Macro bands of the overall 0-100 range.
const (
	ToolStart     = 0.0
	StepsStart    = 5.0
	ApplyStart    = 65.0
	FinalizeStart = 85.0
	End           = 100.0
)

// downloadShare is the part of each step band spent downloading; the rest is applying.
const downloadShare = (ApplyStart - StepsStart) / (FinalizeStart - StepsStart)

// State is one emission. Percent never decreases within a run.
type State struct {
	Stage           Stage
	Percent         float64
	Message         string
	Step            int // 1-based, 0 outside step stages
	Steps           int
	BytesDownloaded int64
	BytesTotal      int64
}

// Map converts a sub-stage percentage into the overall range. step is
// 0-based; the 5-85 span is shared equally by all steps, each split between
// its download and its apply.
func Map(stage Stage, step, steps int, pct float64) float64 {
	pct = clamp(pct, 0, 100) / 100
	steps = max(steps, 1)
	step = min(max(step, 0), steps-1)
	width := (FinalizeStart - StepsStart) / float64(steps)
	base := StepsStart + float64(step)*width
	switch stage {
	case StageTool:
		return ToolStart + (StepsStart-ToolStart)*pct
	case StageDownloading:
		return base + width*downloadShare*pct
	case StageApplying:
		return base + width*downloadShare + width*(1-downloadShare)*pct
	case StageFinalizing:
		return FinalizeStart + (End-FinalizeStart)*pct
	case StageComplete:
		return End
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

// Reporter turns sub-stage progress into a single State stream. The
// consumer must drain Updates until it is closed; sends block otherwise.
type Reporter struct {
	ch     chan State
	mu     sync.Mutex
	steps  int
	last   float64
	closed bool
}

func NewReporter(buffer int) *Reporter {
	return &Reporter{ch: make(chan State, max(buffer, 0)), steps: 1}
}

func (r *Reporter) Updates() <-chan State {
	return r.ch
}

func (r *Reporter) SetSteps(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = max(n, 1)
}

func (r *Reporter) Percent() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Reporter) emit(s State, percent float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	s.Percent = max(r.last, clamp(percent, 0, 100))
	r.last = s.Percent
	r.ch <- s
}

func (r *Reporter) Preparing(msg string) {
	r.emit(State{Stage: StagePreparing, Message: msg}, 0)
}

func (r *Reporter) Tool(pct float64, msg string) {
	r.emit(State{Stage: StageTool, Message: msg}, Map(StageTool, 0, 1, pct))
}

// Download reports step (0-based) download progress from byte counters.
func (r *Reporter) Download(step int, done, total int64, msg string) {
	pct := 0.0
	if total > 0 {
		pct = float64(done) / float64(total) * 100
	}
	r.mu.Lock()
	steps := r.steps
	r.mu.Unlock()
	r.emit(State{
		Stage:           StageDownloading,
		Message:         msg,
		Step:            step + 1,
		Steps:           steps,
		BytesDownloaded: done,
		BytesTotal:      total,
	}, Map(StageDownloading, step, steps, pct))
}

func (r *Reporter) Apply(step int, pct float64, msg string) {
	r.mu.Lock()
	steps := r.steps
	r.mu.Unlock()
	r.emit(State{Stage: StageApplying, Message: msg, Step: step + 1, Steps: steps}, Map(StageApplying, step, steps, pct))
}

func (r *Reporter) Finalize(pct float64, msg string) {
	r.emit(State{Stage: StageFinalizing, Message: msg}, Map(StageFinalizing, 0, 1, pct))
}

func (r *Reporter) Complete(msg string) {
	r.emit(State{Stage: StageComplete, Message: msg}, End)
}

// Fail and Cancel keep the percentage where the run stopped.
func (r *Reporter) Fail(err error) {
	r.emit(State{Stage: StageFailed, Message: err.Error()}, 0)
}

func (r *Reporter) Cancel(msg string) {
	r.emit(State{Stage: StageCancelled, Message: msg}, 0)
}

// Close ends the stream. Later emissions are dropped.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}

// Discard returns a Reporter that drops every emission.
func Discard() *Reporter {
	r := NewReporter(0)
	r.Close()
	return r
}
