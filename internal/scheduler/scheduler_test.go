package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/tanq16/pwrsync/internal/install"
	"github.com/tanq16/pwrsync/internal/output"
	"github.com/tanq16/pwrsync/internal/progress"
	"github.com/tanq16/pwrsync/internal/utils"
)

type fakeEnsurer struct {
	mu   sync.Mutex
	seen []install.Request
	fail map[string]error
}

func (f *fakeEnsurer) EnsureAtTarget(_ context.Context, req install.Request, rep *progress.Reporter) (install.Outcome, error) {
	f.mu.Lock()
	f.seen = append(f.seen, req)
	err := f.fail[req.InstallDir]
	f.mu.Unlock()
	rep.Preparing("Resolving versions")
	if err != nil {
		rep.Fail(err)
		return install.Outcome{}, err
	}
	rep.Complete("done")
	return install.Outcome{}, nil
}

func TestRunProcessesAllJobs(t *testing.T) {
	ensurer := &fakeEnsurer{}
	var buf bytes.Buffer
	jobs := []Job{
		{InstallDir: "a", Branch: "release", Version: 3},
		{InstallDir: "b", Branch: "beta"},
		{InstallDir: "c"},
	}
	if err := Run(context.Background(), ensurer, jobs, 2, output.NewPlainManager(&buf)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ensurer.seen) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(ensurer.seen))
	}
	if !strings.Contains(buf.String(), "Completed 3 of 3") {
		t.Errorf("summary missing:\n%s", buf.String())
	}
}

func TestRunJoinsFailures(t *testing.T) {
	boom := errors.New("boom")
	ensurer := &fakeEnsurer{fail: map[string]error{"b": boom}}
	var buf bytes.Buffer
	err := Run(context.Background(), ensurer, []Job{{InstallDir: "a"}, {InstallDir: "b"}}, 1, output.NewPlainManager(&buf))
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined failure, got %v", err)
	}
	if !strings.Contains(buf.String(), "Failed 1 of 2") {
		t.Errorf("summary missing failure:\n%s", buf.String())
	}
}

func TestRunSkipsJobsAfterCancel(t *testing.T) {
	ensurer := &fakeEnsurer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, ensurer, []Job{{InstallDir: "a"}, {InstallDir: "b"}}, 2, output.NewPlainManager(&bytes.Buffer{}))
	if !utils.IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(ensurer.seen) != 0 {
		t.Errorf("no job should start after cancel, got %d", len(ensurer.seen))
	}
}
