package patcher

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/tanq16/pwrsync/internal/utils"
)

func TestProcessStream(t *testing.T) {
	b := NewButler(ButlerConfig{Dir: t.TempDir()}, nil)
	input := strings.Join([]string{
		`{"type":"log","level":"info","message":"patching"}`,
		`{"type":"progress","progress":0.25,"eta":10}`,
		`not json`,
		`{"type":"progress","progress":0.75}`,
		`{"type":"error","message":"signature mismatch"}`,
	}, "\n")
	var seen []float64
	last := b.processStream(strings.NewReader(input), func(pct float64, _ string) { seen = append(seen, pct) })
	if len(seen) != 2 || seen[0] != 25 || seen[1] != 75 {
		t.Errorf("progress = %v", seen)
	}
	if last != "signature mismatch" {
		t.Errorf("last error = %q", last)
	}
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(body))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
}

type zipFetcher struct {
	files map[string]string
	t     *testing.T
	calls int
}

func (z *zipFetcher) Fetch(_ context.Context, url, dest string, progressCh chan<- utils.Progress) (string, error) {
	defer close(progressCh)
	z.calls++
	if !strings.Contains(url, "linux-amd64") {
		z.t.Errorf("unexpected broth url %s", url)
	}
	writeZip(z.t, dest, z.files)
	progressCh <- utils.Progress{Downloaded: 10, Total: 10}
	return dest, nil
}

func TestEnsureInstalledDownloadsAndExtracts(t *testing.T) {
	dir := t.TempDir()
	fetcher := &zipFetcher{t: t, files: map[string]string{"butler": "#!/bin/sh\n", "7z.so": "lib"}}
	b := NewButler(ButlerConfig{Dir: dir, Platform: utils.Platform{OS: "linux", Arch: "amd64"}}, fetcher)
	t.Setenv("PATH", t.TempDir())

	var last float64
	path, err := b.EnsureInstalled(context.Background(), func(pct float64, _ string) { last = pct })
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "butler") || last != 100 {
		t.Errorf("path = %s, last progress = %v", path, last)
	}
	info, err := os.Stat(path)
	if err != nil || info.Mode().Perm()&0100 == 0 {
		t.Errorf("butler should be executable: %v %v", info, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "butler.zip")); !errors.Is(err, os.ErrNotExist) {
		t.Error("archive should be removed after extraction")
	}
	if _, err := b.EnsureInstalled(context.Background(), nil); err != nil || fetcher.calls != 1 {
		t.Errorf("second ensure should reuse the binary: calls=%d err=%v", fetcher.calls, err)
	}
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	writeZip(t, archive, map[string]string{"../escape": "x"})
	if err := extractZip(archive, filepath.Join(dir, "out")); !errors.Is(err, errZipSlip) {
		t.Errorf("expected zip slip error, got %v", err)
	}
}

func fakeButler(t *testing.T, script string) *Butler {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in for butler")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "butler"), []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return NewButler(ButlerConfig{Dir: dir, Platform: utils.Platform{OS: runtime.GOOS, Arch: "amd64"}}, nil)
}

func TestButlerApply(t *testing.T) {
	b := fakeButler(t, `[ "$1" = "apply" ] || exit 3
echo '{"type":"progress","progress":0.5}'
echo '{"type":"progress","progress":1}'
`)
	var seen []float64
	err := b.Apply(context.Background(), filepath.Join(t.TempDir(), "p.pwr"), t.TempDir(), func(pct float64, _ string) {
		seen = append(seen, pct)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 || seen[0] != 50 || seen[2] != 100 {
		t.Errorf("progress = %v", seen)
	}
	entries, _ := os.ReadDir(b.cfg.Dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "staging-") {
			t.Errorf("staging directory %s left behind", e.Name())
		}
	}
}

func TestButlerApplyFailure(t *testing.T) {
	b := fakeButler(t, `echo '{"type":"error","message":"corrupt patch"}'
exit 1
`)
	err := b.Apply(context.Background(), "p.pwr", t.TempDir(), nil)
	var applyErr *utils.ToolApplyError
	if !errors.As(err, &applyErr) || !strings.Contains(err.Error(), "corrupt patch") {
		t.Errorf("expected tool apply error with detail, got %v", err)
	}
}

func TestButlerApplyCancelled(t *testing.T) {
	b := fakeButler(t, "sleep 5\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Apply(ctx, "p.pwr", t.TempDir(), nil)
	if !utils.IsCancelled(err) {
		t.Errorf("expected cancellation, got %v", err)
	}
}
