package patcher

import (
	"archive/zip"
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tanq16/pwrsync/internal/utils"
)

const DefaultBrothURL = "https://broth.itch.ovh/butler/%s-%s/LATEST/archive/default"

type ButlerConfig struct {
	Dir      string // where butler is installed and staging happens
	BrothURL string // printf pattern taking os and arch
	Platform utils.Platform
}

// Butler drives the itch.io butler binary: `butler apply` for patches and
// a broth download for bootstrapping.
type Butler struct {
	cfg     ButlerConfig
	fetcher Fetcher
	mu      sync.Mutex
	path    string
	log     zerolog.Logger
}

func NewButler(cfg ButlerConfig, fetcher Fetcher) *Butler {
	if cfg.BrothURL == "" {
		cfg.BrothURL = DefaultBrothURL
	}
	if cfg.Platform.OS == "" {
		cfg.Platform = utils.CurrentPlatform()
	}
	return &Butler{cfg: cfg, fetcher: fetcher, log: utils.GetLogger("butler")}
}

func (b *Butler) binaryName() string {
	if b.cfg.Platform.OS == "windows" {
		return "butler.exe"
	}
	return "butler"
}

// Path returns the managed binary location.
func (b *Butler) Path() string {
	return filepath.Join(b.cfg.Dir, b.binaryName())
}

func (b *Butler) locate() (string, bool) {
	if _, err := os.Stat(b.Path()); err == nil {
		return b.Path(), true
	}
	if path, err := exec.LookPath(b.binaryName()); err == nil {
		return path, true
	}
	return "", false
}

func (b *Butler) Installed() bool {
	_, ok := b.locate()
	return ok
}

// EnsureInstalled finds butler in the tool directory or PATH, downloading
// it when neither has it.
func (b *Butler) EnsureInstalled(ctx context.Context, onProgress ProgressFunc) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if path, ok := b.locate(); ok {
		b.path = path
		report(onProgress, 100, "Patch tool ready")
		return path, nil
	}
	if b.fetcher == nil {
		return "", utils.ErrToolMissing
	}
	if err := os.MkdirAll(b.cfg.Dir, 0755); err != nil {
		return "", fmt.Errorf("error creating tool directory: %w", err)
	}
	link := fmt.Sprintf(b.cfg.BrothURL, b.cfg.Platform.OS, b.cfg.Platform.Arch)
	archive := filepath.Join(b.cfg.Dir, "butler.zip")
	b.log.Info().Str("op", "ensure").Str("url", link).Msg("Downloading patch tool")
	report(onProgress, 0, "Downloading patch tool")

	progressCh := make(chan utils.Progress, 16)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for p := range progressCh {
			if p.Total > 0 {
				report(onProgress, float64(p.Downloaded)/float64(p.Total)*80, "Downloading patch tool")
			}
		}
	}()
	_, err := b.fetcher.Fetch(ctx, link, archive, progressCh)
	<-forwarded
	if err != nil {
		return "", fmt.Errorf("error downloading patch tool: %w", err)
	}
	defer os.Remove(archive)

	report(onProgress, 80, "Extracting patch tool")
	if err := extractZip(archive, b.cfg.Dir); err != nil {
		return "", fmt.Errorf("error extracting patch tool: %w", err)
	}
	if err := os.Chmod(b.Path(), 0755); err != nil {
		return "", fmt.Errorf("patch tool missing from archive: %w", err)
	}
	b.path = b.Path()
	report(onProgress, 100, "Patch tool ready")
	b.log.Info().Str("op", "ensure").Str("path", b.path).Msg("Patch tool installed")
	return b.path, nil
}

// butlerMessage is one line of `butler --json` output.
type butlerMessage struct {
	Type     string  `json:"type"`
	Level    string  `json:"level"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
	ETA      float64 `json:"eta"`
}

// Apply runs `butler apply` with a per-run staging directory.
func (b *Butler) Apply(ctx context.Context, patchPath, installDir string, onProgress ProgressFunc) error {
	b.mu.Lock()
	path := b.path
	b.mu.Unlock()
	if path == "" {
		var ok bool
		if path, ok = b.locate(); !ok {
			return &utils.ToolApplyError{Patch: filepath.Base(patchPath), Err: utils.ErrToolMissing}
		}
	}
	staging := filepath.Join(b.cfg.Dir, "staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0755); err != nil {
		return fmt.Errorf("error creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)
	if err := os.MkdirAll(installDir, 0755); err != nil {
		return fmt.Errorf("error creating install directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, "apply", "--json", "--staging-dir", staging, patchPath, installDir)
	b.log.Debug().Str("op", "apply").Msgf("Executing butler command: %s", cmd.String())
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("error creating stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &limitedWriter{w: &stderr, n: 64 << 10}
	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return utils.Cancelled(ctx)
		}
		return &utils.ToolApplyError{Patch: filepath.Base(patchPath), Err: err}
	}
	lastError := b.processStream(stdout, onProgress)
	err = cmd.Wait()
	if ctx.Err() != nil {
		return utils.Cancelled(ctx)
	}
	if err != nil {
		detail := lastError
		if detail == "" {
			detail = strings.TrimSpace(stderr.String())
		}
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return &utils.ToolApplyError{Patch: filepath.Base(patchPath), Err: err}
	}
	report(onProgress, 100, "Patch applied")
	return nil
}

// processStream forwards progress lines and returns the last error message.
func (b *Butler) processStream(reader io.Reader, onProgress ProgressFunc) string {
	var lastError string
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg butlerMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			b.log.Debug().Str("op", "apply").Msg(line)
			continue
		}
		switch msg.Type {
		case "progress":
			report(onProgress, msg.Progress*100, "Applying patch")
		case "log":
			if msg.Level == "error" {
				lastError = msg.Message
			}
			b.log.Debug().Str("op", "apply").Str("level", msg.Level).Msg(msg.Message)
		case "error":
			lastError = msg.Message
		}
	}
	return lastError
}

func report(fn ProgressFunc, pct float64, msg string) {
	if fn != nil {
		fn(pct, msg)
	}
}

type limitedWriter struct {
	w io.Writer
	n int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n <= 0 {
		return len(p), nil
	}
	keep := p
	if int64(len(keep)) > l.n {
		keep = keep[:l.n]
	}
	n, err := l.w.Write(keep)
	l.n -= int64(n)
	if err != nil {
		return n, err
	}
	return len(p), nil
}

var errZipSlip = errors.New("archive entry escapes destination")

func extractZip(archive, dest string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()
	root, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	for _, f := range r.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("%w: %s", errZipSlip, f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
