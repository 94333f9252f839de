package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeBranch(t *testing.T) {
	tests := map[string]string{
		"":            "release",
		"Release":     "release",
		"prerelease":  "pre-release",
		"pre-release": "pre-release",
		"beta":        "pre-release",
		"nightly":     "nightly",
	}
	for in, want := range tests {
		if got := NormalizeBranch(in); got != want {
			t.Errorf("NormalizeBranch(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanPartials(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"release_7.pwr.part", "release_8.pwr", "x.part"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := CleanPartials(dir)
	if err != nil {
		t.Fatalf("CleanPartials: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "release_8.pwr")); err != nil {
		t.Errorf("complete artifact should survive: %v", err)
	}
	if n, err := CleanPartials(filepath.Join(dir, "missing")); err != nil || n != 0 {
		t.Errorf("missing dir = (%d, %v), want (0, nil)", n, err)
	}
}

func TestFormatBytes(t *testing.T) {
	if got := FormatBytes(500 << 20); got != "500.00 MB" {
		t.Errorf("FormatBytes = %q", got)
	}
}

func TestParseHeaderArgs(t *testing.T) {
	got := ParseHeaderArgs([]string{"Authorization: Bearer x:y", "X-Empty:", "malformed"})
	if len(got) != 2 || got["Authorization"] != "Bearer x:y" || got["X-Empty"] != "" {
		t.Errorf("ParseHeaderArgs() = %v", got)
	}
}

func TestFormatSpeed(t *testing.T) {
	if got := FormatSpeed(2048, 2); got != "1.00 KB/s" {
		t.Errorf("FormatSpeed() = %q", got)
	}
	if got := FormatSpeed(100, 0); got != "0 B/s" {
		t.Errorf("FormatSpeed(zero elapsed) = %q", got)
	}
}
