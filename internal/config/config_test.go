package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tanq16/pwrsync/internal/utils"
	"github.com/tanq16/pwrsync/internal/versions"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cache.VersionsTTL != 30*time.Minute || cfg.Retry.MaxAttempts != 3 || len(cfg.Sources) != 3 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte(`
cache_dir: /tmp/pwr-cache
cache:
  versions_ttl: 5m
retry:
  max_attempts: 5
  max_retry_after: 10s
sources:
  - kind: official
    bearer_token: secret
    diff_branches: [release]
  - kind: index-mirror
    base_url: https://mirror.example/patches
    artifact_base: s3://mirror-bucket/patches
  - kind: api-mirror
    enabled: false
`), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CacheDir != "/tmp/pwr-cache" || cfg.Cache.VersionsTTL != 5*time.Minute || cfg.Cache.SpeedTTL != time.Hour {
		t.Errorf("unexpected cache settings: %+v %s", cfg.Cache, cfg.CacheDir)
	}
	policy := cfg.RetryPolicy()
	if policy.MaxAttempts != 5 || policy.MaxRetryAfter != 10*time.Second || policy.BaseDelay != 600*time.Millisecond {
		t.Errorf("unexpected retry policy: %+v", policy)
	}

	srcs, err := cfg.BuildSources(utils.NewPwrHTTPClient(cfg.HTTPClientConfig()))
	if err != nil {
		t.Fatal(err)
	}
	if len(srcs) != 2 {
		t.Fatalf("disabled source should be skipped, got %d", len(srcs))
	}
	if srcs[0].DiffCapable("pre-release") || !srcs[0].DiffCapable("release") {
		t.Error("diff_branches not applied")
	}
	link := srcs[1].DownloadURL(utils.Platform{OS: "linux", Arch: "amd64"}, "release", 4)
	if link != "s3://mirror-bucket/patches/linux/amd64/release/0/4.pwr" {
		t.Errorf("artifact_base not applied: %s", link)
	}
	if srcs[1].Kind() != versions.KindIndexMirror {
		t.Errorf("unexpected kind %s", srcs[1].Kind())
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Sources = []SourceEntry{{Kind: "ftp"}, {Kind: "official"}, {Kind: "official"}}
	cfg.Retry.MaxAttempts = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"unknown source kind", "duplicate id", "max_attempts"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
	off := false
	cfg = Default()
	for i := range cfg.Sources {
		cfg.Sources[i].Enabled = &off
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "at least one source") {
		t.Errorf("expected enabled-source error, got %v", err)
	}
}

func TestTokenFromEnv(t *testing.T) {
	t.Setenv("PWRSYNC_TEST_TOKEN", "from-env")
	if got := (SourceEntry{TokenEnv: "PWRSYNC_TEST_TOKEN"}).token(); got != "from-env" {
		t.Errorf("token = %q", got)
	}
}
