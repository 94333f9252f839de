package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tanq16/pwrsync/internal/utils"
	"github.com/tanq16/pwrsync/internal/versions"
	"gopkg.in/yaml.v3"
)

type Config struct {
	CacheDir  string        `yaml:"cache_dir"`
	ToolDir   string        `yaml:"tool_dir"`
	S3Profile string        `yaml:"s3_profile"`
	HTTP      HTTPConfig    `yaml:"http"`
	Sources   []SourceEntry `yaml:"sources"`
	Cache     CacheConfig   `yaml:"cache"`
	Limits    LimitsConfig  `yaml:"limits"`
	Retry     RetryConfig   `yaml:"retry"`
	Tool      ToolConfig    `yaml:"tool"`
}

type HTTPConfig struct {
	Timeout       time.Duration     `yaml:"timeout"`
	KeepAlive     time.Duration     `yaml:"keep_alive"`
	UserAgent     string            `yaml:"user_agent"`
	Proxy         string            `yaml:"proxy"`
	ProxyUsername string            `yaml:"proxy_username"`
	ProxyPassword string            `yaml:"proxy_password"`
	Headers       map[string]string `yaml:"headers"`
}

type SourceEntry struct {
	Kind         string   `yaml:"kind"`
	ID           string   `yaml:"id"`
	Enabled      *bool    `yaml:"enabled"`
	BaseURL      string   `yaml:"base_url"`
	ArtifactBase string   `yaml:"artifact_base"`
	Priority     *int     `yaml:"priority"`
	DiffBranches []string `yaml:"diff_branches"`
	BearerToken  string   `yaml:"bearer_token"`
	TokenEnv     string   `yaml:"token_env"`
}

func (s SourceEntry) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type CacheConfig struct {
	VersionsTTL time.Duration `yaml:"versions_ttl"`
	SpeedTTL    time.Duration `yaml:"speed_ttl"`
}

type LimitsConfig struct {
	MinArtifactBytes int64 `yaml:"min_artifact_bytes"`
	MaxDiffBytes     int64 `yaml:"max_diff_bytes"`
	SpeedWindowBytes int64 `yaml:"speed_window_bytes"`
}

type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	MaxRetryAfter time.Duration `yaml:"max_retry_after"`
}

type ToolConfig struct {
	BrothURL string `yaml:"broth_url"`
}

func baseDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "pwrsync")
	}
	return filepath.Join(os.TempDir(), "pwrsync")
}

func Default() Config {
	retry := utils.DefaultRetryPolicy()
	base := baseDir()
	return Config{
		CacheDir: filepath.Join(base, "cache"),
		ToolDir:  filepath.Join(base, "tools"),
		HTTP: HTTPConfig{
			Timeout:   utils.DefaultHTTPTimeout,
			KeepAlive: 90 * time.Second,
			UserAgent: utils.ToolUserAgent,
		},
		Sources: []SourceEntry{
			{Kind: versions.KindOfficial.String()},
			{Kind: versions.KindIndexMirror.String()},
			{Kind: versions.KindAPIMirror.String()},
		},
		Cache: CacheConfig{
			VersionsTTL: utils.VersionsCacheTTL,
			SpeedTTL:    utils.SpeedCacheTTL,
		},
		Limits: LimitsConfig{
			MinArtifactBytes: utils.MinArtifactBytes,
			MaxDiffBytes:     utils.MaxDiffBytes,
			SpeedWindowBytes: utils.SpeedWindowBytes,
		},
		Retry: RetryConfig{
			MaxAttempts:   retry.MaxAttempts,
			BaseDelay:     retry.BaseDelay,
			MaxDelay:      retry.MaxDelay,
			MaxRetryAfter: retry.MaxRetryAfter,
		},
	}
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "pwrsync", "config.yaml")
	}
	return "pwrsync.yaml"
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.CacheDir == "" {
		errs = append(errs, errors.New("cache_dir is required"))
	}
	if c.ToolDir == "" {
		errs = append(errs, errors.New("tool_dir is required"))
	}
	seen := map[string]bool{}
	enabled := 0
	for i, s := range c.Sources {
		kind, err := versions.ParseKind(s.Kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("sources[%d]: %w", i, err))
			continue
		}
		id := s.ID
		if id == "" {
			id = kind.String()
		}
		if seen[id] {
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate id %q", i, id))
		}
		seen[id] = true
		if s.IsEnabled() {
			enabled++
		}
	}
	if enabled == 0 {
		errs = append(errs, errors.New("at least one source must be enabled"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Limits.MaxDiffBytes <= 0 {
		errs = append(errs, errors.New("limits.max_diff_bytes must be positive"))
	}
	if c.Cache.VersionsTTL <= 0 || c.Cache.SpeedTTL <= 0 {
		errs = append(errs, errors.New("cache TTLs must be positive"))
	}
	return errors.Join(errs...)
}

func (c Config) RetryPolicy() utils.RetryPolicy {
	return utils.RetryPolicy{
		MaxAttempts:   c.Retry.MaxAttempts,
		BaseDelay:     c.Retry.BaseDelay,
		MaxDelay:      c.Retry.MaxDelay,
		MaxRetryAfter: c.Retry.MaxRetryAfter,
	}
}

func (c Config) HTTPClientConfig() utils.HTTPClientConfig {
	headers := make(map[string]string, len(c.HTTP.Headers))
	for k, v := range c.HTTP.Headers {
		headers[k] = v
	}
	return utils.HTTPClientConfig{
		Timeout:       c.HTTP.Timeout,
		KATimeout:     c.HTTP.KeepAlive,
		ProxyURL:      c.HTTP.Proxy,
		ProxyUsername: c.HTTP.ProxyUsername,
		ProxyPassword: c.HTTP.ProxyPassword,
		UserAgent:     c.HTTP.UserAgent,
		Headers:       headers,
	}
}

func (s SourceEntry) token() string {
	if s.BearerToken != "" {
		return s.BearerToken
	}
	if s.TokenEnv != "" {
		return os.Getenv(s.TokenEnv)
	}
	return ""
}

// BuildSources constructs the enabled sources. Sources with a bearer token
// get their own client so the Authorization header never leaks to mirrors.
func (c Config) BuildSources(shared *utils.PwrHTTPClient) ([]versions.Source, error) {
	policy := c.RetryPolicy()
	var out []versions.Source
	for _, s := range c.Sources {
		if !s.IsEnabled() {
			continue
		}
		kind, err := versions.ParseKind(s.Kind)
		if err != nil {
			return nil, err
		}
		client := shared
		if token := s.token(); token != "" {
			httpCfg := c.HTTPClientConfig()
			httpCfg.BearerToken = token
			client = utils.NewPwrHTTPClient(httpCfg)
		}
		src, err := versions.NewSource(kind, versions.SourceConfig{
			ID:           s.ID,
			BaseURL:      s.BaseURL,
			ArtifactBase: s.ArtifactBase,
			Priority:     s.Priority,
			DiffBranches: s.DiffBranches,
			MinBytes:     c.Limits.MinArtifactBytes,
		}, client, policy)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}
