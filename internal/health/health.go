package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/pwrsync/internal/utils"
	"github.com/tanq16/pwrsync/internal/versions"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Sentinel for a measurement that was not taken or could not complete.
const NotTested = -1

type SpeedResult struct {
	MirrorID       string
	PingMs         int64
	ThroughputMBps float64
	Available      bool
	TestedAt       time.Time
}

func (r SpeedResult) Tested() bool {
	return !r.TestedAt.IsZero()
}

func (r SpeedResult) String() string {
	switch {
	case !r.Tested():
		return fmt.Sprintf("%s: not tested", r.MirrorID)
	case !r.Available:
		return fmt.Sprintf("%s: unreachable", r.MirrorID)
	case r.ThroughputMBps < 0:
		return fmt.Sprintf("%s: %dms, speed unknown", r.MirrorID, r.PingMs)
	default:
		return fmt.Sprintf("%s: %dms, %.2f MB/s", r.MirrorID, r.PingMs, r.ThroughputMBps)
	}
}

type CheckerConfig struct {
	Platform          utils.Platform
	TTL               time.Duration
	Window            int64
	PingTimeout       time.Duration
	ThroughputTimeout time.Duration
}

// Checker measures mirror latency and throughput on demand. Results are kept
// per mirror for TTL; the version cache is only read to find an artifact to
// time against.
type Checker struct {
	client   *utils.PwrHTTPClient
	versions *versions.Cache
	cfg      CheckerConfig

	mu      sync.Mutex
	results map[string]SpeedResult
	group   singleflight.Group
	now     func() time.Time
	log     zerolog.Logger
}

func NewChecker(client *utils.PwrHTTPClient, cache *versions.Cache, cfg CheckerConfig) *Checker {
	if cfg.TTL <= 0 {
		cfg.TTL = utils.SpeedCacheTTL
	}
	if cfg.Window <= 0 {
		cfg.Window = utils.SpeedWindowBytes
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = utils.PingTimeout
	}
	if cfg.ThroughputTimeout <= 0 {
		cfg.ThroughputTimeout = utils.ThroughputTimeout
	}
	if cfg.Platform.OS == "" {
		cfg.Platform = utils.CurrentPlatform()
	}
	return &Checker{
		client:   client,
		versions: cache,
		cfg:      cfg,
		results:  make(map[string]SpeedResult),
		now:      time.Now,
		log:      utils.GetLogger("health"),
	}
}

// Info returns the cached result for src, or a not-tested sentinel.
func (p *Checker) Info(src versions.Source) SpeedResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.results[src.ID()]; ok {
		return r
	}
	return SpeedResult{MirrorID: src.ID(), PingMs: NotTested, ThroughputMBps: NotTested}
}

func (p *Checker) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = make(map[string]SpeedResult)
}

func (p *Checker) cached(id string) (SpeedResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.results[id]
	if !ok || p.now().Sub(r.TestedAt) >= p.cfg.TTL {
		return SpeedResult{}, false
	}
	return r, true
}

// Check returns a fresh or cached measurement of src. Concurrent checks of
// one mirror share a single measurement.
func (p *Checker) Check(ctx context.Context, src versions.Source) (SpeedResult, error) {
	if r, ok := p.cached(src.ID()); ok {
		p.log.Debug().Str("op", "health/check").Str("mirror", src.ID()).Msg("Using cached speed result")
		return r, nil
	}
	ch := p.group.DoChan(src.ID(), func() (any, error) {
		if r, ok := p.cached(src.ID()); ok {
			return r, nil
		}
		r, err := p.measure(ctx, src)
		if err != nil {
			return r, err
		}
		p.mu.Lock()
		p.results[src.ID()] = r
		p.mu.Unlock()
		return r, nil
	})
	select {
	case <-ctx.Done():
		return SpeedResult{}, utils.Cancelled(ctx)
	case res := <-ch:
		if res.Err != nil {
			return SpeedResult{}, res.Err
		}
		return res.Val.(SpeedResult), nil
	}
}

// CheckAll measures every source concurrently. Only cancellation fails it.
func (p *Checker) CheckAll(ctx context.Context, srcs []versions.Source) ([]SpeedResult, error) {
	results := make([]SpeedResult, len(srcs))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range srcs {
		i, src := i, src
		g.Go(func() error {
			r, err := p.Check(gctx, src)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Checker) measure(ctx context.Context, src versions.Source) (SpeedResult, error) {
	r := SpeedResult{MirrorID: src.ID(), PingMs: NotTested, ThroughputMBps: NotTested}
	ping, err := p.ping(ctx, versions.HealthMethod(src), src.HealthURL())
	if ctx.Err() != nil {
		return r, utils.Cancelled(ctx)
	}
	r.TestedAt = p.now()
	if err != nil {
		p.log.Warn().Str("op", "ping").Str("mirror", src.ID()).Err(err).Msg("Mirror unreachable")
		return r, nil
	}
	r.Available = true
	r.PingMs = ping.Milliseconds()

	link := p.artifactURL(ctx, src)
	if link == "" {
		p.log.Info().Str("op", "throughput").Str("mirror", src.ID()).Msg("No artifact available for speed test")
		return r, nil
	}
	speed, err := p.throughput(ctx, link)
	if ctx.Err() != nil {
		return r, utils.Cancelled(ctx)
	}
	if err != nil {
		p.log.Warn().Str("op", "throughput").Str("mirror", src.ID()).Err(err).Msg("Speed test failed")
		return r, nil
	}
	r.ThroughputMBps = speed
	p.log.Info().Str("op", "health/check").Str("mirror", src.ID()).Int64("ping_ms", r.PingMs).Float64("mbps", speed).Msg("Mirror measured")
	return r, nil
}

// ping times one request to the health endpoint. Only a 2xx answer counts
// as available.
func (p *Checker) ping(ctx context.Context, method, link string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PingTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, link, nil)
	if err != nil {
		return 0, &utils.PermanentNetworkError{URL: link, Err: err}
	}
	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, &utils.TransientNetworkError{URL: link, Err: err}
	}
	elapsed := time.Since(start)
	resp.Body.Close()
	if err := utils.CheckResponse(resp); err != nil {
		return 0, err
	}
	return elapsed, nil
}

// artifactURL picks the newest pre-release artifact, then release, from
// whatever the version cache already has or can fetch.
func (p *Checker) artifactURL(ctx context.Context, src versions.Source) string {
	if p.versions == nil {
		return ""
	}
	for _, branch := range []string{"pre-release", "release"} {
		l, err := p.versions.List(ctx, src, p.cfg.Platform, branch, versions.StaleOK)
		if err != nil {
			continue
		}
		if e, ok := l.Latest(); ok && strings.HasPrefix(e.DownloadURL, "http") {
			return e.DownloadURL
		}
	}
	return ""
}

func (p *Checker) throughput(ctx context.Context, link string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ThroughputTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return 0, &utils.PermanentNetworkError{URL: link, Err: err}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", p.cfg.Window-1))
	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, &utils.TransientNetworkError{URL: link, Err: err}
	}
	defer resp.Body.Close()
	if err := utils.CheckResponse(resp); err != nil {
		return 0, err
	}
	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, p.cfg.Window))
	elapsed := time.Since(start).Seconds()
	if err != nil && n == 0 {
		return 0, &utils.TransientNetworkError{URL: link, Err: err}
	}
	if elapsed <= 0 {
		elapsed = 0.001
	}
	return float64(n) / (1024 * 1024) / elapsed, nil
}
