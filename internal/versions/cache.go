package versions

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/pwrsync/internal/utils"
	"golang.org/x/sync/singleflight"
)

// Mode selects how List treats an expired entry.
type Mode int

const (
	// FreshOnly refetches expired entries before returning.
	FreshOnly Mode = iota
	// StaleOK returns an expired entry immediately and refreshes it in the background.
	StaleOK
)

// Cache memoizes version lists per (source, os, arch, branch). Concurrent
// misses for one key share a single network fetch.
type Cache struct {
	ttl   time.Duration
	mu    sync.Mutex
	lists map[Key]List
	group singleflight.Group
	bg    sync.WaitGroup
	base  context.Context
	stop  context.CancelFunc
	now   func() time.Time
	log   zerolog.Logger
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = utils.VersionsCacheTTL
	}
	base, stop := context.WithCancel(context.Background())
	return &Cache{
		ttl:   ttl,
		lists: make(map[Key]List),
		base:  base,
		stop:  stop,
		now:   time.Now,
		log:   utils.GetLogger("version-cache"),
	}
}

func (c *Cache) get(key Key) (List, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lists[key]
	return l, ok
}

func (c *Cache) fresh(l List) bool {
	return c.now().Sub(l.CachedAt) < c.ttl
}

// List returns the versions src offers for platform and branch.
func (c *Cache) List(ctx context.Context, src Source, platform utils.Platform, branch string, mode Mode) (List, error) {
	branch = utils.NormalizeBranch(branch)
	key := Key{SourceID: src.ID(), OS: platform.OS, Arch: platform.Arch, Branch: branch}
	cached, ok := c.get(key)
	if ok && c.fresh(cached) {
		c.log.Debug().Str("op", "list").Str("key", key.String()).Msg("Cache hit")
		return cached, nil
	}
	if ok && mode == StaleOK {
		c.log.Debug().Str("op", "list").Str("key", key.String()).Msg("Serving stale entry, refreshing in background")
		c.refreshAsync(ctx, src, key)
		return cached, nil
	}
	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), src, key)
	})
	select {
	case <-ctx.Done():
		return List{}, utils.Cancelled(ctx)
	case res := <-ch:
		if res.Err != nil {
			return List{}, res.Err
		}
		return res.Val.(List), nil
	}
}

// refreshAsync refetches key in the background. The refresh outlives the
// List call but is cancelled with the caller's ctx or by Close.
func (c *Cache) refreshAsync(ctx context.Context, src Source, key Key) {
	rctx, cancel := context.WithCancel(c.base)
	stopAfter := context.AfterFunc(ctx, cancel)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		defer cancel()
		defer stopAfter()
		_, _, _ = c.group.Do(key.String(), func() (any, error) {
			return c.fetch(rctx, src, key)
		})
	}()
}

// fetch performs the network call for key. Failures and empty answers keep
// serving the last known-good list; empty answers are never stored.
func (c *Cache) fetch(ctx context.Context, src Source, key Key) (List, error) {
	if cached, ok := c.get(key); ok && c.fresh(cached) {
		return cached, nil
	}
	platform := utils.Platform{OS: key.OS, Arch: key.Arch}
	entries, err := src.ListVersions(ctx, platform, key.Branch)
	prior, hasPrior := c.get(key)
	if err != nil {
		if hasPrior {
			c.log.Warn().Str("op", "refresh").Str("key", key.String()).Err(err).Msg("Refresh failed, keeping last known-good list")
			return prior, nil
		}
		c.log.Warn().Str("op", "refresh").Str("key", key.String()).Err(err).Msg("Refresh failed")
		return List{SourceID: key.SourceID, OS: key.OS, Arch: key.Arch, Branch: key.Branch}, err
	}
	if len(entries) == 0 {
		if hasPrior {
			c.log.Warn().Str("op", "refresh").Str("key", key.String()).Msg("Source returned no versions, keeping last known-good list")
			return prior, nil
		}
		return List{SourceID: key.SourceID, OS: key.OS, Arch: key.Arch, Branch: key.Branch}, nil
	}
	l := List{
		SourceID: key.SourceID,
		OS:       key.OS,
		Arch:     key.Arch,
		Branch:   key.Branch,
		Entries:  normalize(entries),
		CachedAt: c.now(),
	}
	c.mu.Lock()
	c.lists[key] = l
	c.mu.Unlock()
	c.log.Debug().Str("op", "refresh").Str("key", key.String()).Int("count", len(l.Entries)).Msg("Stored version list")
	return l, nil
}

// Wait blocks until background refreshes started by StaleOK reads finish.
func (c *Cache) Wait() {
	c.bg.Wait()
}

// Close cancels background refreshes and waits for them to return.
func (c *Cache) Close() {
	c.stop()
	c.bg.Wait()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists = make(map[Key]List)
}
