package versions

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/tanq16/pwrsync/internal/utils"
)

// Registry orders sources by ascending priority and resolves which one
// serves a request. Mirror speed never reorders it.
type Registry struct {
	sources []Source
	cache   *Cache
	log     zerolog.Logger
}

func NewRegistry(cache *Cache, sources ...Source) *Registry {
	sorted := make([]Source, len(sources))
	copy(sorted, sources)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })
	return &Registry{sources: sorted, cache: cache, log: utils.GetLogger("registry")}
}

func (r *Registry) Sources() []Source {
	return r.sources
}

func (r *Registry) Cache() *Cache {
	return r.cache
}

func (r *Registry) Get(id string) (Source, bool) {
	for _, s := range r.sources {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// Resolve returns the first source by priority with a non-empty list for the
// request. A failing source counts as empty.
func (r *Registry) Resolve(ctx context.Context, platform utils.Platform, branch string, mode Mode) (Source, List, error) {
	branch = utils.NormalizeBranch(branch)
	var lastErr error
	for _, src := range r.sources {
		l, err := r.cache.List(ctx, src, platform, branch, mode)
		if ctx.Err() != nil {
			return nil, List{}, utils.Cancelled(ctx)
		}
		if err != nil {
			lastErr = err
			r.log.Warn().Str("op", "resolve").Str("source", src.ID()).Err(err).Msg("Source unavailable, trying next")
			continue
		}
		if len(l.Entries) == 0 {
			r.log.Debug().Str("op", "resolve").Str("source", src.ID()).Msg("Source has no versions for branch")
			continue
		}
		r.log.Info().Str("op", "resolve").Str("source", src.ID()).Str("branch", branch).Int("latest", l.Entries[0].Version).Msg("Resolved source")
		return src, l, nil
	}
	if lastErr != nil {
		return nil, List{}, fmt.Errorf("%w: %s on %s (last error: %w)", utils.ErrNoSource, branch, platform, lastErr)
	}
	return nil, List{}, fmt.Errorf("%w: %s on %s", utils.ErrNoSource, branch, platform)
}
