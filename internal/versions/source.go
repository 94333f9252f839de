package versions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tanq16/pwrsync/internal/utils"
)

// Source is anything that can list and serve game artifacts. The set of
// implementations is closed; build them with NewSource.
type Source interface {
	ID() string
	Kind() Kind
	Priority() int
	DiffCapable(branch string) bool
	ListVersions(ctx context.Context, platform utils.Platform, branch string) ([]Entry, error)
	DownloadURL(platform utils.Platform, branch string, version int) string
	DiffURL(platform utils.Platform, branch string, from, to int) (string, bool)
	HealthURL() string
}

type Kind int

const (
	KindOfficial Kind = iota
	KindIndexMirror
	KindAPIMirror
)

func (k Kind) String() string {
	switch k {
	case KindOfficial:
		return "official"
	case KindIndexMirror:
		return "index-mirror"
	case KindAPIMirror:
		return "api-mirror"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "official":
		return KindOfficial, nil
	case "index-mirror", "index":
		return KindIndexMirror, nil
	case "api-mirror", "api":
		return KindAPIMirror, nil
	default:
		return 0, fmt.Errorf("unknown source kind %q", s)
	}
}

// SourceConfig carries the per-source settings. Zero fields take the kind's defaults.
type SourceConfig struct {
	ID           string
	BaseURL      string
	ArtifactBase string // optional override for artifact links, may be s3://bucket/prefix
	Priority     *int
	DiffBranches []string
	MinBytes     int64
}

const (
	DefaultOfficialBase    = "https://game-patches.hytale.com/patches"
	DefaultIndexMirrorBase = "https://licdn.estrogen.cat/hytale/patches"
	DefaultAPIMirrorBase   = "https://cobylobbyht.store"

	OfficialPriority    = 0
	IndexMirrorPriority = 100
	APIMirrorPriority   = 101
)

func NewSource(kind Kind, cfg SourceConfig, client *utils.PwrHTTPClient, policy utils.RetryPolicy) (Source, error) {
	if client == nil {
		return nil, fmt.Errorf("source %s: http client is required", kind)
	}
	switch kind {
	case KindOfficial:
		return newOfficial(cfg, client, policy), nil
	case KindIndexMirror:
		return newIndexMirror(cfg, client, policy), nil
	case KindAPIMirror:
		return newAPIMirror(cfg, client, policy), nil
	default:
		return nil, fmt.Errorf("unsupported source kind %s", kind)
	}
}

// httpSource holds what every source kind shares.
type httpSource struct {
	id           string
	kind         Kind
	priority     int
	baseURL      string
	artifactBase string
	client       *utils.PwrHTTPClient
	policy       utils.RetryPolicy
	log          zerolog.Logger
}

func newHTTPSource(kind Kind, cfg SourceConfig, defBase string, defPriority int, client *utils.PwrHTTPClient, policy utils.RetryPolicy) httpSource {
	s := httpSource{
		id:       cfg.ID,
		kind:     kind,
		priority: defPriority,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client:   client,
		policy:   policy,
	}
	if s.id == "" {
		s.id = kind.String()
	}
	if s.baseURL == "" {
		s.baseURL = defBase
	}
	s.artifactBase = strings.TrimRight(cfg.ArtifactBase, "/")
	if s.artifactBase == "" {
		s.artifactBase = s.baseURL
	}
	if cfg.Priority != nil {
		s.priority = *cfg.Priority
	}
	s.log = utils.GetLogger("source").With().Str("source", s.id).Logger()
	return s
}

func (s *httpSource) ID() string        { return s.id }
func (s *httpSource) Kind() Kind        { return s.kind }
func (s *httpSource) Priority() int     { return s.priority }
func (s *httpSource) HealthURL() string { return s.baseURL }

// HealthMethod is the request method for src's HealthURL. Sources without a
// dedicated health endpoint are pinged with HEAD on their base.
func HealthMethod(src Source) string {
	if h, ok := src.(interface{ HealthMethod() string }); ok {
		return h.HealthMethod()
	}
	return http.MethodHead
}

// maxIndexBytes bounds index bodies; listings are a few KB in practice.
const maxIndexBytes = 8 << 20

// fetchIndex GETs an index document under the shared retry policy, bounding
// each attempt with IndexFetchTimeout.
func (s *httpSource) fetchIndex(ctx context.Context, link string) ([]byte, error) {
	var body []byte
	err := s.policy.Do(ctx, "fetch "+s.id+" index", func(attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, utils.IndexFetchTimeout)
		defer cancel()
		s.log.Debug().Str("op", "fetch-index").Str("url", link).Int("attempt", attempt).Msg("Requesting version index")
		resp, err := s.client.Get(attemptCtx, link)
		if err != nil {
			return classifyTransport(link, err)
		}
		defer resp.Body.Close()
		if err := utils.CheckResponse(resp); err != nil {
			return err
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexBytes))
		if err != nil {
			return &utils.TransientNetworkError{URL: link, Err: err}
		}
		body = data
		return nil
	})
	return body, err
}

// classifyTransport sorts client errors: URL construction problems are
// permanent, everything else on the wire is worth another attempt.
func classifyTransport(link string, err error) error {
	if utils.IsTransient(err) {
		return err
	}
	if _, ok := err.(*utils.PermanentNetworkError); ok {
		return err
	}
	return &utils.TransientNetworkError{URL: link, Err: err}
}

// parseFailed logs a format problem and degrades it to an empty listing.
func (s *httpSource) parseFailed(link string, err error) ([]Entry, error) {
	perr := &utils.ParseError{Source: s.id, Err: err}
	s.log.Warn().Str("op", "parse-index").Str("url", link).Err(perr).Msg("Ignoring unparseable version index")
	return nil, nil
}

func artifactPath(base string, platform utils.Platform, branch string, from, to int) string {
	return fmt.Sprintf("%s/%s/%s/%s/%d/%d%s", base, platform.OS, platform.Arch, branch, from, to, utils.ArtifactExt)
}
