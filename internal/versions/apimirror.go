package versions

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tanq16/pwrsync/internal/utils"
)

// APIMirror answers JSON from a launcher API. It spells the pre-release
// branch "prerelease" and publishes no signatures.
type APIMirror struct {
	httpSource
}

func newAPIMirror(cfg SourceConfig, client *utils.PwrHTTPClient, policy utils.RetryPolicy) *APIMirror {
	m := &APIMirror{
		httpSource: newHTTPSource(KindAPIMirror, cfg, DefaultAPIMirrorBase, APIMirrorPriority, client, policy),
	}
	if cfg.ArtifactBase == "" {
		m.artifactBase = m.baseURL + "/launcher/patches"
	}
	return m
}

func apiBranch(branch string) string {
	b := utils.NormalizeBranch(branch)
	if b == "pre-release" {
		return "prerelease"
	}
	return b
}

func (m *APIMirror) DiffCapable(string) bool { return false }

func (m *APIMirror) HealthURL() string    { return m.baseURL + "/health" }
func (m *APIMirror) HealthMethod() string { return http.MethodGet }

func (m *APIMirror) listURL(platform utils.Platform, branch, endpoint string) string {
	q := url.Values{}
	q.Set("os_name", platform.OS)
	q.Set("arch", platform.Arch)
	return fmt.Sprintf("%s/launcher/patches/%s/%s?%s", m.baseURL, url.PathEscape(apiBranch(branch)), endpoint, q.Encode())
}

func (m *APIMirror) ListVersions(ctx context.Context, platform utils.Platform, branch string) ([]Entry, error) {
	link := m.listURL(platform, branch, "versions")
	body, err := m.fetchIndex(ctx, link)
	if err != nil {
		return nil, err
	}
	versions, err := parseItemsJSON(body)
	if err != nil {
		return m.parseFailed(link, err)
	}
	entries := make([]Entry, 0, len(versions))
	for _, v := range versions {
		entries = append(entries, Entry{
			Version:     v,
			DownloadURL: m.DownloadURL(platform, branch, v),
		})
	}
	m.log.Debug().Str("op", "list").Str("branch", branch).Int("count", len(entries)).Msg("Listed versions")
	return entries, nil
}

// Latest asks the mirror's single-version endpoint. It returns 0 with a nil
// error when the answer cannot be parsed.
func (m *APIMirror) Latest(ctx context.Context, platform utils.Platform, branch string) (int, error) {
	link := m.listURL(platform, branch, "latest")
	body, err := m.fetchIndex(ctx, link)
	if err != nil {
		return 0, err
	}
	v, err := parseLatestJSON(body)
	if err != nil {
		m.parseFailed(link, err)
		return 0, nil
	}
	return v, nil
}

func (m *APIMirror) DownloadURL(platform utils.Platform, branch string, version int) string {
	return artifactPath(m.artifactBase, platform, apiBranch(branch), 0, version)
}

func (m *APIMirror) DiffURL(utils.Platform, string, int, int) (string, bool) {
	return "", false
}
