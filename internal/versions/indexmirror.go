package versions

import (
	"context"
	"fmt"

	"github.com/tanq16/pwrsync/internal/utils"
)

// IndexMirror reads an nginx autoindex listing of full artifacts:
// {base}/{os}/{arch}/{branch}/0/ lists N.pwr with sizes.
type IndexMirror struct {
	httpSource
	minBytes int64
}

func newIndexMirror(cfg SourceConfig, client *utils.PwrHTTPClient, policy utils.RetryPolicy) *IndexMirror {
	minBytes := cfg.MinBytes
	if minBytes <= 0 {
		minBytes = utils.MinArtifactBytes
	}
	return &IndexMirror{
		httpSource: newHTTPSource(KindIndexMirror, cfg, DefaultIndexMirrorBase, IndexMirrorPriority, client, policy),
		minBytes:   minBytes,
	}
}

func (m *IndexMirror) DiffCapable(string) bool { return false }

func (m *IndexMirror) ListVersions(ctx context.Context, platform utils.Platform, branch string) ([]Entry, error) {
	branch = utils.NormalizeBranch(branch)
	link := fmt.Sprintf("%s/%s/%s/%s/0/", m.baseURL, platform.OS, platform.Arch, branch)
	body, err := m.fetchIndex(ctx, link)
	if err != nil {
		return nil, err
	}
	rows, err := parseAutoindex(string(body), m.minBytes)
	if err != nil {
		return m.parseFailed(link, err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		url := m.DownloadURL(platform, branch, row.Version)
		entries = append(entries, Entry{
			Version:      row.Version,
			DownloadURL:  url,
			SignatureURL: url + utils.SignatureExt,
			Size:         row.Size,
		})
	}
	m.log.Debug().Str("op", "list").Str("branch", branch).Int("count", len(entries)).Msg("Listed versions")
	return entries, nil
}

func (m *IndexMirror) DownloadURL(platform utils.Platform, branch string, version int) string {
	return artifactPath(m.artifactBase, platform, utils.NormalizeBranch(branch), 0, version)
}

func (m *IndexMirror) DiffURL(utils.Platform, string, int, int) (string, bool) {
	return "", false
}
