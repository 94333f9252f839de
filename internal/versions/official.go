package versions

import (
	"context"
	"fmt"
	"slices"

	"github.com/tanq16/pwrsync/internal/utils"
)

// Official is the publisher's patch server. It is the only source that
// serves differential artifacts, and only for its configured branches.
type Official struct {
	httpSource
	diffBranches []string
}

func newOfficial(cfg SourceConfig, client *utils.PwrHTTPClient, policy utils.RetryPolicy) *Official {
	branches := cfg.DiffBranches
	if len(branches) == 0 {
		branches = []string{"release", "pre-release"}
	}
	return &Official{
		httpSource:   newHTTPSource(KindOfficial, cfg, DefaultOfficialBase, OfficialPriority, client, policy),
		diffBranches: branches,
	}
}

func (o *Official) DiffCapable(branch string) bool {
	return slices.Contains(o.diffBranches, utils.NormalizeBranch(branch))
}

func (o *Official) ListVersions(ctx context.Context, platform utils.Platform, branch string) ([]Entry, error) {
	branch = utils.NormalizeBranch(branch)
	link := fmt.Sprintf("%s/%s/%s/%s/versions", o.baseURL, platform.OS, platform.Arch, branch)
	body, err := o.fetchIndex(ctx, link)
	if err != nil {
		return nil, err
	}
	versions, err := parseFlatJSON(body)
	if err != nil {
		return o.parseFailed(link, err)
	}
	entries := make([]Entry, 0, len(versions))
	for _, v := range versions {
		url := o.DownloadURL(platform, branch, v)
		entries = append(entries, Entry{
			Version:      v,
			DownloadURL:  url,
			SignatureURL: url + utils.SignatureExt,
		})
	}
	o.log.Debug().Str("op", "list").Str("branch", branch).Int("count", len(entries)).Msg("Listed versions")
	return entries, nil
}

func (o *Official) DownloadURL(platform utils.Platform, branch string, version int) string {
	return artifactPath(o.artifactBase, platform, utils.NormalizeBranch(branch), 0, version)
}

func (o *Official) DiffURL(platform utils.Platform, branch string, from, to int) (string, bool) {
	if !o.DiffCapable(branch) || from <= 0 || to <= from {
		return "", false
	}
	return artifactPath(o.artifactBase, platform, utils.NormalizeBranch(branch), from, to), true
}
