package versions

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// nginx autoindex row: <a href="22.pwr">22.pwr</a>   14-Feb-2026 00:39   1629314978
var autoindexRowRegex = regexp.MustCompile(`(?i)<a\s+href="(\d+)\.pwr">\d+\.pwr</a>\s+\S+\s+\S+\s+(\d+)`)

var errUnrecognized = errors.New("response format not recognized")

type listedArtifact struct {
	Version int
	Size    int64
}

// parseItemsJSON reads {"items":[{"version":8}, ...]}. Bodies without an
// items array are handed to parseFlatJSON.
func parseItemsJSON(data []byte) ([]int, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return parseFlatJSON(data)
	}
	rawItems, ok := root["items"]
	if !ok {
		return parseFlatJSON(data)
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(rawItems, &items); err != nil {
		return nil, err
	}
	var out []int
	for _, item := range items {
		if v, ok := versionValue(item["version"]); ok {
			out = append(out, v)
		}
	}
	return sortVersions(out), nil
}

// parseFlatJSON reads [22, 21], {"versions": [...]} or {"targets": [...]}.
// Elements may be numbers or numeric strings.
func parseFlatJSON(data []byte) ([]int, error) {
	data = bytes.TrimSpace(data)
	var rawList []json.RawMessage
	switch {
	case len(data) > 0 && data[0] == '[':
		if err := json.Unmarshal(data, &rawList); err != nil {
			return nil, err
		}
	case len(data) > 0 && data[0] == '{':
		var root map[string]json.RawMessage
		if err := json.Unmarshal(data, &root); err != nil {
			return nil, err
		}
		found := false
		for _, prop := range []string{"versions", "targets"} {
			if raw, ok := root[prop]; ok {
				if err := json.Unmarshal(raw, &rawList); err == nil {
					found = true
					break
				}
			}
		}
		if !found {
			return nil, errUnrecognized
		}
	default:
		return nil, errUnrecognized
	}
	var out []int
	for _, raw := range rawList {
		if v, ok := versionValue(raw); ok {
			out = append(out, v)
		}
	}
	return sortVersions(out), nil
}

// parseAutoindex extracts version and size from an nginx directory listing,
// dropping artifacts below minBytes.
func parseAutoindex(html string, minBytes int64) ([]listedArtifact, error) {
	if !strings.Contains(html, "<") {
		return nil, errUnrecognized
	}
	seen := make(map[int]bool)
	var out []listedArtifact
	for _, match := range autoindexRowRegex.FindAllStringSubmatch(html, -1) {
		version, err := strconv.Atoi(match[1])
		if err != nil || version <= 0 {
			continue
		}
		size, err := strconv.ParseInt(match[2], 10, 64)
		if err != nil || size < minBytes {
			continue
		}
		if seen[version] {
			continue
		}
		seen[version] = true
		out = append(out, listedArtifact{Version: version, Size: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

// parseLatestJSON reads the single-version endpoint: {"version":N},
// {"latest":N}, {"target":N} or a bare number.
func parseLatestJSON(data []byte) (int, error) {
	data = bytes.TrimSpace(data)
	if v, ok := versionValue(data); ok {
		return v, nil
	}
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return 0, err
	}
	for _, prop := range []string{"version", "latest", "target"} {
		if v, ok := versionValue(root[prop]); ok {
			return v, nil
		}
	}
	return 0, errUnrecognized
}

func versionValue(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, n > 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

func sortVersions(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// normalize enforces the List invariant: strictly descending, no duplicates.
func normalize(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	seen := make(map[int]bool, len(entries))
	for _, e := range entries {
		if e.Version <= 0 || seen[e.Version] {
			continue
		}
		seen[e.Version] = true
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out
}
