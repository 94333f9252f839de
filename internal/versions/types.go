package versions

import (
	"fmt"
	"time"
)

// Entry is one artifact a source offers. FromVersion is 0 for full artifacts.
type Entry struct {
	Version      int
	FromVersion  int
	DownloadURL  string
	SignatureURL string
	Size         int64 // bytes reported by the listing, 0 when unknown
}

// List is the cached result of one ListVersions call. Entries are sorted
// descending by version with no duplicates, and a List is never mutated
// after it has been stored; refreshes replace it wholesale.
type List struct {
	SourceID string
	OS       string
	Arch     string
	Branch   string
	Entries  []Entry
	CachedAt time.Time
}

func (l List) Latest() (Entry, bool) {
	if len(l.Entries) == 0 {
		return Entry{}, false
	}
	return l.Entries[0], true
}

func (l List) Find(version int) (Entry, bool) {
	for _, e := range l.Entries {
		if e.Version == version {
			return e, true
		}
	}
	return Entry{}, false
}

// Key identifies a cached list.
type Key struct {
	SourceID string
	OS       string
	Arch     string
	Branch   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.SourceID, k.OS, k.Arch, k.Branch)
}
