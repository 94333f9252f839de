package utils

import "fmt"

// Platform identifies the artifact flavour requested from a source.
type Platform struct {
	OS   string
	Arch string
}

func (p Platform) String() string {
	return fmt.Sprintf("%s/%s", p.OS, p.Arch)
}

// Progress is a cumulative byte counter sent by the downloader.
type Progress struct {
	Downloaded int64
	Total      int64 // -1 when the server did not report a length
}
