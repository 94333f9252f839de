package utils

import (
	"errors"
	"time"
)

const DefaultBufferSize = 1024 * 256 // 256KB buffer
const ToolUserAgent = "pwrsync/1.0"
const PartSuffix = ".part"
const ArtifactExt = ".pwr"
const SignatureExt = ".sig"

const (
	MinArtifactBytes   = 1 << 20   // 1 MiB, smaller listings are placeholders
	MaxDiffBytes       = 500 << 20 // 500 MiB, larger deltas imply a wrong version guess
	SpeedWindowBytes   = 10 << 20  // 10 MiB ranged read for throughput
	VersionsCacheTTL   = 30 * time.Minute
	SpeedCacheTTL      = time.Hour
	IndexFetchTimeout  = 15 * time.Second
	PingTimeout        = 5 * time.Second
	ThroughputTimeout  = 30 * time.Second
	DefaultHTTPTimeout = 3 * time.Minute
	StallTimeout       = time.Minute // artifact streams only; they have no overall deadline
)

var (
	ErrCancelled   = errors.New("operation cancelled")
	ErrNoSource    = errors.New("no source offers versions for the requested branch")
	ErrSlotBusy    = errors.New("another run is already active for this install location")
	ErrToolMissing = errors.New("patch tool is not installed")
	ErrNoVersion   = errors.New("requested version is not offered by the source")
)
