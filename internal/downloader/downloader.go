package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/pwrsync/internal/utils"
)

// Orchestrator fetches artifacts to disk under the shared retry policy.
// Data is written to dest+".part" and renamed only once complete, so an
// interrupted or cancelled fetch never leaves a file that looks finished.
//
// Artifact GETs run without a whole-request timeout; a stream is abandoned
// only when no bytes arrive for the stall timeout. HEADs keep the client's
// timeout.
type Orchestrator struct {
	client       *utils.PwrHTTPClient
	stream       *utils.PwrHTTPClient
	stallTimeout time.Duration
	policy       utils.RetryPolicy
	log          zerolog.Logger

	s3Profile string
	s3Once    sync.Once
	s3Client  S3API
	s3Err     error
}

type Option func(*Orchestrator)

// WithS3Profile selects the shared AWS profile used for s3:// links.
func WithS3Profile(profile string) Option {
	return func(o *Orchestrator) { o.s3Profile = profile }
}

// WithStallTimeout bounds how long an artifact stream may go without data.
func WithStallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stallTimeout = d }
}

// WithS3Client injects a ready client for s3:// links.
func WithS3Client(c S3API) Option {
	return func(o *Orchestrator) {
		o.s3Once.Do(func() {})
		o.s3Client = c
	}
}

func NewOrchestrator(client *utils.PwrHTTPClient, policy utils.RetryPolicy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:       client,
		stallTimeout: utils.StallTimeout,
		policy:       policy,
		log:          utils.GetLogger("downloader"),
	}
	if client != nil {
		o.stream = client.WithTimeout(0)
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.stallTimeout <= 0 {
		o.stallTimeout = utils.StallTimeout
	}
	return o
}

// Fetch downloads link to dest and returns dest once it is complete.
// Cumulative byte counts are sent on progressCh, which is closed on return.
func (o *Orchestrator) Fetch(ctx context.Context, link, dest string, progressCh chan<- utils.Progress) (string, error) {
	if progressCh != nil {
		defer close(progressCh)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("error creating download directory: %w", err)
	}
	tempPath := dest + utils.PartSuffix
	o.log.Info().Str("op", "fetch").Str("url", link).Str("dest", dest).Msg("Starting download")

	err := o.policy.Do(ctx, "download "+filepath.Base(dest), func(attempt int) error {
		var err error
		if bucket, key, ok := ParseS3URL(link); ok {
			err = o.s3Attempt(ctx, bucket, key, tempPath, progressCh)
		} else {
			err = o.httpAttempt(ctx, link, tempPath, progressCh)
		}
		if err != nil {
			o.removePartial(tempPath)
			o.log.Debug().Str("op", "fetch").Int("attempt", attempt).Err(err).Msg("Download attempt failed")
		}
		return err
	})
	if err != nil {
		o.removePartial(tempPath)
		if ctx.Err() != nil {
			return "", utils.Cancelled(ctx)
		}
		return "", err
	}
	if err := os.Rename(tempPath, dest); err != nil {
		o.removePartial(tempPath)
		return "", fmt.Errorf("error finalizing download: %w", err)
	}
	o.log.Info().Str("op", "fetch").Str("dest", dest).Msg("Download complete")
	return dest, nil
}

func (o *Orchestrator) removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		o.log.Warn().Str("op", "cleanup").Str("path", path).Err(err).Msg("Could not remove partial download")
	}
}

var errStalled = errors.New("no data received within the stall timeout")

func (o *Orchestrator) httpAttempt(ctx context.Context, link, tempPath string, progressCh chan<- utils.Progress) error {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	watchdog := time.AfterFunc(o.stallTimeout, func() { cancel(errStalled) })
	defer watchdog.Stop()
	stalled := func(err error) error {
		if ctx.Err() == nil && errors.Is(context.Cause(attemptCtx), errStalled) {
			return &utils.TransientNetworkError{URL: link, Err: errStalled}
		}
		return transportError(link, err)
	}

	resp, err := o.stream.Get(attemptCtx, link)
	if err != nil {
		return stalled(err)
	}
	defer resp.Body.Close()
	if err := utils.CheckResponse(resp); err != nil {
		return err
	}
	total := resp.ContentLength
	if total <= 0 {
		total = -1
	}
	outFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return &utils.TransientNetworkError{URL: link, Err: fmt.Errorf("error creating output file: %w", err)}
	}
	defer outFile.Close()

	var written int64
	buffer := make([]byte, utils.DefaultBufferSize)
	for {
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			watchdog.Reset(o.stallTimeout)
			if _, writeErr := outFile.Write(buffer[:bytesRead]); writeErr != nil {
				return &utils.TransientNetworkError{URL: link, Err: fmt.Errorf("error writing to output file: %w", writeErr)}
			}
			written += int64(bytesRead)
			if err := sendProgress(ctx, progressCh, utils.Progress{Downloaded: written, Total: total}); err != nil {
				return err
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return stalled(fmt.Errorf("error reading response body: %w", readErr))
		}
	}
	if total > 0 && written != total {
		return &utils.TransientNetworkError{URL: link, Err: fmt.Errorf("short body: %d of %d bytes: %w", written, total, io.ErrUnexpectedEOF)}
	}
	if err := outFile.Sync(); err != nil {
		return &utils.TransientNetworkError{URL: link, Err: err}
	}
	return outFile.Close()
}

func sendProgress(ctx context.Context, ch chan<- utils.Progress, p utils.Progress) error {
	if ch == nil {
		return nil
	}
	select {
	case ch <- p:
		return nil
	case <-ctx.Done():
		return utils.Cancelled(ctx)
	}
}

// Size reports the artifact size without downloading it; -1 when unknown.
func (o *Orchestrator) Size(ctx context.Context, link string) (int64, error) {
	if bucket, key, ok := ParseS3URL(link); ok {
		return o.s3Size(ctx, bucket, key)
	}
	var size int64
	err := o.policy.Do(ctx, "size "+link, func(int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
		if err != nil {
			return &utils.PermanentNetworkError{URL: link, Err: err}
		}
		resp, err := o.client.Do(req)
		if err != nil {
			return transportError(link, err)
		}
		resp.Body.Close()
		if err := utils.CheckResponse(resp); err != nil {
			return err
		}
		size = resp.ContentLength
		return nil
	})
	if err != nil {
		return 0, err
	}
	if size < 0 {
		size = -1
	}
	return size, nil
}

func transportError(link string, err error) error {
	var perm *utils.PermanentNetworkError
	if utils.IsTransient(err) || errors.As(err, &perm) || utils.IsCancelled(err) {
		return err
	}
	return &utils.TransientNetworkError{URL: link, Err: err}
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(link string) (string, string, bool) {
	rest, ok := strings.CutPrefix(link, "s3://")
	if !ok {
		return "", "", false
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
