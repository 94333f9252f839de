package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TransientNetworkError covers timeouts, 429 and 5xx responses, interrupted
// streams and local write failures. These are retried by RetryPolicy.
type TransientNetworkError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient error from %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("transient error from %s: %v", e.URL, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// PermanentNetworkError covers 4xx responses other than 429 and malformed URLs.
type PermanentNetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *PermanentNetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("permanent error from %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("permanent error from %s: %v", e.URL, e.Err)
}

func (e *PermanentNetworkError) Unwrap() error { return e.Err }

// ParseError is produced when a source answers in an unexpected format. It is
// logged and turned into an empty version list inside the source.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unexpected response format from %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SizePolicyViolation rejects a differential artifact that is implausibly large.
type SizePolicyViolation struct {
	URL   string
	Size  int64
	Limit int64
}

func (e *SizePolicyViolation) Error() string {
	return fmt.Sprintf("artifact %s is %s, above the %s limit for a differential patch",
		e.URL, FormatBytes(uint64(e.Size)), FormatBytes(uint64(e.Limit)))
}

// ToolApplyError reports a failure of the external patch tool.
type ToolApplyError struct {
	Patch string
	Err   error
}

func (e *ToolApplyError) Error() string {
	return fmt.Sprintf("applying %s failed: %v", e.Patch, e.Err)
}

func (e *ToolApplyError) Unwrap() error { return e.Err }

// Cancelled wraps the context error so callers can match ErrCancelled.
func Cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return ErrCancelled
}

func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

func IsTransient(err error) bool {
	var te *TransientNetworkError
	return errors.As(err, &te)
}

// ErrorKind names the taxonomy bucket of err, for logs and CLI output.
func ErrorKind(err error) string {
	var (
		te *TransientNetworkError
		pe *PermanentNetworkError
		pa *ParseError
		sp *SizePolicyViolation
		ta *ToolApplyError
	)
	switch {
	case err == nil:
		return ""
	case IsCancelled(err):
		return "cancelled"
	case errors.As(err, &sp):
		return "size-policy"
	case errors.As(err, &ta):
		return "tool-apply"
	case errors.As(err, &pe):
		return "permanent-network"
	case errors.As(err, &te):
		return "transient-network"
	case errors.As(err, &pa):
		return "parse"
	default:
		return "internal"
	}
}

// CheckResponse maps an HTTP status onto the error taxonomy.
func CheckResponse(resp *http.Response) error {
	link := ""
	if resp.Request != nil && resp.Request.URL != nil {
		link = resp.Request.URL.String()
	}
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return &TransientNetworkError{
			URL:        link,
			StatusCode: code,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	default:
		return &PermanentNetworkError{URL: link, StatusCode: code}
	}
}

// ParseRetryAfter accepts delta-seconds or an HTTP date. Zero means absent or invalid.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
