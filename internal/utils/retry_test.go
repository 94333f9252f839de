package utils

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func noSleepPolicy(slept *[]time.Duration) RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		if slept != nil {
			*slept = append(*slept, d)
		}
		return ctx.Err()
	}
	return p
}

func TestRetryPolicyRetriesTransient(t *testing.T) {
	var slept []time.Duration
	p := noSleepPolicy(&slept)
	calls := 0
	err := p.Do(context.Background(), "test", func(attempt int) error {
		calls++
		if attempt < 3 {
			return &TransientNetworkError{URL: "x", StatusCode: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{600 * time.Millisecond, 1200 * time.Millisecond}
	if len(slept) != len(want) {
		t.Fatalf("slept %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestRetryPolicyStopsOnPermanent(t *testing.T) {
	p := noSleepPolicy(nil)
	calls := 0
	err := p.Do(context.Background(), "test", func(int) error {
		calls++
		return &PermanentNetworkError{URL: "x", StatusCode: 404}
	})
	var pe *PermanentNetworkError
	if !errors.As(err, &pe) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryPolicyExhausts(t *testing.T) {
	p := noSleepPolicy(nil)
	calls := 0
	err := p.Do(context.Background(), "test", func(int) error {
		calls++
		return &TransientNetworkError{URL: "x", StatusCode: 500}
	})
	if err == nil || !IsTransient(err) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicyHonorsRetryAfterWithCap(t *testing.T) {
	p := DefaultRetryPolicy()
	tests := []struct {
		name       string
		retryAfter time.Duration
		want       time.Duration
	}{
		{"short retry-after", 2 * time.Second, 2 * time.Second},
		{"capped retry-after", 120 * time.Second, 30 * time.Second},
		{"no retry-after uses backoff", 0, 600 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Delay(1, &TransientNetworkError{StatusCode: 429, RetryAfter: tt.retryAfter})
			if got != tt.want {
				t.Errorf("Delay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryPolicyCancelled(t *testing.T) {
	p := noSleepPolicy(nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := p.Do(ctx, "test", func(int) error {
		calls++
		cancel()
		return &TransientNetworkError{URL: "x", StatusCode: 503}
	})
	if !IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestCheckResponseClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryHdr  string
		transient bool
		permanent bool
		after     time.Duration
	}{
		{200, "", false, false, 0},
		{206, "", false, false, 0},
		{404, "", false, true, 0},
		{403, "", false, true, 0},
		{429, "7", true, false, 7 * time.Second},
		{503, "", true, false, 0},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			rec := httptest.NewRecorder()
			if tt.retryHdr != "" {
				rec.Header().Set("Retry-After", tt.retryHdr)
			}
			rec.WriteHeader(tt.status)
			resp := rec.Result()
			resp.Request = httptest.NewRequest(http.MethodGet, "http://example.test/a", nil)
			err := CheckResponse(resp)
			var te *TransientNetworkError
			var pe *PermanentNetworkError
			if got := errors.As(err, &te); got != tt.transient {
				t.Fatalf("transient = %v, want %v (err %v)", got, tt.transient, err)
			}
			if got := errors.As(err, &pe); got != tt.permanent {
				t.Fatalf("permanent = %v, want %v (err %v)", got, tt.permanent, err)
			}
			if tt.transient && te.RetryAfter != tt.after {
				t.Errorf("RetryAfter = %v, want %v", te.RetryAfter, tt.after)
			}
		})
	}
}

func TestParseRetryAfterDate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	header := now.Add(12 * time.Second).Format(http.TimeFormat)
	if got := ParseRetryAfter(header, now); got != 12*time.Second {
		t.Errorf("ParseRetryAfter(date) = %v, want 12s", got)
	}
	if got := ParseRetryAfter("soon", now); got != 0 {
		t.Errorf("ParseRetryAfter(garbage) = %v, want 0", got)
	}
}
