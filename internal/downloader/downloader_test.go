package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/tanq16/pwrsync/internal/utils"
)

func newTestOrchestrator(srv *httptest.Server, delays *[]time.Duration) *Orchestrator {
	policy := utils.DefaultRetryPolicy()
	policy.Sleep = func(_ context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}
	var client *utils.PwrHTTPClient
	if srv != nil {
		client = utils.WrapHTTPClient(srv.Client(), utils.HTTPClientConfig{})
	}
	return NewOrchestrator(client, policy)
}

func drain(ch <-chan utils.Progress) <-chan []utils.Progress {
	out := make(chan []utils.Progress, 1)
	go func() {
		var seen []utils.Progress
		for p := range ch {
			seen = append(seen, p)
		}
		out <- seen
	}()
	return out
}

func TestFetchSuccess(t *testing.T) {
	payload := bytes.Repeat([]byte("pwr"), 200_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "cache", "8.pwr")
	progressCh := make(chan utils.Progress, 16)
	seen := drain(progressCh)
	got, err := newTestOrchestrator(srv, nil).Fetch(context.Background(), srv.URL+"/8.pwr", dest, progressCh)
	if err != nil {
		t.Fatal(err)
	}
	if got != dest {
		t.Errorf("Fetch returned %q, want %q", got, dest)
	}
	data, err := os.ReadFile(dest)
	if err != nil || !bytes.Equal(data, payload) {
		t.Fatalf("downloaded content mismatch (err=%v)", err)
	}
	if _, err := os.Stat(dest + utils.PartSuffix); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("partial file should be gone after success")
	}
	updates := <-seen
	if len(updates) == 0 {
		t.Fatal("expected progress updates")
	}
	last := updates[len(updates)-1]
	if last.Downloaded != int64(len(payload)) || last.Total != int64(len(payload)) {
		t.Errorf("unexpected final progress: %+v", last)
	}
	for i := 1; i < len(updates); i++ {
		if updates[i].Downloaded < updates[i-1].Downloaded {
			t.Fatalf("progress went backwards at %d", i)
		}
	}
}

func TestFetchRetriesWithRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.Write([]byte("artifact"))
		}
	}))
	defer srv.Close()

	var delays []time.Duration
	dest := filepath.Join(t.TempDir(), "9.pwr")
	if _, err := newTestOrchestrator(srv, &delays).Fetch(context.Background(), srv.URL, dest, nil); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	want := []time.Duration{30 * time.Second, 1200 * time.Millisecond}
	if len(delays) != 2 || delays[0] != want[0] || delays[1] != want[1] {
		t.Errorf("delays = %v, want %v", delays, want)
	}
}

func TestFetchPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "10.pwr")
	_, err := newTestOrchestrator(srv, nil).Fetch(context.Background(), srv.URL, dest, nil)
	var perm *utils.PermanentNetworkError
	if !errors.As(err, &perm) || perm.StatusCode != http.StatusNotFound {
		t.Fatalf("expected permanent 404, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("404 must not be retried, got %d calls", calls.Load())
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected no files left behind, found %d", len(entries))
	}
}

func TestFetchShortBodyIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		if calls.Add(1) == 1 {
			w.Write([]byte(strings.Repeat("a", 40)))
			return
		}
		w.Write([]byte(strings.Repeat("b", 100)))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "11.pwr")
	if _, err := newTestOrchestrator(srv, nil).Fetch(context.Background(), srv.URL, dest, nil); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(dest)
	if calls.Load() != 2 || string(data) != strings.Repeat("b", 100) {
		t.Errorf("calls=%d content=%q", calls.Load(), data)
	}
}

func TestFetchExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestOrchestrator(srv, nil).Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x.pwr"), nil)
	if !utils.IsTransient(err) || calls.Load() != 3 {
		t.Errorf("expected transient failure after 3 calls, got %v after %d", err, calls.Load())
	}
}

func TestFetchCancelledMidDownload(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.Write(bytes.Repeat([]byte("c"), 4096))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	dest := filepath.Join(t.TempDir(), "12.pwr")
	ctx, cancel := context.WithCancel(context.Background())
	progressCh := make(chan utils.Progress)
	go func() {
		first := true
		for range progressCh {
			if first {
				cancel()
				first = false
			}
		}
	}()
	_, err := newTestOrchestrator(srv, nil).Fetch(ctx, srv.URL, dest, progressCh)
	if !errors.Is(err, utils.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	for _, p := range []string{dest, dest + utils.PartSuffix} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s should not exist after cancellation", filepath.Base(p))
		}
	}
}

func TestSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.Header().Set("Content-Length", strconv.Itoa(600<<20))
	}))
	defer srv.Close()

	size, err := newTestOrchestrator(srv, nil).Size(context.Background(), srv.URL+"/5/6.pwr")
	if err != nil || size != 600<<20 {
		t.Errorf("Size = %d, %v", size, err)
	}
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		in          string
		bucket, key string
		ok          bool
	}{
		{"s3://mirror/patches/linux/amd64/release/0/8.pwr", "mirror", "patches/linux/amd64/release/0/8.pwr", true},
		{"s3://mirror", "", "", false},
		{"s3:///key", "", "", false},
		{"https://mirror/8.pwr", "", "", false},
	}
	for _, tt := range tests {
		bucket, key, ok := ParseS3URL(tt.in)
		if bucket != tt.bucket || key != tt.key || ok != tt.ok {
			t.Errorf("ParseS3URL(%q) = %q, %q, %v", tt.in, bucket, key, ok)
		}
	}
}

type fakeS3 struct {
	data  []byte
	heads atomic.Int32
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	start, end := int64(0), int64(len(f.data)-1)
	if rng := aws.ToString(in.Range); rng != "" {
		fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
		end = min(end, int64(len(f.data)-1))
	}
	chunk := f.data[start : end+1]
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(chunk)),
		ContentLength: aws.Int64(int64(len(chunk))),
		ContentRange:  aws.String(fmt.Sprintf("bytes %d-%d/%d", start, end, len(f.data))),
	}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, _ *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.heads.Add(1)
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(f.data)))}, nil
}

func TestFetchFromS3(t *testing.T) {
	payload := bytes.Repeat([]byte("s3"), 700_000)
	fake := &fakeS3{data: payload}
	policy := utils.DefaultRetryPolicy()
	o := NewOrchestrator(nil, policy, WithS3Client(fake))

	dest := filepath.Join(t.TempDir(), "8.pwr")
	progressCh := make(chan utils.Progress, 64)
	seen := drain(progressCh)
	if _, err := o.Fetch(context.Background(), "s3://mirror/release/0/8.pwr", dest, progressCh); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(dest)
	if !bytes.Equal(data, payload) {
		t.Fatalf("s3 content mismatch: got %d bytes", len(data))
	}
	updates := <-seen
	var maxDone int64
	for _, u := range updates {
		maxDone = max(maxDone, u.Downloaded)
		if u.Total != int64(len(payload)) {
			t.Fatalf("unexpected total %d", u.Total)
		}
	}
	if maxDone != int64(len(payload)) {
		t.Errorf("progress reached %d, want %d", maxDone, len(payload))
	}

	size, err := o.Size(context.Background(), "s3://mirror/release/5/6.pwr")
	if err != nil || size != int64(len(payload)) {
		t.Errorf("Size = %d, %v", size, err)
	}
}

func slowBody(chunks int, gap time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(chunks))
		for i := 0; i < chunks; i++ {
			w.Write([]byte("x"))
			w.(http.Flusher).Flush()
			select {
			case <-time.After(gap):
			case <-r.Context().Done():
				return
			}
		}
	}
}

func TestFetchSlowStreamOutlivesClientTimeout(t *testing.T) {
	var gets atomic.Int32
	handler := slowBody(10, 60*time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gets.Add(1)
		handler(w, r)
	}))
	defer srv.Close()
	c := srv.Client()
	c.Timeout = 300 * time.Millisecond
	policy := utils.DefaultRetryPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	o := NewOrchestrator(utils.WrapHTTPClient(c, utils.HTTPClientConfig{}), policy, WithStallTimeout(time.Second))

	dest := filepath.Join(t.TempDir(), "a.pwr")
	if _, err := o.Fetch(context.Background(), srv.URL+"/a.pwr", dest, nil); err != nil {
		t.Fatalf("a steadily progressing stream must not be cut off: %v", err)
	}
	if n := gets.Load(); n != 1 {
		t.Errorf("GETs = %d, want 1", n)
	}
	if data, _ := os.ReadFile(dest); len(data) != 10 {
		t.Errorf("got %d bytes, want 10", len(data))
	}
}

func TestFetchStalledStreamIsRetried(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gets.Add(1)
		w.Header().Set("Content-Length", "10")
		w.Write([]byte("xx"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()
	policy := utils.DefaultRetryPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	o := NewOrchestrator(utils.WrapHTTPClient(srv.Client(), utils.HTTPClientConfig{}), policy, WithStallTimeout(100*time.Millisecond))

	dest := filepath.Join(t.TempDir(), "a.pwr")
	_, err := o.Fetch(context.Background(), srv.URL+"/a.pwr", dest, nil)
	if !utils.IsTransient(err) || !errors.Is(err, errStalled) {
		t.Fatalf("expected a transient stall error, got %v", err)
	}
	if utils.IsCancelled(err) {
		t.Error("a stall is not a cancellation")
	}
	if n := gets.Load(); n != 3 {
		t.Errorf("GETs = %d, want 3", n)
	}
	if _, err := os.Stat(dest + utils.PartSuffix); !errors.Is(err, os.ErrNotExist) {
		t.Error("partial file should be removed")
	}
}
