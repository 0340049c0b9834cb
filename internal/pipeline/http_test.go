package pipeline

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func newTestRunner(t *testing.T, url string, cfg Config) *HTTPRunner {
	t.Helper()
	cfg.BaseURL = url
	r, err := NewHTTPRunner(cfg)
	if err != nil {
		t.Fatalf("NewHTTPRunner: %v", err)
	}
	return r
}

func TestHTTPRunner_Success(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody RunRequest
	var gotHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotHeaders = r.Header
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	runner := newTestRunner(t, server.URL+"/", Config{Secret: "s3cret"})
	runner.clock = func() time.Time { return time.Date(2024, 1, 15, 18, 15, 0, 0, time.UTC) }

	if err := runner.RunPipeline(context.Background(), "p1", "j1"); err != nil {
		t.Fatalf("RunPipeline returned error: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotPath != "/projects/p1/pipelines/j1/run" {
		t.Errorf("path = %s, want /projects/p1/pipelines/j1/run", gotPath)
	}
	if gotBody.ProjectID != "p1" || gotBody.PipelineID != "j1" {
		t.Errorf("body = %+v, want p1/j1", gotBody)
	}
	if gotBody.TriggeredAt != "2024-01-15T18:15:00Z" {
		t.Errorf("triggeredAt = %q", gotBody.TriggeredAt)
	}
	if ct := gotHeaders.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if gotHeaders.Get(HeaderRequestID) == "" {
		t.Error("request id header should be set")
	}
}

func TestHTTPRunner_Signature(t *testing.T) {
	var body []byte
	var sig string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get(HeaderSignature)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	runner := newTestRunner(t, server.URL, Config{Secret: "s3cret"})
	if err := runner.RunPipeline(context.Background(), "p1", "j1"); err != nil {
		t.Fatalf("RunPipeline returned error: %v", err)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if sig != want {
		t.Errorf("signature = %q, want %q", sig, want)
	}
	if !VerifySignature("s3cret", body, sig) {
		t.Error("VerifySignature rejected a valid signature")
	}
	if VerifySignature("other", body, sig) {
		t.Error("VerifySignature accepted a signature for the wrong secret")
	}
}

func TestHTTPRunner_NoSecretNoSignature(t *testing.T) {
	var sig string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(HeaderSignature)
	}))
	defer server.Close()

	runner := newTestRunner(t, server.URL, Config{})
	if err := runner.RunPipeline(context.Background(), "p1", "j1"); err != nil {
		t.Fatalf("RunPipeline returned error: %v", err)
	}
	if sig != "" {
		t.Errorf("signature header = %q, want empty", sig)
	}
}

func TestHTTPRunner_Non2xx(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"not found", http.StatusNotFound},
		{"conflict", http.StatusConflict},
		{"server error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "pipeline is busy", tt.status)
			}))
			defer server.Close()

			err := newTestRunner(t, server.URL, Config{}).RunPipeline(context.Background(), "p1", "j1")
			if !errors.Is(err, ErrRunRejected) {
				t.Fatalf("err = %v, want ErrRunRejected", err)
			}
			var runErr *RunError
			if !errors.As(err, &runErr) {
				t.Fatalf("err %T is not *RunError", err)
			}
			if runErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", runErr.StatusCode, tt.status)
			}
			if runErr.Body != "pipeline is busy" {
				t.Errorf("Body = %q", runErr.Body)
			}
		})
	}
}

func TestHTTPRunner_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := newTestRunner(t, server.URL, Config{}).RunPipeline(ctx, "p1", "j1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestHTTPRunner_EscapesIDs(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
	}))
	defer server.Close()

	if err := newTestRunner(t, server.URL, Config{}).RunPipeline(context.Background(), "my project", "a/b"); err != nil {
		t.Fatalf("RunPipeline returned error: %v", err)
	}
	if gotPath != "/projects/my%20project/pipelines/a%2Fb/run" {
		t.Errorf("path = %s", gotPath)
	}
}

func TestHTTPRunner_RateLimited(t *testing.T) {
	var mu sync.Mutex
	var count int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
	}))
	defer server.Close()

	runner := newTestRunner(t, server.URL, Config{RateLimit: 0.001, Burst: 1})
	if err := runner.RunPipeline(context.Background(), "p1", "j1"); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := runner.RunPipeline(ctx, "p1", "j1"); err == nil {
		t.Error("second call within the limit window should fail on its deadline")
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("server saw %d calls, want 1", count)
	}
}

func TestNewHTTPRunner_InvalidBaseURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative/path"} {
		if _, err := NewHTTPRunner(Config{BaseURL: raw}); err == nil {
			t.Errorf("NewHTTPRunner(%q) should fail", raw)
		}
	}
}
