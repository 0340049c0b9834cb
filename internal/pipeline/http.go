// Package pipeline is the client for the external pipeline-run service.
package pipeline

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	HeaderSignature = "X-Pipecron-Signature"
	HeaderRequestID = "X-Pipecron-Request-ID"
)

// ErrRunRejected matches every *RunError.
var ErrRunRejected = errors.New("pipeline run rejected")

// RunError is returned when the service answers with a non-2xx status.
type RunError struct {
	ProjectID  string
	PipelineID string
	StatusCode int
	Body       string
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("pipeline %s/%s: run rejected with status %d", e.ProjectID, e.PipelineID, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *RunError) Is(target error) bool { return target == ErrRunRejected }

// RunRequest is the body posted to the run endpoint.
type RunRequest struct {
	ProjectID   string `json:"projectId"`
	PipelineID  string `json:"pipelineId"`
	TriggeredAt string `json:"triggeredAt"`
}

type Config struct {
	BaseURL string
	Secret  string
	// RateLimit caps outbound run calls per second. Zero means unlimited.
	RateLimit float64
	Burst     int
}

type HTTPRunner struct {
	client  *http.Client
	baseURL string
	secret  string
	limiter *rate.Limiter
	clock   func() time.Time
}

func NewHTTPRunner(cfg Config) (*HTTPRunner, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid pipeline base url %q", cfg.BaseURL)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &HTTPRunner{
		client:  &http.Client{},
		baseURL: base.String(),
		secret:  cfg.Secret,
		limiter: limiter,
		clock:   time.Now,
	}, nil
}

// WithHTTPClient replaces the underlying client.
func (r *HTTPRunner) WithHTTPClient(c *http.Client) *HTTPRunner {
	r.client = c
	return r
}

// RunPipeline posts a signed run request. The deadline comes from ctx.
func (r *HTTPRunner) RunPipeline(ctx context.Context, projectID, pipelineID string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	body, err := json.Marshal(RunRequest{
		ProjectID:   projectID,
		PipelineID:  pipelineID,
		TriggeredAt: r.clock().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	endpoint := fmt.Sprintf("%s/projects/%s/pipelines/%s/run",
		r.baseURL, url.PathEscape(projectID), url.PathEscape(pipelineID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestID, uuid.NewString())
	if r.secret != "" {
		req.Header.Set(HeaderSignature, computeSignature(r.secret, body))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &RunError{
			ProjectID:  projectID,
			PipelineID: pipelineID,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for pipeline services to verify incoming run requests.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
