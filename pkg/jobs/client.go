// Package jobs provides the HTTP client for the evaluation backend's job
// service: submit a job, read its status, cancel it, and the composite
// [SubmitAndPoll] helper that waits for a terminal state via [poll.Poll].
//
// Cancellation is cooperative and best-effort: the backend's cancel endpoint
// carries no acknowledgement, so a job may still run to completion after a
// cancel request. Callers must treat a subsequent terminal status as possibly
// "completed" even after requesting cancellation.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/MrWong99/scribeval/pkg/poll"
)

// ErrJobNotFound is returned when the backend reports no job for the given id.
var ErrJobNotFound = errors.New("jobs: job not found")

// defaultPollInterval is the base interval used by [SubmitAndPoll] when the
// caller does not override it.
const defaultPollInterval = 2 * time.Second

// maxBackoff caps the additional delay applied after consecutive poll errors.
const maxBackoff = time.Minute

// Service is the job backend as consumed by the orchestrator. *Client is the
// HTTP implementation; tests substitute the mock subpackage.
type Service interface {
	// Submit enqueues a new job of the given type and returns the backend's
	// initial record of it.
	Submit(ctx context.Context, jobType string, params any) (*Job, error)

	// Get fetches the backend's current record of the job.
	Get(ctx context.Context, id string) (*Job, error)

	// Cancel requests cancellation. Fire-and-forget on the backend side: a
	// nil error means the request was accepted, not that the job stopped.
	Cancel(ctx context.Context, id string) error
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAPIKey sets a Bearer token sent in the Authorization header of every
// request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// Client talks to the job service over HTTP. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Compile-time assertion that Client implements Service.
var _ Service = (*Client)(nil)

// New creates a Client for the job service at baseURL
// (e.g., "https://api.example.com"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("jobs: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Submit implements [Service].
func (c *Client) Submit(ctx context.Context, jobType string, params any) (*Job, error) {
	if jobType == "" {
		return nil, errors.New("jobs: jobType must not be empty")
	}

	body, err := json.Marshal(struct {
		Type   string `json:"type"`
		Params any    `json:"params,omitempty"`
	}{Type: jobType, Params: params})
	if err != nil {
		return nil, fmt.Errorf("jobs: marshal submit request: %w", err)
	}

	var job Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs", bytes.NewReader(body), &job); err != nil {
		return nil, fmt.Errorf("jobs: submit %q: %w", jobType, err)
	}
	return &job, nil
}

// Get implements [Service].
func (c *Client) Get(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		return nil, errors.New("jobs: id must not be empty")
	}
	var job Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, fmt.Errorf("jobs: get %q: %w", id, err)
	}
	return &job, nil
}

// Cancel implements [Service].
func (c *Client) Cancel(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("jobs: id must not be empty")
	}
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("jobs: cancel %q: %w", id, err)
	}
	return nil
}

// SubmitAndPollOptions tunes [SubmitAndPoll].
type SubmitAndPollOptions struct {
	// OnProgress is invoked with every non-nil progress observed while
	// polling. May be nil. Called from the polling goroutine; keep it cheap.
	OnProgress func(Progress)

	// Interval overrides the base polling interval. Default: 2s.
	Interval time.Duration
}

// SubmitAndPoll submits a job and polls it until the backend reports a
// terminal status, returning the final job record. Transient poll errors are
// retried with exponential backoff.
//
// When ctx is cancelled mid-flight, a best-effort Cancel is issued against
// the backend on a detached short-lived context before the wrapped
// [poll.ErrCancelled] is returned. The backend job may nonetheless run to
// completion.
func SubmitAndPoll(ctx context.Context, svc Service, jobType string, params any, opts SubmitAndPollOptions) (*Job, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	job, err := svc.Submit(ctx, jobType, params)
	if err != nil {
		return nil, err
	}

	final, err := poll.Poll(ctx, func(ctx context.Context) (poll.Result[*Job], error) {
		j, err := svc.Get(ctx, job.ID)
		if err != nil {
			return poll.Result[*Job]{}, err
		}
		if j.Progress != nil && opts.OnProgress != nil {
			opts.OnProgress(*j.Progress)
		}
		return poll.Result[*Job]{Done: j.Status.IsTerminal(), Data: j}, nil
	}, poll.Options{
		Interval: interval,
		Backoff:  poll.ExpBackoff(interval, maxBackoff),
	})

	if errors.Is(err, poll.ErrCancelled) {
		// Best-effort backend cancel on a detached context; its own failure
		// is swallowed because the caller is already on the way out.
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if cerr := svc.Cancel(cancelCtx, job.ID); cerr != nil {
			slog.Warn("jobs: best-effort cancel failed", "job_id", job.ID, "err", cerr)
		}
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: poll %q: %w", job.ID, err)
	}
	return final, nil
}

// do executes one HTTP round trip and decodes a JSON response into out when
// out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrJobNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
