// Package runstore provides the HTTP client for the evaluation backend's run
// store: the authoritative record of evaluator runs. The reconciler always
// re-fetches from here after a run settles rather than trusting local state.
package runstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/MrWong99/scribeval/pkg/types"
)

// RunStatus is the lifecycle state of a backend evaluator run.
type RunStatus string

const (
	RunPending             RunStatus = "pending"
	RunRunning             RunStatus = "running"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
	RunCancelled           RunStatus = "cancelled"
)

// IsValid reports whether s is a recognised run status.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunPending, RunRunning, RunCompleted, RunCompletedWithErrors, RunFailed, RunCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the run has settled.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunCompletedWithErrors, RunFailed, RunCancelled:
		return true
	}
	return false
}

// Run is the backend's record of one evaluator execution.
type Run struct {
	ID          string `json:"id"`
	EvaluatorID string `json:"evaluatorId"`
	AppID       string `json:"appId,omitempty"`

	// ListingID and SessionID bind the run to its owning entity. The backend
	// sets exactly one of them.
	ListingID string `json:"listingId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`

	Status RunStatus `json:"status"`

	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	ErrorMessage string `json:"errorMessage,omitempty"`

	// Result is the folded step output of the run, present once terminal.
	Result *types.EvalResult `json:"result,omitempty"`
}

// Filter selects runs by owning entity and evaluation type. Exactly one of
// ListingID or SessionID must be set.
type Filter struct {
	ListingID string
	SessionID string
	EvalType  string
}

// Validate checks the mutually-exclusive entity binding.
func (f Filter) Validate() error {
	var errs []error
	if f.ListingID == "" && f.SessionID == "" {
		errs = append(errs, errors.New("runstore: filter requires listingId or sessionId"))
	}
	if f.ListingID != "" && f.SessionID != "" {
		errs = append(errs, errors.New("runstore: listingId and sessionId are mutually exclusive"))
	}
	return errors.Join(errs...)
}

// query renders the filter as URL query parameters.
func (f Filter) query() string {
	q := url.Values{}
	if f.ListingID != "" {
		q.Set("listingId", f.ListingID)
	}
	if f.SessionID != "" {
		q.Set("sessionId", f.SessionID)
	}
	if f.EvalType != "" {
		q.Set("evalType", f.EvalType)
	}
	return q.Encode()
}

// Store is the run store as consumed by the reconciler. *Client is the HTTP
// implementation; tests substitute the mock subpackage.
type Store interface {
	// FetchRuns returns all runs matching the filter, newest first.
	FetchRuns(ctx context.Context, f Filter) ([]Run, error)

	// FetchLatestRun returns the most recent run matching the filter, or
	// (nil, nil) when no run exists.
	FetchLatestRun(ctx context.Context, f Filter) (*Run, error)
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAPIKey sets a Bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// Client talks to the run store over HTTP. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Compile-time assertion that Client implements Store.
var _ Store = (*Client)(nil)

// New creates a Client for the run store at baseURL. baseURL must be
// non-empty.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("runstore: baseURL must not be empty")
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

// FetchRuns implements [Store].
func (c *Client) FetchRuns(ctx context.Context, f Filter) ([]Run, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var runs []Run
	if err := c.get(ctx, "/api/runs?"+f.query(), &runs); err != nil {
		return nil, fmt.Errorf("runstore: fetch runs: %w", err)
	}
	return runs, nil
}

// FetchLatestRun implements [Store].
func (c *Client) FetchLatestRun(ctx context.Context, f Filter) (*Run, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var run Run
	err := c.get(ctx, "/api/runs/latest?"+f.query(), &run)
	if errors.Is(err, errNoContent) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("runstore: fetch latest run: %w", err)
	}
	return &run, nil
}

// errNoContent marks a 404/204 from the latest-run endpoint: not an error,
// just no run yet.
var errNoContent = errors.New("no run")

// get executes one GET round trip and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return errNoContent
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
