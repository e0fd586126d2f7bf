// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that pipeline steps send correct
// requests and to feed controlled responses without a live model backend.
//
// Example:
//
//	p := &mock.Provider{
//	    InvokeResponse: &llm.Response{Text: `{"segments": []}`},
//	}
//	resp, err := p.Invoke(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scribeval/pkg/provider/llm"
)

// InvokeCall records a single invocation of Invoke.
type InvokeCall struct {
	// Ctx is the context passed to Invoke.
	Ctx context.Context
	// Req is the Request passed to Invoke.
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider. Zero values for response
// fields cause methods to return zero values and nil errors. Set Err fields
// to inject errors. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// InvokeResponse is returned by Invoke. May be nil (returns nil, nil).
	InvokeResponse *llm.Response

	// InvokeErr, if non-nil, is returned as the error from Invoke.
	InvokeErr error

	// InvokeFunc, if non-nil, overrides InvokeResponse/InvokeErr entirely.
	// Useful for blocking until ctx cancellation or varying by request.
	InvokeFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)

	// ModelName is returned by Model. Defaults to "mock-model".
	ModelName string

	// --- Call records (read after test) ---

	// InvokeCalls records every invocation of Invoke in order.
	InvokeCalls []InvokeCall
}

// Compile-time assertion that Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Invoke records the call and returns the configured response.
func (p *Provider) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.InvokeCalls = append(p.InvokeCalls, InvokeCall{Ctx: ctx, Req: req})
	fn := p.InvokeFunc
	resp, err := p.InvokeResponse, p.InvokeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// Model returns ModelName or "mock-model" when unset.
func (p *Provider) Model() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ModelName == "" {
		return "mock-model"
	}
	return p.ModelName
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InvokeCalls = nil
}
