package resilience

import (
	"context"

	"github.com/MrWong99/scribeval/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Invoke sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried. Context
// cancellation is returned as-is instead of wrapped in [ErrAllFailed] so
// callers can still detect it with errors.Is.
func (f *LLMFallback) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var ctxErr error
	resp, err := ExecuteWithResult(f.group, func(p llm.Provider) (*llm.Response, error) {
		r, innerErr := p.Invoke(ctx, req)
		if innerErr != nil && ctx.Err() != nil {
			ctxErr = innerErr
		}
		return r, innerErr
	})
	if err != nil && ctxErr != nil {
		return nil, ctxErr
	}
	return resp, err
}

// Model reports the primary's model. This does not participate in failover
// because it is static metadata.
func (f *LLMFallback) Model() string {
	return f.group.entries[0].value.Model()
}
