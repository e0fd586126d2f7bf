// Package llm defines the Provider interface for the model backends that
// execute evaluation pipeline steps.
//
// A provider wraps a remote or local model API (e.g., OpenAI GPT-4o, Anthropic
// Claude, or a local Ollama instance) and exposes a uniform single-shot
// invocation interface: a prompt, an optional JSON schema constraining the
// output, and optional audio media in. Text — and, when the backend can
// guarantee it, pre-parsed JSON — comes out.
//
// Implementors must be safe for concurrent use and must honour context
// cancellation: an in-flight invocation aborted via ctx must return ctx's
// error promptly.
package llm

import (
	"context"
	"encoding/json"
)

// OutputFormat selects the response shape requested from the model.
type OutputFormat string

const (
	// FormatText requests free-form text output.
	FormatText OutputFormat = "text"

	// FormatJSON requests a JSON object, constrained by Request.Schema when
	// one is provided.
	FormatJSON OutputFormat = "json"
)

// Media is a binary attachment sent alongside the prompt.
type Media struct {
	// Data is the raw media bytes.
	Data []byte

	// MIMEType identifies the encoding (e.g., "audio/wav", "audio/mpeg").
	MIMEType string
}

// Request carries everything one pipeline step invocation needs.
type Request struct {
	// Prompt is the fully-resolved user prompt. Must be non-empty.
	Prompt string

	// System is an optional system instruction injected before the prompt.
	System string

	// Format selects text or JSON output. Defaults to FormatText.
	Format OutputFormat

	// Schema is an optional JSON schema the output must conform to. Only
	// meaningful with FormatJSON. Providers that cannot enforce schemas
	// natively embed it as a prompt instruction instead.
	Schema json.RawMessage

	// SchemaName labels the schema for backends that require a name.
	SchemaName string

	// Audio is optional audio input for transcription-style steps. Providers
	// without audio support must return an error rather than silently
	// dropping it.
	Audio *Media

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// MaxOutputTokens caps the response length. Zero means provider default.
	MaxOutputTokens int

	// OnProgress is invoked opportunistically with a completion fraction in
	// [0, 1]. Providers that cannot observe intermediate progress call it
	// only on completion. May be nil.
	OnProgress func(fraction float64)
}

// Response is the outcome of one invocation.
type Response struct {
	// Text is the raw model output.
	Text string

	// Parsed is the output as validated JSON when the backend enforced the
	// requested schema itself. Nil when only Text is available — callers
	// fall back to extracting JSON from Text.
	Parsed json.RawMessage
}

// Provider is a single-shot model invocation backend.
type Provider interface {
	// Invoke performs one model call.
	Invoke(ctx context.Context, req Request) (*Response, error)

	// Model returns the model identifier this provider is bound to.
	Model() string
}
