// Package config provides the configuration schema, loader, and provider
// registry for the scribeval evaluation client.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the scribeval client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration is a time.Duration that unmarshals from Go duration strings
// ("500ms", "2s", "1m30s") in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"2s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for scribeval.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Backend    BackendConfig     `yaml:"backend"`
	Steps      StepsConfig       `yaml:"steps"`
	Evaluators []EvaluatorConfig `yaml:"evaluators"`
}

// ServerConfig holds logging and debug endpoint settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the debug HTTP server exposing
	// /metrics and /healthz (e.g., ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// BackendConfig describes the evaluation backend the client talks to.
type BackendConfig struct {
	// JobServiceURL is the base URL of the job service (submit/get/cancel).
	// Empty disables backend job submission; local evaluation still works.
	JobServiceURL string `yaml:"job_service_url"`

	// RunStoreURL is the base URL of the run store used for reconciliation.
	// Empty disables run reconciliation.
	RunStoreURL string `yaml:"run_store_url"`

	// APIKey authenticates requests to both backend services, if required.
	APIKey string `yaml:"api_key"`

	// PollInterval is the base interval between job status probes.
	// Zero means the client default.
	PollInterval Duration `yaml:"poll_interval"`

	// RequestTimeout is the per-request HTTP timeout for backend calls.
	// Zero means no client-side timeout.
	RequestTimeout Duration `yaml:"request_timeout"`

	// StaleAfter is how long a run may report "running" without a live local
	// handle before it is presented as failed. Zero means the default (10m).
	StaleAfter Duration `yaml:"stale_after"`
}

// StepsConfig configures the evaluation pipeline steps.
type StepsConfig struct {
	// Transcription and Critique are the two mandatory steps.
	Transcription StepConfig `yaml:"transcription"`
	Critique      StepConfig `yaml:"critique"`

	// Normalization, when present, inserts the optional normalization step
	// between transcription and critique. Omitting the block disables it.
	Normalization *StepConfig `yaml:"normalization"`
}

// StepConfig is the common configuration block for one pipeline step.
type StepConfig struct {
	// Provider selects and configures the LLM backing this step.
	Provider ProviderEntry `yaml:"provider"`

	// Prompt is the step's prompt template with {{variable}} placeholders.
	Prompt string `yaml:"prompt"`

	// SystemPrompt is an optional system instruction.
	SystemPrompt string `yaml:"system_prompt"`

	// Temperature in [0, 2]. Zero means provider default.
	Temperature float64 `yaml:"temperature"`

	// MaxOutputTokens caps the response length. Zero means provider default.
	MaxOutputTokens int `yaml:"max_output_tokens"`

	// Fallbacks lists alternative providers tried in order when the primary
	// fails or its circuit breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// ProviderEntry is the common configuration block shared by all LLM providers.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// EvaluatorConfig describes a single evaluator the client runs.
type EvaluatorConfig struct {
	// ID is the evaluator's unique identifier (e.g., "transcript-quality").
	ID string `yaml:"id"`

	// EvalType is the evaluation type the backend files runs under.
	EvalType string `yaml:"eval_type"`

	// Language is the expected language of the audio, passed to the
	// transcription prompt (e.g., "en", "de").
	Language string `yaml:"language"`
}
