package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known LLM provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek",
	"mistral", "groq", "llamacpp", "llamafile",
}

// ValidEvalTypes lists the evaluation types the backend currently files runs
// under. Used by [Validate] to warn about unrecognised types.
var ValidEvalTypes = []string{"transcript"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// ${VAR} and $VAR references are expanded from the environment before
// decoding, so secrets can stay out of the file.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Backend
	errs = append(errs, validateURL("backend.job_service_url", cfg.Backend.JobServiceURL)...)
	errs = append(errs, validateURL("backend.run_store_url", cfg.Backend.RunStoreURL)...)
	if cfg.Backend.JobServiceURL == "" {
		slog.Warn("backend.job_service_url is empty; backend job submission is disabled")
	}
	if cfg.Backend.RunStoreURL == "" && len(cfg.Evaluators) > 0 {
		slog.Warn("backend.run_store_url is empty; run reconciliation is disabled for configured evaluators")
	}

	// Steps
	errs = append(errs, validateStep("steps.transcription", cfg.Steps.Transcription)...)
	errs = append(errs, validateStep("steps.critique", cfg.Steps.Critique)...)
	if cfg.Steps.Normalization != nil {
		errs = append(errs, validateStep("steps.normalization", *cfg.Steps.Normalization)...)
	}

	// Evaluator duplicate ID detection
	idsSeen := make(map[string]int, len(cfg.Evaluators))

	// Evaluators
	for i, ev := range cfg.Evaluators {
		prefix := fmt.Sprintf("evaluators[%d]", i)
		if ev.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := idsSeen[ev.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of evaluators[%d]", prefix, ev.ID, prev))
			}
			idsSeen[ev.ID] = i
		}
		if ev.EvalType != "" && !slices.Contains(ValidEvalTypes, ev.EvalType) {
			slog.Warn("unknown eval type — may be a typo or a type this client predates",
				"evaluator", ev.ID,
				"eval_type", ev.EvalType,
				"known", ValidEvalTypes,
			)
		}
	}

	return errors.Join(errs...)
}

// validateStep checks the common per-step fields. prefix names the step in
// error messages (e.g., "steps.transcription").
func validateStep(prefix string, step StepConfig) []error {
	var errs []error
	if step.Prompt == "" {
		errs = append(errs, fmt.Errorf("%s.prompt is required", prefix))
	}
	if step.Provider.Name == "" {
		errs = append(errs, fmt.Errorf("%s.provider.name is required", prefix))
	} else {
		validateProviderName(prefix, step.Provider.Name)
	}
	if step.Provider.Name != "" && step.Provider.Model == "" {
		errs = append(errs, fmt.Errorf("%s.provider.model is required", prefix))
	}
	if step.Temperature < 0 || step.Temperature > 2 {
		errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0, 2]", prefix, step.Temperature))
	}
	if step.MaxOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("%s.max_output_tokens must not be negative", prefix))
	}
	for i, fb := range step.Fallbacks {
		fbPrefix := fmt.Sprintf("%s.fallbacks[%d]", prefix, i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", fbPrefix))
		} else {
			validateProviderName(fbPrefix, fb.Name)
		}
		if fb.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", fbPrefix))
		}
	}
	return errs
}

// validateURL checks that value, when non-empty, is an absolute http(s) URL.
func validateURL(field, value string) []error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s %q is not a valid URL: %w", field, value, err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{fmt.Errorf("%s %q must use http or https", field, value)}
	}
	if u.Host == "" {
		return []error{fmt.Errorf("%s %q is missing a host", field, value)}
	}
	return nil
}

// validateProviderName logs a warning if name is not found in
// [ValidProviderNames].
func validateProviderName(prefix, name string) {
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"step", prefix,
		"name", name,
		"known", ValidProviderNames,
	)
}
