package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/scribeval/internal/config"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: info
backend:
  job_service_url: "https://eval.example.com/api"
  run_store_url: "https://eval.example.com/api"
  api_key: "secret"
  poll_interval: 2s
  request_timeout: 10s
steps:
  transcription:
    provider:
      name: openai
      api_key: sk-test
      model: gpt-4o-audio-preview
    prompt: "Transcribe the audio. Language: {{language}}. Schema: {{schema}}"
  critique:
    provider:
      name: anthropic
      api_key: sk-ant-test
      model: claude-sonnet-4-5
    prompt: "Compare {{original_transcript}} with {{generated_transcript}}. Schema: {{schema}}"
evaluators:
  - id: transcript-quality
    eval_type: transcript
    language: en
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log level = %q, want info", cfg.Server.LogLevel)
	}
	if got := cfg.Backend.PollInterval.Std(); got != 2*time.Second {
		t.Errorf("poll interval = %v, want 2s", got)
	}
	if got := cfg.Backend.RequestTimeout.Std(); got != 10*time.Second {
		t.Errorf("request timeout = %v, want 10s", got)
	}
	if cfg.Steps.Normalization != nil {
		t.Error("normalization should be nil when the block is omitted")
	}
	if len(cfg.Evaluators) != 1 || cfg.Evaluators[0].ID != "transcript-quality" {
		t.Errorf("evaluators = %+v, want one entry transcript-quality", cfg.Evaluators)
	}
}

func TestLoadFromReader_EnvExpansion(t *testing.T) {
	t.Setenv("SCRIBEVAL_TEST_KEY", "sk-from-env")
	yaml := strings.Replace(validYAML, "api_key: sk-test", "api_key: ${SCRIBEVAL_TEST_KEY}", 1)
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got := cfg.Steps.Transcription.Provider.APIKey; got != "sk-from-env" {
		t.Errorf("api key = %q, want the expanded env value", got)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := validYAML + `
surprise: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestLoadFromReader_InvalidDuration(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "poll_interval: 2s", "poll_interval: 2 parsecs", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "duration") {
		t.Errorf("error should mention duration, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "log_level: info", "log_level: loud", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_MissingStepPrompt(t *testing.T) {
	t.Parallel()
	yaml := `
steps:
  transcription:
    provider:
      name: openai
      model: gpt-4o
  critique:
    provider:
      name: openai
      model: gpt-4o
    prompt: "Compare."
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing transcription prompt, got nil")
	}
	if !strings.Contains(err.Error(), "steps.transcription.prompt") {
		t.Errorf("error should name steps.transcription.prompt, got: %v", err)
	}
}

func TestValidate_MissingProviderModel(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "      model: gpt-4o-audio-preview\n", "", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing provider model, got nil")
	}
	if !strings.Contains(err.Error(), "provider.model") {
		t.Errorf("error should mention provider.model, got: %v", err)
	}
}

func TestValidate_TemperatureOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML,
		"    prompt: \"Transcribe the audio. Language: {{language}}. Schema: {{schema}}\"",
		"    prompt: \"Transcribe.\"\n    temperature: 3.5", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for temperature out of range, got nil")
	}
	if !strings.Contains(err.Error(), "temperature") {
		t.Errorf("error should mention temperature, got: %v", err)
	}
}

func TestValidate_DuplicateEvaluatorIDs(t *testing.T) {
	t.Parallel()
	yaml := validYAML + `  - id: transcript-quality
    eval_type: transcript
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate evaluator ids, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_BackendURLScheme(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML,
		`job_service_url: "https://eval.example.com/api"`,
		`job_service_url: "ftp://eval.example.com"`, 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-http backend URL, got nil")
	}
	if !strings.Contains(err.Error(), "http") {
		t.Errorf("error should mention http, got: %v", err)
	}
}

func TestValidate_NormalizationStepChecked(t *testing.T) {
	t.Parallel()
	yaml := validYAML + `
`
	yaml = strings.Replace(yaml, "evaluators:", `  normalization:
    provider:
      name: ollama
    prompt: ""
evaluators:`, 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for empty normalization prompt, got nil")
	}
	if !strings.Contains(err.Error(), "steps.normalization") {
		t.Errorf("error should name steps.normalization, got: %v", err)
	}
}
