// Package evaluation drives the fixed multi-step transcript evaluation
// pipeline: transcription, optional normalization, then the segment-level
// critique comparing the generated transcript against the original.
//
// The [Orchestrator] runs the pipeline in one of two ways. [Orchestrator.Evaluate]
// executes each step locally against a configured [llm.Provider], with
// per-step validation, progress reporting, and defensive response parsing.
// [Orchestrator.RunJob] instead submits the whole pipeline as a backend job
// and tracks it by polling, mapping the backend's progress messages onto the
// same pipeline stages.
//
// Steps execute strictly sequentially: a step never starts before the prior
// step's validation and execution both complete. Cancellation propagates from
// the caller's context into the in-flight model or backend call and is
// returned unmasked.
package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/scribeval/internal/observe"
	"github.com/MrWong99/scribeval/pkg/jobs"
	"github.com/MrWong99/scribeval/pkg/provider/llm"
	"github.com/MrWong99/scribeval/pkg/types"
)

// Stage identifies one phase of the pipeline as presented to the caller.
type Stage string

const (
	StagePreparing    Stage = "preparing"
	StageTranscribing Stage = "transcribing"
	StageNormalizing  Stage = "normalizing"
	StageCritiquing   Stage = "critiquing"
	StageComplete     Stage = "complete"
	StageFailed       Stage = "failed"
)

// Progress is one observed point of pipeline progress. Percent is in
// [0, 100] and never decreases within a stage.
type Progress struct {
	Stage   Stage
	Percent float64
	Message string
}

// Validation is the outcome of a step's pre-execution gate. A step with
// validation errors is never invoked.
type Validation struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether the step may execute.
func (v Validation) Valid() bool { return len(v.Errors) == 0 }

// StepConfig configures one pipeline step.
type StepConfig struct {
	// Provider executes the step's model call.
	Provider llm.Provider

	// PromptTemplate is the step's prompt with {{variable}} placeholders.
	PromptTemplate string

	// SystemPrompt is an optional system instruction.
	SystemPrompt string

	// Temperature and MaxOutputTokens pass through to the provider. Zero
	// means provider default.
	Temperature     float64
	MaxOutputTokens int
}

// Config configures an [Orchestrator].
type Config struct {
	// Transcription and Critique are the two mandatory pipeline steps.
	Transcription StepConfig
	Critique      StepConfig

	// Normalization, when non-nil, inserts the optional normalization step
	// between transcription and critique.
	Normalization *StepConfig

	// Jobs is the backend job service used by [Orchestrator.RunJob]. May be
	// nil when only local evaluation is used.
	Jobs jobs.Service

	// OnProgress receives pipeline progress. May be nil.
	OnProgress func(Progress)

	// PollInterval is the base interval for [Orchestrator.RunJob] polling.
	// Zero means the job client default.
	PollInterval time.Duration
}

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithMetrics replaces the default metrics instance. Tests use this with a
// manual-reader provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator runs evaluation pipelines. Progress state is tracked per
// instance, so run at most one Evaluate or RunJob per Orchestrator at a time;
// concurrent evaluators each get their own instance.
type Orchestrator struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	progressMu sync.Mutex
	lastStage  Stage
	lastPct    float64
}

// New creates an Orchestrator. Step-level configuration is checked lazily by
// each step's validation gate, not here, so a job-only orchestrator needs no
// providers.
func New(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// The critique step's elapsed-time progress stays below this percentage until
// the response is parsed, reserving the tail of the bar for parsing and
// statistics.
const critiqueParseReserve = 80

// critiqueHorizon is the elapsed time at which the critique step's
// time-based progress saturates just under the parse reserve.
const critiqueHorizon = 2 * time.Minute

// Input is the material one local evaluation runs against.
type Input struct {
	// Audio is the source recording handed to the transcription step.
	Audio *llm.Media

	// Original is the human reference transcript the critique compares
	// against.
	Original types.Transcript

	// Language hints the expected transcript language (BCP-47).
	Language string
}

// Evaluate runs the local pipeline against in and folds each step's output
// into the result. It never panics. A validation or parse failure surfaces as
// a nil result and a descriptive error with the failed stage already reported
// via OnProgress; context cancellation is returned unmasked so callers can
// distinguish it with [errors.Is].
func (o *Orchestrator) Evaluate(ctx context.Context, in Input) (*types.EvalResult, error) {
	ctx, span := observe.StartSpan(ctx, "evaluation.run")
	defer span.End()

	runStart := time.Now()
	o.report(StagePreparing, 0, "preparing evaluation")

	result := &types.EvalResult{}

	transcription, err := o.runStep(ctx, StageTranscribing, o.cfg.Transcription,
		func() Validation { return o.validateTranscription(in) },
		func(ctx context.Context) (*types.StepResult, error) {
			return o.executeTranscription(ctx, in)
		})
	if err != nil {
		return nil, o.fail(ctx, runStart, err)
	}
	result.Transcription = transcription
	generated := *transcription.Transcript

	if o.cfg.Normalization != nil {
		normalization, err := o.runStep(ctx, StageNormalizing, *o.cfg.Normalization,
			func() Validation { return o.validateNormalization(generated) },
			func(ctx context.Context) (*types.StepResult, error) {
				return o.executeNormalization(ctx, generated)
			})
		if err != nil {
			return nil, o.fail(ctx, runStart, err)
		}
		result.Normalization = normalization
		generated = *normalization.Transcript
	}

	critique, err := o.runStep(ctx, StageCritiquing, o.cfg.Critique,
		func() Validation { return o.validateCritique(in, generated) },
		func(ctx context.Context) (*types.StepResult, error) {
			return o.executeCritique(ctx, in.Original, generated)
		})
	if err != nil {
		return nil, o.fail(ctx, runStart, err)
	}
	result.Evaluation = critique

	o.report(StageComplete, 100, "evaluation complete")
	o.metrics.RecordRunDuration(ctx, "completed", time.Since(runStart).Seconds())
	return result, nil
}

// runStep gates one step behind its validation, times it, and records the
// outcome.
func (o *Orchestrator) runStep(ctx context.Context, stage Stage, cfg StepConfig,
	validate func() Validation,
	execute func(context.Context) (*types.StepResult, error),
) (*types.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := validate()
	for _, w := range v.Warnings {
		o.log.Warn("evaluation: step validation warning", "stage", stage, "warning", w)
	}
	if !v.Valid() {
		return nil, fmt.Errorf("evaluation: %s validation failed: %s", stage, strings.Join(v.Errors, "; "))
	}

	ctx, span := observe.StartSpan(ctx, "evaluation.step."+string(stage))
	defer span.End()

	o.report(stage, 0, "starting "+string(stage))
	start := time.Now()
	res, err := execute(ctx)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = "cancelled"
		}
	}
	o.metrics.RecordStepDuration(ctx, string(stage), status, elapsed.Seconds())
	o.metrics.LLMDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(observe.Attr("model", cfg.Provider.Model())))
	if err != nil {
		return nil, err
	}

	o.report(stage, 100, string(stage)+" complete")
	o.log.Info("evaluation: step complete", "stage", stage, "model", cfg.Provider.Model(), "duration", elapsed)
	return res, nil
}

// fail reports the absorbing failed state and records the run. Cancellation
// is not logged as an error and passes through unmasked.
func (o *Orchestrator) fail(ctx context.Context, runStart time.Time, err error) error {
	status := "failed"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = "cancelled"
		o.log.Info("evaluation: run cancelled")
	} else {
		o.log.Error("evaluation: run failed", "err", err)
	}
	o.report(StageFailed, 100, err.Error())
	o.metrics.RecordRunDuration(ctx, status, time.Since(runStart).Seconds())
	return err
}

func (o *Orchestrator) validateTranscription(in Input) Validation {
	var v Validation
	if in.Audio == nil || len(in.Audio.Data) == 0 {
		v.Errors = append(v.Errors, "no audio input")
	}
	v.Errors = append(v.Errors, validateStepConfig(o.cfg.Transcription, "language", "schema")...)
	if len(in.Original.Segments) == 0 {
		v.Warnings = append(v.Warnings, "original transcript is empty; critique step will fail")
	}
	return v
}

func (o *Orchestrator) validateNormalization(generated types.Transcript) Validation {
	var v Validation
	if len(generated.Segments) == 0 {
		v.Errors = append(v.Errors, "transcription step produced no segments")
	}
	v.Errors = append(v.Errors, validateStepConfig(*o.cfg.Normalization, "language", "schema", "transcript")...)
	return v
}

func (o *Orchestrator) validateCritique(in Input, generated types.Transcript) Validation {
	var v Validation
	if len(in.Original.Segments) == 0 {
		v.Errors = append(v.Errors, "no original transcript to compare against")
	}
	if len(generated.Segments) == 0 {
		v.Errors = append(v.Errors, "prior step produced no segments")
	}
	v.Errors = append(v.Errors, validateStepConfig(o.cfg.Critique,
		"schema", "original_transcript", "generated_transcript")...)
	return v
}

// validateStepConfig checks the step's static configuration: a provider, a
// prompt, and no placeholders outside the step's allowed variable set.
func validateStepConfig(cfg StepConfig, allowedVars ...string) []string {
	var errs []string
	if cfg.Provider == nil {
		errs = append(errs, "no model provider configured")
	}
	if strings.TrimSpace(cfg.PromptTemplate) == "" {
		errs = append(errs, "no prompt template configured")
	}
	allowed := make(map[string]struct{}, len(allowedVars))
	for _, v := range allowedVars {
		allowed[v] = struct{}{}
	}
	for _, v := range templateVars(cfg.PromptTemplate) {
		if _, ok := allowed[v]; !ok {
			errs = append(errs, fmt.Sprintf("prompt template references unknown variable %q", v))
		}
	}
	return errs
}

func (o *Orchestrator) executeTranscription(ctx context.Context, in Input) (*types.StepResult, error) {
	cfg := o.cfg.Transcription
	prompt, err := renderPrompt(cfg.PromptTemplate, map[string]string{
		"language": in.Language,
		"schema":   string(transcriptSchema),
	})
	if err != nil {
		return nil, err
	}

	resp, err := cfg.Provider.Invoke(ctx, llm.Request{
		Prompt:          prompt,
		System:          cfg.SystemPrompt,
		Format:          llm.FormatJSON,
		Schema:          transcriptSchema,
		SchemaName:      "transcript",
		Audio:           in.Audio,
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
		OnProgress: func(frac float64) {
			o.report(StageTranscribing, frac*100, "transcribing audio")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation: transcription: %w", err)
	}

	var payload transcriptPayload
	if err := o.decode(ctx, resp, &payload); err != nil {
		return nil, fmt.Errorf("evaluation: transcription: %w", err)
	}
	transcript := payload.toTranscript()
	return &types.StepResult{
		Model:       cfg.Provider.Model(),
		GeneratedAt: time.Now().UTC(),
		Transcript:  &transcript,
	}, nil
}

func (o *Orchestrator) executeNormalization(ctx context.Context, generated types.Transcript) (*types.StepResult, error) {
	cfg := *o.cfg.Normalization
	transcriptJSON, err := json.Marshal(generated)
	if err != nil {
		return nil, fmt.Errorf("evaluation: normalization: marshal transcript: %w", err)
	}
	prompt, err := renderPrompt(cfg.PromptTemplate, map[string]string{
		"language":   generated.Language,
		"schema":     string(transcriptSchema),
		"transcript": string(transcriptJSON),
	})
	if err != nil {
		return nil, err
	}

	resp, err := cfg.Provider.Invoke(ctx, llm.Request{
		Prompt:          prompt,
		System:          cfg.SystemPrompt,
		Format:          llm.FormatJSON,
		Schema:          transcriptSchema,
		SchemaName:      "transcript",
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
		OnProgress: func(frac float64) {
			o.report(StageNormalizing, frac*100, "normalizing transcript")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation: normalization: %w", err)
	}

	var payload transcriptPayload
	if err := o.decode(ctx, resp, &payload); err != nil {
		return nil, fmt.Errorf("evaluation: normalization: %w", err)
	}
	transcript := payload.toTranscript()
	return &types.StepResult{
		Model:       cfg.Provider.Model(),
		GeneratedAt: time.Now().UTC(),
		Transcript:  &transcript,
	}, nil
}

func (o *Orchestrator) executeCritique(ctx context.Context, original, generated types.Transcript) (*types.StepResult, error) {
	cfg := o.cfg.Critique
	prompt, err := renderPrompt(cfg.PromptTemplate, map[string]string{
		"schema":               string(critiqueSchema),
		"original_transcript":  original.PlainText(),
		"generated_transcript": generated.PlainText(),
	})
	if err != nil {
		return nil, err
	}

	// The critique call runs for minutes with no intermediate signal from the
	// model, so progress is driven by elapsed time, saturating just under the
	// parse reserve.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		start := time.Now()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				frac := math.Min(time.Since(start).Seconds()/critiqueHorizon.Seconds(), 1)
				o.report(StageCritiquing, frac*(critiqueParseReserve-1), "awaiting model critique")
			}
		}
	}()

	resp, err := cfg.Provider.Invoke(ctx, llm.Request{
		Prompt:          prompt,
		System:          cfg.SystemPrompt,
		Format:          llm.FormatJSON,
		Schema:          critiqueSchema,
		SchemaName:      "critique",
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation: critique: %w", err)
	}

	o.report(StageCritiquing, critiqueParseReserve, "parsing critique")
	var payload critiquePayload
	if err := o.decode(ctx, resp, &payload); err != nil {
		return nil, fmt.Errorf("evaluation: critique: %w", err)
	}
	normalizeCritiques(payload.Segments)

	o.report(StageCritiquing, 90, "computing statistics")
	stats := payload.Statistics
	if stats == nil {
		derived := DeriveStatistics(payload.Segments)
		stats = &derived
	}

	return &types.StepResult{
		Model:       cfg.Provider.Model(),
		GeneratedAt: time.Now().UTC(),
		Critiques:   payload.Segments,
		Statistics:  stats,
	}, nil
}

// decode parses a model response, counting permissive-fallback parses.
func (o *Orchestrator) decode(ctx context.Context, resp *llm.Response, out any) error {
	fallback, err := decodeResponse(resp, out)
	if fallback {
		o.metrics.ParseFallbacks.Add(ctx, 1)
		o.log.Warn("evaluation: model response required permissive JSON extraction")
	}
	return err
}

// report emits progress, clamping Percent so it never decreases within a
// stage. An empty stage resolves to the current one.
func (o *Orchestrator) report(stage Stage, pct float64, msg string) {
	if o.cfg.OnProgress == nil {
		return
	}
	o.progressMu.Lock()
	if stage == "" {
		stage = o.lastStage
		if stage == "" {
			stage = StagePreparing
		}
	}
	if stage == o.lastStage && pct < o.lastPct {
		pct = o.lastPct
	}
	o.lastStage, o.lastPct = stage, pct
	o.progressMu.Unlock()
	o.cfg.OnProgress(Progress{Stage: stage, Percent: pct, Message: msg})
}
