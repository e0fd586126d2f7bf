// Command scribeval is the evaluation client CLI. It runs the multi-step
// transcript evaluation pipeline either locally against an audio file or as a
// backend job tracked through the run store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scribeval/internal/config"
	"github.com/MrWong99/scribeval/internal/evaluation"
	"github.com/MrWong99/scribeval/internal/health"
	"github.com/MrWong99/scribeval/internal/observe"
	"github.com/MrWong99/scribeval/internal/resilience"
	"github.com/MrWong99/scribeval/internal/run"
	"github.com/MrWong99/scribeval/internal/taskreg"
	"github.com/MrWong99/scribeval/pkg/jobs"
	"github.com/MrWong99/scribeval/pkg/poll"
	"github.com/MrWong99/scribeval/pkg/runstore"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(runMain())
}

func runMain() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	audioPath := flag.String("audio", "", "audio file for a local evaluation (skips the backend)")
	referencePath := flag.String("reference", "", "reference transcript for -audio (JSON transcript or plain text)")
	listingID := flag.String("listing", "", "listing id to evaluate (mutually exclusive with -session)")
	sessionID := flag.String("session", "", "session id to evaluate (mutually exclusive with -listing)")
	appID := flag.String("app", "scribeval", "application id reported to the backend")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "scribeval: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "scribeval: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("scribeval starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Only the log level is applied live; anything else needs a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		for _, sc := range d.StepChanges {
			slog.Warn("step configuration changed on disk; restart to apply", "step", sc.Step)
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable; hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOtel, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "scribeval",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownOtel(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A second interrupt skips graceful teardown.
	go func() {
		<-ctx.Done()
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		fmt.Fprintln(os.Stderr, "scribeval: forced exit")
		os.Exit(1)
	}()

	// ── Debug server (/metrics, /healthz, /readyz) ────────────────────────────
	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		health.New(backendCheckers(cfg)...).Register(mux)

		srv := &http.Server{
			Addr:    cfg.Server.ListenAddr,
			Handler: observe.Middleware(observe.DefaultMetrics())(mux),
		}
		go func() {
			slog.Info("debug server listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("debug server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("debug server shutdown error", "err", err)
			}
		}()
	}

	// ── Pipeline steps ────────────────────────────────────────────────────────
	reg := config.DefaultRegistry()
	steps, err := buildSteps(cfg, reg)
	if err != nil {
		slog.Error("failed to build pipeline steps", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	if *audioPath != "" {
		return runLocal(ctx, cfg, steps, *audioPath, *referencePath)
	}
	return runBackend(ctx, cfg, steps, *listingID, *sessionID, *appID)
}

// pipelineSteps holds the fully constructed per-step configs, providers included.
type pipelineSteps struct {
	transcription evaluation.StepConfig
	critique      evaluation.StepConfig
	normalization *evaluation.StepConfig
}

// buildSteps instantiates the LLM provider for every configured step and maps
// the config blocks onto orchestrator step configs.
func buildSteps(cfg *config.Config, reg *config.Registry) (pipelineSteps, error) {
	var steps pipelineSteps
	var err error

	steps.transcription, err = buildStep(reg, "transcription", cfg.Steps.Transcription)
	if err != nil {
		return steps, err
	}
	steps.critique, err = buildStep(reg, "critique", cfg.Steps.Critique)
	if err != nil {
		return steps, err
	}
	if cfg.Steps.Normalization != nil {
		sc, err := buildStep(reg, "normalization", *cfg.Steps.Normalization)
		if err != nil {
			return steps, err
		}
		steps.normalization = &sc
	}
	return steps, nil
}

func buildStep(reg *config.Registry, name string, sc config.StepConfig) (evaluation.StepConfig, error) {
	provider, err := reg.CreateLLM(sc.Provider)
	if err != nil {
		return evaluation.StepConfig{}, fmt.Errorf("create %s provider %q: %w", name, sc.Provider.Name, err)
	}
	slog.Info("provider created", "step", name, "name", sc.Provider.Name, "model", sc.Provider.Model)

	if len(sc.Fallbacks) > 0 {
		group := resilience.NewLLMFallback(provider, sc.Provider.Name+"/"+sc.Provider.Model, resilience.FallbackConfig{})
		for i, entry := range sc.Fallbacks {
			fb, err := reg.CreateLLM(entry)
			if err != nil {
				return evaluation.StepConfig{}, fmt.Errorf("create %s fallback %d %q: %w", name, i, entry.Name, err)
			}
			group.AddFallback(entry.Name+"/"+entry.Model, fb)
			slog.Info("fallback provider created", "step", name, "name", entry.Name, "model", entry.Model)
		}
		provider = group
	}
	return evaluation.StepConfig{
		Provider:        provider,
		PromptTemplate:  sc.Prompt,
		SystemPrompt:    sc.SystemPrompt,
		Temperature:     sc.Temperature,
		MaxOutputTokens: sc.MaxOutputTokens,
	}, nil
}

// orchestratorConfig assembles an evaluation.Config for one evaluator.
func orchestratorConfig(steps pipelineSteps, svc jobs.Service, pollInterval time.Duration, onProgress func(evaluation.Progress)) evaluation.Config {
	return evaluation.Config{
		Transcription: steps.transcription,
		Critique:      steps.critique,
		Normalization: steps.normalization,
		Jobs:          svc,
		PollInterval:  pollInterval,
		OnProgress:    onProgress,
	}
}

// ── Local mode ────────────────────────────────────────────────────────────────

// runLocal evaluates a single audio file against a reference transcript
// without touching the backend.
func runLocal(ctx context.Context, cfg *config.Config, steps pipelineSteps, audioPath, referencePath string) int {
	if referencePath == "" {
		fmt.Fprintln(os.Stderr, "scribeval: -reference is required with -audio")
		return 2
	}

	media, err := readAudio(audioPath)
	if err != nil {
		slog.Error("failed to read audio", "path", audioPath, "err", err)
		return 1
	}
	original, err := readReference(referencePath)
	if err != nil {
		slog.Error("failed to read reference transcript", "path", referencePath, "err", err)
		return 1
	}

	language := "en"
	if len(cfg.Evaluators) > 0 && cfg.Evaluators[0].Language != "" {
		language = cfg.Evaluators[0].Language
	}

	orch := evaluation.New(orchestratorConfig(steps, nil, 0, logProgress("local")))
	result, err := orch.Evaluate(ctx, evaluation.Input{
		Audio:    media,
		Original: original,
		Language: language,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("evaluation cancelled")
			return 130
		}
		slog.Error("evaluation failed", "err", err)
		return 1
	}

	printEvalResult(result, original)
	return 0
}

// ── Backend mode ──────────────────────────────────────────────────────────────

// runBackend submits one evaluation job per configured evaluator against the
// given entity and waits for all of them. With a run store configured each
// evaluator runs through a reconciler; without one the job is submitted and
// polled directly.
func runBackend(ctx context.Context, cfg *config.Config, steps pipelineSteps, listingID, sessionID, appID string) int {
	if cfg.Backend.JobServiceURL == "" {
		fmt.Fprintln(os.Stderr, "scribeval: backend.job_service_url is not configured; use -audio for a local run")
		return 2
	}
	if (listingID == "") == (sessionID == "") {
		fmt.Fprintln(os.Stderr, "scribeval: exactly one of -listing or -session is required")
		return 2
	}
	if len(cfg.Evaluators) == 0 {
		fmt.Fprintln(os.Stderr, "scribeval: no evaluators configured")
		return 2
	}

	jobOpts := []jobs.Option{}
	if cfg.Backend.APIKey != "" {
		jobOpts = append(jobOpts, jobs.WithAPIKey(cfg.Backend.APIKey))
	}
	if d := cfg.Backend.RequestTimeout.Std(); d > 0 {
		jobOpts = append(jobOpts, jobs.WithHTTPClient(&http.Client{Timeout: d}))
	}
	jobClient, err := jobs.New(cfg.Backend.JobServiceURL, jobOpts...)
	if err != nil {
		slog.Error("failed to create job client", "err", err)
		return 1
	}

	var store *runstore.Client
	if cfg.Backend.RunStoreURL != "" {
		storeOpts := []runstore.Option{}
		if cfg.Backend.APIKey != "" {
			storeOpts = append(storeOpts, runstore.WithAPIKey(cfg.Backend.APIKey))
		}
		if d := cfg.Backend.RequestTimeout.Std(); d > 0 {
			storeOpts = append(storeOpts, runstore.WithHTTPClient(&http.Client{Timeout: d}))
		}
		store, err = runstore.New(cfg.Backend.RunStoreURL, storeOpts...)
		if err != nil {
			slog.Error("failed to create run store client", "err", err)
			return 1
		}
	}

	pollInterval := cfg.Backend.PollInterval.Std()

	g, gctx := errgroup.WithContext(ctx)
	for _, ev := range cfg.Evaluators {
		g.Go(func() error {
			params := evaluation.JobParams{
				EvaluatorID: ev.ID,
				AppID:       appID,
				ListingID:   listingID,
				SessionID:   sessionID,
				EvalType:    ev.EvalType,
			}
			if store == nil {
				return submitDirect(gctx, jobClient, params, pollInterval)
			}
			return runReconciled(gctx, store, steps, jobClient, params, cfg.Backend.StaleAfter.Std(), pollInterval)
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, poll.ErrCancelled) {
			slog.Info("evaluation cancelled")
			return 130
		}
		slog.Error("evaluation failed", "err", err)
		return 1
	}
	slog.Info("all evaluators finished")
	return 0
}

// submitDirect submits the job and polls it to a terminal state without run
// store reconciliation.
func submitDirect(ctx context.Context, svc jobs.Service, params evaluation.JobParams, pollInterval time.Duration) error {
	job, err := jobs.SubmitAndPoll(ctx, svc, evaluation.JobTypeEvaluation, params, jobs.SubmitAndPollOptions{
		Interval: pollInterval,
		OnProgress: func(p jobs.Progress) {
			slog.Info("job progress",
				"evaluator", params.EvaluatorID,
				"current", p.Current,
				"total", p.Total,
				"msg", p.Message,
			)
		},
	})
	if err != nil {
		return fmt.Errorf("evaluator %s: %w", params.EvaluatorID, err)
	}

	printJobOutcome(params.EvaluatorID, job)
	if job.Status == jobs.StatusFailed {
		return fmt.Errorf("evaluator %s: job failed: %s", params.EvaluatorID, job.ErrorMessage)
	}
	return nil
}

// runReconciled drives the job through a run reconciler so the local run list
// tracks the backend, then waits for the run to settle.
func runReconciled(ctx context.Context, store runstore.Store, steps pipelineSteps, svc jobs.Service, params evaluation.JobParams, staleAfter, pollInterval time.Duration) error {
	orch := evaluation.New(orchestratorConfig(steps, svc, pollInterval, logProgress(params.EvaluatorID)))

	rec, err := run.New(run.Config{
		Store:    store,
		Registry: taskreg.New(),
		Runner:   orch,
		AppID:    params.AppID,
		Entity: runstore.Filter{
			ListingID: params.ListingID,
			SessionID: params.SessionID,
			EvalType:  params.EvalType,
		},
		StaleAfter: staleAfter,
	})
	if err != nil {
		return fmt.Errorf("evaluator %s: %w", params.EvaluatorID, err)
	}
	defer rec.Close()

	if err := rec.HandleRun(ctx, params.EvaluatorID); err != nil {
		return fmt.Errorf("evaluator %s: %w", params.EvaluatorID, err)
	}

	// On cancellation HandleCancel aborts the in-flight job; Close then waits
	// for the reconciliation goroutine before the deferred teardown returns.
	go func() {
		<-ctx.Done()
		rec.HandleCancel(params.EvaluatorID)
	}()

	waitInterval := pollInterval
	if waitInterval <= 0 {
		waitInterval = 2 * time.Second
	}
	final, err := poll.Poll(ctx, func(ctx context.Context) (poll.Result[*run.EvalRun], error) {
		latest := rec.GetLatestRun(params.EvaluatorID)
		if latest == nil {
			return poll.Result[*run.EvalRun]{}, nil
		}
		return poll.Result[*run.EvalRun]{Done: latest.Status.IsTerminal(), Data: latest}, nil
	}, poll.Options{Interval: waitInterval})
	if err != nil {
		return fmt.Errorf("evaluator %s: %w", params.EvaluatorID, err)
	}

	printRunOutcome(params.EvaluatorID, final)
	if final.Status == runstore.RunFailed {
		return fmt.Errorf("evaluator %s: run failed: %s", params.EvaluatorID, final.ErrorMessage)
	}
	return nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// backendCheckers builds readiness checks for the configured backend services.
func backendCheckers(cfg *config.Config) []health.Checker {
	var checkers []health.Checker
	if u := cfg.Backend.JobServiceURL; u != "" {
		checkers = append(checkers, health.Checker{Name: "job-service", Check: httpPing(u)})
	}
	if u := cfg.Backend.RunStoreURL; u != "" && u != cfg.Backend.JobServiceURL {
		checkers = append(checkers, health.Checker{Name: "run-store", Check: httpPing(u)})
	}
	return checkers
}

// httpPing reports reachability of a base URL. Any HTTP response counts as
// reachable; only transport errors fail the check.
func httpPing(rawURL string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

// logProgress returns an OnProgress callback that logs pipeline progress for
// the given evaluator.
func logProgress(evaluatorID string) func(evaluation.Progress) {
	return func(p evaluation.Progress) {
		slog.Info("progress",
			"evaluator", evaluatorID,
			"stage", p.Stage,
			"pct", fmt.Sprintf("%.0f", p.Percent),
			"msg", p.Message,
		)
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
