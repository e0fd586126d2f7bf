package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/scribeval/internal/observe"
	"github.com/MrWong99/scribeval/pkg/jobs"
	"github.com/MrWong99/scribeval/pkg/poll"
)

// JobTypeEvaluation is the backend job type that runs the whole pipeline
// server-side.
const JobTypeEvaluation = "evaluation"

// ErrNoJobService is returned by RunJob when the orchestrator was built
// without a job service.
var ErrNoJobService = errors.New("evaluation: no job service configured")

// JobParams is the submission payload for a backend evaluation job.
type JobParams struct {
	EvaluatorID string `json:"evaluatorId"`
	AppID       string `json:"appId"`

	// ListingID and SessionID bind the run to its entity; exactly one is set.
	ListingID string `json:"listingId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`

	EvalType string `json:"evalType"`
}

// Bounds for the best-effort post-submit poll that waits for the backend to
// attach a correlating run id to the job's progress. Deliberately short: the
// id only improves early UI state, the run proceeds fine without it.
const (
	runIDPollInterval   = 500 * time.Millisecond
	runIDPollIterations = 10
)

// RunJob submits the evaluation pipeline as a backend job and polls it to a
// terminal state, reporting backend progress through the orchestrator's
// OnProgress mapped onto pipeline stages.
//
// onRunID, when non-nil, is invoked once with the backend's correlating run
// id as soon as one appears in the job's progress; a short bounded poll right
// after submission looks for it so the caller can swap its optimistic
// placeholder early.
//
// Cancelling ctx issues a best-effort backend cancel before returning
// [poll.ErrCancelled]; the backend job may still run to completion.
func (o *Orchestrator) RunJob(ctx context.Context, params JobParams, onRunID func(string)) (*jobs.Job, error) {
	if o.cfg.Jobs == nil {
		return nil, ErrNoJobService
	}

	ctx, span := observe.StartSpan(ctx, "evaluation.job",
		trace.WithAttributes(observe.Attr("evaluator_id", params.EvaluatorID)))
	defer span.End()

	interval := o.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	o.report(StagePreparing, 0, "submitting evaluation job")
	job, err := o.cfg.Jobs.Submit(ctx, JobTypeEvaluation, params)
	if err != nil {
		o.metrics.RecordJobSubmission(ctx, JobTypeEvaluation, "error")
		return nil, o.fail(ctx, time.Now(), err)
	}
	o.metrics.RecordJobSubmission(ctx, JobTypeEvaluation, "ok")
	o.log.Info("evaluation: job submitted", "job_id", job.ID, "evaluator_id", params.EvaluatorID)

	runStart := time.Now()
	runIDSeen := false
	reportRunID := func(id string) {
		if id != "" && !runIDSeen {
			runIDSeen = true
			if onRunID != nil {
				onRunID(id)
			}
		}
	}

	if onRunID != nil {
		o.awaitRunID(ctx, job.ID, reportRunID)
	}

	final, err := poll.Poll(ctx, func(ctx context.Context) (poll.Result[*jobs.Job], error) {
		j, err := o.cfg.Jobs.Get(ctx, job.ID)
		if err != nil {
			o.metrics.PollErrors.Add(ctx, 1)
			return poll.Result[*jobs.Job]{}, err
		}
		if j.Progress != nil {
			p := *j.Progress
			reportRunID(p.RunID)
			o.report(stageForMessage(p.Message), progressPercent(p), p.Message)
		}
		return poll.Result[*jobs.Job]{Done: j.Status.IsTerminal(), Data: j}, nil
	}, poll.Options{
		Interval: interval,
		Backoff:  poll.ExpBackoff(interval, time.Minute),
	})

	if errors.Is(err, poll.ErrCancelled) {
		o.cancelJob(ctx, job.ID)
		_ = o.fail(ctx, runStart, err)
		return nil, err
	}
	if err != nil {
		err = fmt.Errorf("evaluation: poll job %q: %w", job.ID, err)
		return nil, o.fail(ctx, runStart, err)
	}

	switch final.Status {
	case jobs.StatusCompleted:
		o.report(StageComplete, 100, "evaluation complete")
		o.metrics.RecordRunDuration(ctx, "completed", time.Since(runStart).Seconds())
	case jobs.StatusCancelled:
		o.report(StageFailed, 100, "evaluation cancelled")
		o.metrics.RecordRunDuration(ctx, "cancelled", time.Since(runStart).Seconds())
	default:
		msg := final.ErrorMessage
		if msg == "" {
			msg = "evaluation failed"
		}
		o.report(StageFailed, 100, msg)
		o.metrics.RecordRunDuration(ctx, "failed", time.Since(runStart).Seconds())
	}
	return final, nil
}

// awaitRunID runs the short bounded poll for the correlating run id,
// reporting any progress it observes along the way. Failures and exhaustion
// are swallowed: the main polling loop keeps watching for the id anyway.
func (o *Orchestrator) awaitRunID(ctx context.Context, jobID string, reportRunID func(string)) {
	_, err := poll.Poll(ctx, func(ctx context.Context) (poll.Result[string], error) {
		j, err := o.cfg.Jobs.Get(ctx, jobID)
		if err != nil {
			return poll.Result[string]{}, err
		}
		if j.Progress == nil {
			return poll.Result[string]{}, nil
		}
		p := *j.Progress
		o.report(stageForMessage(p.Message), progressPercent(p), p.Message)
		if p.RunID != "" {
			reportRunID(p.RunID)
			return poll.Result[string]{Done: true, Data: p.RunID}, nil
		}
		return poll.Result[string]{}, nil
	}, poll.Options{
		Interval:      runIDPollInterval,
		MaxIterations: runIDPollIterations,
	})
	if err != nil && !errors.Is(err, poll.ErrMaxIterations) {
		o.log.Debug("evaluation: correlating run id poll ended early", "job_id", jobID, "err", err)
	}
}

// cancelJob issues the best-effort backend cancel on a detached short-lived
// context. Its own failure is only logged.
func (o *Orchestrator) cancelJob(ctx context.Context, jobID string) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	o.metrics.RecordJobCancellation(cancelCtx, JobTypeEvaluation)
	if err := o.cfg.Jobs.Cancel(cancelCtx, jobID); err != nil {
		slog.Warn("evaluation: best-effort job cancel failed", "job_id", jobID, "err", err)
	}
}

// stageForMessage maps a backend progress message onto a pipeline stage by
// keyword. Returns the empty stage for unrecognised messages, which [report]
// resolves to the current stage so an odd message never snaps the UI
// backwards.
func stageForMessage(msg string) Stage {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "transcrib"):
		return StageTranscribing
	case strings.Contains(m, "normaliz"):
		return StageNormalizing
	case strings.Contains(m, "critiqu"), strings.Contains(m, "evaluat"):
		return StageCritiquing
	default:
		return ""
	}
}

// progressPercent converts a backend progress tuple to a percentage.
func progressPercent(p jobs.Progress) float64 {
	if p.Total <= 0 {
		return 0
	}
	pct := float64(p.Current) / float64(p.Total) * 100
	return math.Min(math.Max(pct, 0), 100)
}
