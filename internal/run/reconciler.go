// Package run maintains the in-memory list of evaluator runs and reconciles
// it against the backend run store.
//
// The reconciler is deliberately distrustful of its own state: the instant a
// run is requested it splices in an optimistic "running" placeholder so the
// UI responds immediately, but once the run settles it always re-fetches the
// full list from the run store and replaces local state wholesale. Local
// records are tagged [OriginProvisional] until a reload has confirmed them;
// provisional and reconciled runs are never merged field by field.
//
// A concurrency guard keeps at most one running run per evaluator: the
// cancellation handle is registered synchronously, before anything else, so
// two rapid requests cannot both pass the guard.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/scribeval/internal/evaluation"
	"github.com/MrWong99/scribeval/internal/observe"
	"github.com/MrWong99/scribeval/internal/taskreg"
	"github.com/MrWong99/scribeval/pkg/jobs"
	"github.com/MrWong99/scribeval/pkg/runstore"
)

// ErrAlreadyRunning is returned by HandleRun when the evaluator already has a
// run in flight. Requests are rejected, never queued.
var ErrAlreadyRunning = errors.New("run: evaluator already has a run in flight")

// Origin tags where an [EvalRun] record came from.
type Origin string

const (
	// OriginProvisional marks a locally synthesized record: the optimistic
	// placeholder, or the synthetic failure written when a reload fails.
	OriginProvisional Origin = "provisional"

	// OriginReconciled marks a record fetched from the run store.
	OriginReconciled Origin = "reconciled"
)

// EvalRun is one run record as held by the reconciler.
type EvalRun struct {
	runstore.Run

	// Origin tags the record's provenance. Only reconciled records carry
	// backend truth.
	Origin Origin
}

// Runner starts one evaluator run and blocks until it settles.
// *evaluation.Orchestrator's RunJob is the production implementation.
type Runner interface {
	RunJob(ctx context.Context, params evaluation.JobParams, onRunID func(string)) (*jobs.Job, error)
}

// defaultStaleAfter is how long a "running" run without a cancellation handle
// may sit before read accesses report it as failed.
const defaultStaleAfter = 10 * time.Minute

// Config configures a [Reconciler].
type Config struct {
	// Store is the authoritative run store.
	Store runstore.Store

	// Registry holds the cancellation handles, keyed by evaluator id.
	Registry *taskreg.Registry

	// Runner executes one run to settlement.
	Runner Runner

	// AppID and Entity bind all runs managed by this reconciler to their
	// owning app and entity (listing or session, per Entity's validation).
	AppID  string
	Entity runstore.Filter

	// StaleAfter overrides the stale-run threshold. Default: 10 minutes.
	StaleAfter time.Duration
}

// Option is a functional option for configuring a [Reconciler].
type Option func(*Reconciler)

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

// WithMetrics replaces the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// Reconciler owns the run list for one entity. Safe for concurrent use.
type Reconciler struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	mu   sync.Mutex
	runs []EvalRun

	wg sync.WaitGroup
}

// New creates a Reconciler. Store, Registry, and Runner are mandatory and the
// entity filter must be valid.
func New(cfg Config, opts ...Option) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, errors.New("run: Store must not be nil")
	}
	if cfg.Registry == nil {
		return nil, errors.New("run: Registry must not be nil")
	}
	if cfg.Runner == nil {
		return nil, errors.New("run: Runner must not be nil")
	}
	if err := cfg.Entity.Validate(); err != nil {
		return nil, err
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	r := &Reconciler{
		cfg:     cfg,
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Runs returns a snapshot of the current run list.
func (r *Reconciler) Runs() []EvalRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EvalRun(nil), r.runs...)
}

// HandleRun starts a run for the evaluator. The concurrency guard, the
// cancellation handle registration, and the optimistic placeholder all happen
// synchronously before this returns; the run itself proceeds on its own
// goroutine and is reconciled against the run store once it settles.
//
// Returns [ErrAlreadyRunning] when the evaluator already has a run in flight.
func (r *Reconciler) HandleRun(ctx context.Context, evaluatorID string) error {
	if evaluatorID == "" {
		return errors.New("run: evaluatorID must not be empty")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	// Guard and registration are one critical section: registering the handle
	// before any suspension point closes the race where two rapid requests
	// both pass the guard.
	r.mu.Lock()
	if r.cfg.Registry.Has(evaluatorID) {
		r.mu.Unlock()
		cancel()
		return ErrAlreadyRunning
	}
	r.cfg.Registry.Register(evaluatorID, cancel)

	placeholder := EvalRun{
		Run: runstore.Run{
			ID:          uuid.NewString(),
			EvaluatorID: evaluatorID,
			AppID:       r.cfg.AppID,
			ListingID:   r.cfg.Entity.ListingID,
			SessionID:   r.cfg.Entity.SessionID,
			Status:      runstore.RunRunning,
			StartedAt:   time.Now().UTC(),
		},
		Origin: OriginProvisional,
	}
	r.spliceLocked(placeholder)
	r.mu.Unlock()

	r.metrics.ActiveRuns.Add(runCtx, 1)
	r.log.Info("run: started", "evaluator_id", evaluatorID, "placeholder_id", placeholder.ID)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer r.metrics.ActiveRuns.Add(context.WithoutCancel(runCtx), -1)

		params := evaluation.JobParams{
			EvaluatorID: evaluatorID,
			AppID:       r.cfg.AppID,
			ListingID:   r.cfg.Entity.ListingID,
			SessionID:   r.cfg.Entity.SessionID,
			EvalType:    r.cfg.Entity.EvalType,
		}
		_, err := r.cfg.Runner.RunJob(runCtx, params, func(backendRunID string) {
			r.adoptRunID(evaluatorID, backendRunID)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn("run: settled with error", "evaluator_id", evaluatorID, "err", err)
		}

		r.reconcile(runCtx, evaluatorID)

		// Unregister only after reconciling: the guard must hold until the
		// wholesale replacement is done, or a fresh placeholder could be
		// spliced in and immediately wiped. The handle may already be gone if
		// HandleCancel fired.
		r.cfg.Registry.Unregister(evaluatorID)
	}()

	return nil
}

// HandleCancel cancels the evaluator's in-flight run. Returns whether a run
// was actually cancelled; false means it already settled (or never existed)
// and the caller need not update any state.
func (r *Reconciler) HandleCancel(evaluatorID string) bool {
	cancelled := r.cfg.Registry.Cancel(evaluatorID)
	if cancelled {
		r.log.Info("run: cancel requested", "evaluator_id", evaluatorID)
	}
	return cancelled
}

// GetLatestRun returns the most recent run for the evaluator, or nil when
// none exists.
//
// Stale detection is a read-time correction: a run still marked running with
// no cancellation handle behind it (the process restarted mid-run, or the
// goroutine is long gone) that started more than StaleAfter ago is reported
// as failed, without mutating the stored record.
func (r *Reconciler) GetLatestRun(evaluatorID string) *EvalRun {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *EvalRun
	for i := range r.runs {
		if r.runs[i].EvaluatorID != evaluatorID {
			continue
		}
		if latest == nil || r.runs[i].StartedAt.After(latest.StartedAt) {
			latest = &r.runs[i]
		}
	}
	if latest == nil {
		return nil
	}

	out := *latest
	if out.Status == runstore.RunRunning &&
		!r.cfg.Registry.Has(evaluatorID) &&
		time.Since(out.StartedAt) > r.cfg.StaleAfter {
		out.Status = runstore.RunFailed
		out.ErrorMessage = fmt.Sprintf("run stale: still marked running %s after start with no active handle",
			time.Since(out.StartedAt).Round(time.Minute))
	}
	return &out
}

// Reload fetches the entity's full run list from the store and replaces local
// state wholesale.
func (r *Reconciler) Reload(ctx context.Context) error {
	fetched, err := r.cfg.Store.FetchRuns(ctx, r.cfg.Entity)
	if err != nil {
		return fmt.Errorf("run: reload: %w", err)
	}
	r.replaceAll(fetched)
	return nil
}

// Close cancels every outstanding run, waits for their goroutines to finish
// reconciling, and clears the registry.
func (r *Reconciler) Close() {
	r.cfg.Registry.Close()
	r.wg.Wait()
}

// reconcile replaces local state with the store's answer after a run settles.
// The run's own context may already be cancelled, so the reload happens on a
// detached bounded context. When the reload itself fails, a synthetic failed
// run replaces the placeholder: a stuck "running" card is worse than an
// approximate status.
func (r *Reconciler) reconcile(ctx context.Context, evaluatorID string) {
	reloadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	fetched, err := r.cfg.Store.FetchRuns(reloadCtx, r.cfg.Entity)
	if err != nil {
		r.log.Warn("run: reload after settle failed, synthesizing failed run",
			"evaluator_id", evaluatorID, "err", err)
		r.markFailed(evaluatorID, "run state could not be reloaded: "+err.Error())
		return
	}
	r.replaceAll(fetched)
	r.log.Info("run: reconciled from store", "evaluator_id", evaluatorID, "runs", len(fetched))
}

// replaceAll swaps the whole local list for the fetched one. Never merges.
func (r *Reconciler) replaceAll(fetched []runstore.Run) {
	next := make([]EvalRun, 0, len(fetched))
	for _, run := range fetched {
		next = append(next, EvalRun{Run: run, Origin: OriginReconciled})
	}
	r.mu.Lock()
	r.runs = next
	r.mu.Unlock()
}

// adoptRunID swaps the optimistic placeholder's locally generated id for the
// backend's correlating run id as soon as one is known.
func (r *Reconciler) adoptRunID(evaluatorID, backendRunID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.runs {
		if r.runs[i].EvaluatorID == evaluatorID && r.runs[i].Origin == OriginProvisional {
			r.log.Debug("run: adopting backend run id",
				"evaluator_id", evaluatorID, "run_id", backendRunID)
			r.runs[i].ID = backendRunID
			return
		}
	}
}

// markFailed locally replaces the evaluator's provisional entry with a failed
// record.
func (r *Reconciler) markFailed(evaluatorID, msg string) {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.runs {
		if r.runs[i].EvaluatorID == evaluatorID && r.runs[i].Origin == OriginProvisional {
			r.runs[i].Status = runstore.RunFailed
			r.runs[i].ErrorMessage = msg
			r.runs[i].CompletedAt = &now
			return
		}
	}
}

// spliceLocked inserts run, replacing any prior entry for the same evaluator.
// Caller holds r.mu.
func (r *Reconciler) spliceLocked(run EvalRun) {
	for i := range r.runs {
		if r.runs[i].EvaluatorID == run.EvaluatorID {
			r.runs[i] = run
			return
		}
	}
	r.runs = append(r.runs, run)
}
