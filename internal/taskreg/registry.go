// Package taskreg implements a registry mapping task identifiers to cancel
// callbacks, so any component can cancel a run by id without holding a
// reference to the orchestrator instance that owns it.
//
// The registry is an explicitly constructed object injected into its
// consumers rather than package-global state; its lifetime is owned by the
// component that creates it, which must call [Registry.Close] on teardown to
// avoid leaking cancel functions across restarts.
package taskreg

import "sync"

// Registry maps task ids to cancel callbacks. All methods are safe for
// concurrent use. The zero value is not usable; construct with [New].
type Registry struct {
	mu    sync.Mutex
	tasks map[string]func()
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{tasks: make(map[string]func())}
}

// Register stores cancelFn under taskID, replacing any previous entry.
// A previously registered cancel function for the same id is NOT invoked —
// callers coordinate replacement themselves (the run reconciler's concurrency
// guard prevents it from ever happening for evaluator runs).
func (r *Registry) Register(taskID string, cancelFn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[taskID] = cancelFn
}

// Unregister removes the entry for taskID without invoking it. Used when a
// task finishes naturally.
func (r *Registry) Unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, taskID)
}

// Cancel invokes and removes the cancel callback for taskID. Returns whether
// a callback was found — callers use the result to decide whether to also
// update UI state (false means the task already finished naturally).
func (r *Registry) Cancel(taskID string) bool {
	r.mu.Lock()
	fn, ok := r.tasks[taskID]
	if ok {
		delete(r.tasks, taskID)
	}
	r.mu.Unlock()

	if ok {
		fn()
	}
	return ok
}

// Has reports whether a cancel callback is registered for taskID.
func (r *Registry) Has(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[taskID]
	return ok
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Close cancels every outstanding task and clears the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	fns := make([]func(), 0, len(r.tasks))
	for _, fn := range r.tasks {
		fns = append(fns, fn)
	}
	r.tasks = make(map[string]func())
	r.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
