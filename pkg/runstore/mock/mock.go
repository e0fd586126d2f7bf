// Package mock provides a test double for the runstore.Store interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scribeval/pkg/runstore"
)

// Store is a mock implementation of runstore.Store. Zero values for response
// fields cause methods to return zero values and nil errors. Set Err fields
// to inject errors. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Runs is returned by FetchRuns.
	Runs []runstore.Run

	// FetchRunsErr, if non-nil, is returned as the error from FetchRuns.
	FetchRunsErr error

	// LatestRun is returned by FetchLatestRun. May be nil (no run).
	LatestRun *runstore.Run

	// FetchLatestErr, if non-nil, is returned as the error from FetchLatestRun.
	FetchLatestErr error

	// --- Call records (read after test) ---

	FetchRunsCalls   []runstore.Filter
	FetchLatestCalls []runstore.Filter
}

// Compile-time assertion that Store implements runstore.Store.
var _ runstore.Store = (*Store)(nil)

// FetchRuns records the call and returns Runs, FetchRunsErr.
func (s *Store) FetchRuns(ctx context.Context, f runstore.Filter) ([]runstore.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FetchRunsCalls = append(s.FetchRunsCalls, f)
	if s.FetchRunsErr != nil {
		return nil, s.FetchRunsErr
	}
	runs := make([]runstore.Run, len(s.Runs))
	copy(runs, s.Runs)
	return runs, nil
}

// FetchLatestRun records the call and returns LatestRun, FetchLatestErr.
func (s *Store) FetchLatestRun(ctx context.Context, f runstore.Filter) (*runstore.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FetchLatestCalls = append(s.FetchLatestCalls, f)
	if s.FetchLatestErr != nil {
		return nil, s.FetchLatestErr
	}
	if s.LatestRun == nil {
		return nil, nil
	}
	run := *s.LatestRun
	return &run, nil
}

// SetRuns replaces the scripted run list. Thread-safe.
func (s *Store) SetRuns(runs []runstore.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Runs = runs
}
