// Package mock provides a test double for the jobs.Service interface.
//
// Use Service in unit tests to script backend job behaviour without a live
// job service. All fields are safe to set before calling any method; methods
// are safe for concurrent use.
//
// Example:
//
//	svc := &mock.Service{
//	    SubmitJob: &jobs.Job{ID: "job-1", Status: jobs.StatusPending},
//	    GetJobs:   []*jobs.Job{{ID: "job-1", Status: jobs.StatusCompleted}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scribeval/pkg/jobs"
)

// SubmitCall records a single invocation of Submit.
type SubmitCall struct {
	JobType string
	Params  any
}

// Service is a mock implementation of jobs.Service. Zero values for response
// fields cause methods to return zero values and nil errors. Set Err fields
// to inject errors.
type Service struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SubmitJob is returned by Submit. May be nil (returns nil, nil).
	SubmitJob *jobs.Job

	// SubmitErr, if non-nil, is returned as the error from Submit.
	SubmitErr error

	// GetJobs is the sequence of jobs returned by successive Get calls. The
	// last entry repeats once the sequence is exhausted.
	GetJobs []*jobs.Job

	// GetErr, if non-nil, is returned as the error from every Get.
	GetErr error

	// GetFunc, if non-nil, overrides GetJobs/GetErr entirely.
	GetFunc func(ctx context.Context, id string) (*jobs.Job, error)

	// CancelErr, if non-nil, is returned as the error from Cancel.
	CancelErr error

	// --- Call records (read after test) ---

	SubmitCalls []SubmitCall
	GetCalls    []string
	CancelCalls []string
}

// Compile-time assertion that Service implements jobs.Service.
var _ jobs.Service = (*Service)(nil)

// Submit records the call and returns SubmitJob, SubmitErr.
func (s *Service) Submit(ctx context.Context, jobType string, params any) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SubmitCalls = append(s.SubmitCalls, SubmitCall{JobType: jobType, Params: params})
	return s.SubmitJob, s.SubmitErr
}

// Get records the call and returns the next scripted job.
func (s *Service) Get(ctx context.Context, id string) (*jobs.Job, error) {
	if s.GetFunc != nil {
		s.mu.Lock()
		s.GetCalls = append(s.GetCalls, id)
		s.mu.Unlock()
		return s.GetFunc(ctx, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.GetCalls)
	s.GetCalls = append(s.GetCalls, id)
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	if len(s.GetJobs) == 0 {
		return nil, nil
	}
	if idx >= len(s.GetJobs) {
		idx = len(s.GetJobs) - 1
	}
	return s.GetJobs[idx], nil
}

// Cancel records the call and returns CancelErr.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CancelCalls = append(s.CancelCalls, id)
	return s.CancelErr
}

// Reset clears all recorded calls. Thread-safe.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SubmitCalls = nil
	s.GetCalls = nil
	s.CancelCalls = nil
}
