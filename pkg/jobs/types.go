package jobs

import "time"

// Status is the backend-owned lifecycle state of a [Job].
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsValid reports whether s is a recognised job status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the job has reached a final state. Terminal jobs
// are never mutated again by the backend.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Progress is the backend's coarse progress report for a running job.
type Progress struct {
	// Current and Total describe completed work units. Total may be zero
	// while the backend is still sizing the job.
	Current int `json:"current"`
	Total   int `json:"total"`

	// Message is a free-form stage description (e.g., "transcribing audio").
	Message string `json:"message"`

	// RunID is an opportunistic correlating identifier: once the backend has
	// created the evaluator run backing this job, it surfaces the run's id
	// here. Empty until then.
	RunID string `json:"runId,omitempty"`
}

// Job is one backend-tracked unit of asynchronous work. The client never
// mutates a Job; it only reads the backend's record.
type Job struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status Status `json:"status"`

	// Progress is nil until the backend reports its first progress update.
	Progress *Progress `json:"progress,omitempty"`

	// ErrorMessage is set when Status is "failed".
	ErrorMessage string `json:"errorMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
