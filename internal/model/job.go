package model

import "time"

// JobStatus is the lifecycle state of a job. Transitions are monotonic
// except cancellation, which may move pending or in_progress to cancelled.
// Completed, failed, and cancelled are terminal.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job types handled by the workers.
const (
	JobTypeCategorize = "categorize"
	JobTypeCleanup    = "cleanup"
)

// Job is a persistent record of a long-running operation. UserID is empty
// for system jobs, which are visible to any authenticated user.
type Job struct {
	ID            string     `db:"id" json:"job_id"`
	UserID        string     `db:"user_id" json:"user_id,omitempty"`
	JobType       string     `db:"job_type" json:"job_type"`
	Status        JobStatus  `db:"status" json:"status"`
	RequestParams []byte     `db:"request_params" json:"request_params,omitempty"`
	Progress      int        `db:"progress" json:"progress"`
	Results       []byte     `db:"results" json:"results,omitempty"`
	ErrorDetails  string     `db:"error_details" json:"error_details,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	StartedAt     *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// JobFilter narrows job listings.
type JobFilter struct {
	UserID  string    `json:"user_id,omitempty"`
	JobType string    `json:"job_type,omitempty"`
	Status  JobStatus `json:"status,omitempty"`
	Limit   int       `json:"limit,omitempty"`
}
