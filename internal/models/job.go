package models

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a bulk prediction job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"    // ledger row exists, not yet handed to a worker
	JobStatusQueued     JobStatus = "queued"     // dispatched, no rows consumed yet
	JobStatusProcessing JobStatus = "processing" // at least one row consumed
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusQueued, JobStatusCancelled, JobStatusFailed},
	JobStatusQueued:     {JobStatusProcessing, JobStatusCancelled, JobStatusFailed},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// ParseJobStatus converts a wire value into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	switch st {
	case JobStatusPending, JobStatusQueued, JobStatusProcessing,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransition reports whether moving from s to next is a legal forward step.
func (s JobStatus) CanTransition(next JobStatus) bool {
	return slices.Contains(jobTransitions[s], next)
}

// RowRejection records why a single input row produced no prediction.
// RowIndex is the zero-based position of the row in the submitted batch.
type RowRejection struct {
	RowIndex int    `json:"row_index"`
	Reason   string `json:"reason"`
}

// BulkJob is the ledger record of a bulk prediction run.
type BulkJob struct {
	ID              uuid.UUID      `json:"id"`
	OwnerID         uuid.UUID      `json:"owner_id"`
	Tenant          TenantContext  `json:"tenant"`
	JobType         PredictionType `json:"job_type"`
	Status          JobStatus      `json:"status"`
	TotalRows       int            `json:"total_rows"`
	ProcessedRows   int            `json:"processed_rows"`
	SuccessCount    int            `json:"success_count"`
	FailureCount    int            `json:"failure_count"`
	Errors          []RowRejection `json:"errors"`
	TaskHandle      *string        `json:"task_handle,omitempty"`
	CancelRequested bool           `json:"cancel_requested"`
	FailureReason   string         `json:"failure_reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// CheckCounts verifies the progress counters are mutually consistent.
func (j *BulkJob) CheckCounts() error {
	if j.ProcessedRows < 0 || j.SuccessCount < 0 || j.FailureCount < 0 {
		return fmt.Errorf("negative progress counters")
	}
	if j.ProcessedRows > j.TotalRows {
		return fmt.Errorf("processed rows %d exceed total rows %d", j.ProcessedRows, j.TotalRows)
	}
	if j.SuccessCount+j.FailureCount != j.ProcessedRows {
		return fmt.Errorf("success %d + failure %d != processed %d", j.SuccessCount, j.FailureCount, j.ProcessedRows)
	}
	return nil
}

// Clone returns a deep copy safe to hand out of a store.
func (j *BulkJob) Clone() *BulkJob {
	c := *j
	c.Errors = slices.Clone(j.Errors)
	if c.Errors == nil {
		c.Errors = []RowRejection{}
	}
	if j.Tenant.OrganizationID != nil {
		org := *j.Tenant.OrganizationID
		c.Tenant.OrganizationID = &org
	}
	if j.TaskHandle != nil {
		h := *j.TaskHandle
		c.TaskHandle = &h
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
