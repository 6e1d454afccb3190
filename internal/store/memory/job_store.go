package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/store"
)

// JobStore implements store.JobStore using in-memory storage.
// This implementation is for development and tests - data is lost on restart.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*models.BulkJob // job ID -> job

	now func() time.Time
}

// Option configures an in-memory store.
type Option func(*JobStore)

// WithClock overrides the time source used for started/completed timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *JobStore) {
		s.now = now
	}
}

// NewJobStore creates a new in-memory job store.
func NewJobStore(opts ...Option) *JobStore {
	s := &JobStore{
		jobs: make(map[uuid.UUID]*models.BulkJob),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new pending job.
func (s *JobStore) Create(ctx context.Context, job *models.BulkJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.Status != models.JobStatusPending {
		return fmt.Errorf("%w: new job must be pending, got %s", store.ErrInvalidTransition, job.Status)
	}

	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a copy of the job.
func (s *JobStore) Get(ctx context.Context, jobID uuid.UUID) (*models.BulkJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
	}
	return job.Clone(), nil
}

// List returns a tenant-scoped page of jobs, newest first.
func (s *JobStore) List(ctx context.Context, tenant models.TenantContext, filter store.ListFilter) (*store.ListResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*models.BulkJob
	for _, job := range s.jobs {
		if !visibleTo(tenant, job) {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		filtered = append(filtered, job)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50 // default page size
	}
	page := max(filter.Page, 1)

	lastPage := max((len(filtered)-1)/pageSize+1, 1)
	startIdx := (page - 1) * pageSize
	if startIdx >= len(filtered) {
		return &store.ListResult{Jobs: []*models.BulkJob{}, LastPage: lastPage}, nil
	}
	endIdx := min(startIdx+pageSize, len(filtered))

	jobs := make([]*models.BulkJob, 0, endIdx-startIdx)
	for _, job := range filtered[startIdx:endIdx] {
		jobs = append(jobs, job.Clone())
	}
	return &store.ListResult{Jobs: jobs, LastPage: lastPage}, nil
}

func visibleTo(tenant models.TenantContext, job *models.BulkJob) bool {
	switch tenant.Role {
	case models.RoleSuperAdmin:
		return true
	case models.RoleOrgMember:
		return job.OwnerID == tenant.ActorID || tenant.InOrganization(job.Tenant.OrganizationID)
	default:
		return job.OwnerID == tenant.ActorID
	}
}

// ListResumable returns jobs a worker should pick up again after a restart.
func (s *JobStore) ListResumable(ctx context.Context) ([]*models.BulkJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*models.BulkJob
	for _, job := range s.jobs {
		if job.Status == models.JobStatusQueued || job.Status == models.JobStatusProcessing {
			jobs = append(jobs, job.Clone())
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// MarkQueued records the dispatch of a pending job.
func (s *JobStore) MarkQueued(ctx context.Context, jobID uuid.UUID, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupLocked(jobID)
	if err != nil {
		return err
	}
	if err := transition(job, models.JobStatusQueued); err != nil {
		return err
	}
	job.TaskHandle = &handle
	job.UpdatedAt = s.now()
	return nil
}

// MarkStarted claims a queued job for a worker. A job already processing is
// returned unchanged so a resumed job keeps its original started_at.
func (s *JobStore) MarkStarted(ctx context.Context, jobID uuid.UUID) (*models.BulkJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupLocked(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusProcessing {
		return job.Clone(), nil
	}
	if job.Status != models.JobStatusQueued {
		return nil, fmt.Errorf("%w: cannot start %s job", store.ErrInvalidTransition, job.Status)
	}
	if err := transition(job, models.JobStatusProcessing); err != nil {
		return nil, err
	}
	started := s.now()
	job.StartedAt = &started
	job.UpdatedAt = started
	return job.Clone(), nil
}

// CancelUnclaimed cancels a job that no worker has claimed yet. Once the job
// is processing the worker owns the transition and ErrInvalidTransition is
// returned.
func (s *JobStore) CancelUnclaimed(ctx context.Context, jobID uuid.UUID, reason string) (*models.BulkJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupLocked(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusPending && job.Status != models.JobStatusQueued {
		return nil, fmt.Errorf("%w: job is %s", store.ErrInvalidTransition, job.Status)
	}
	if err := transition(job, models.JobStatusCancelled); err != nil {
		return nil, err
	}

	now := s.now()
	job.CancelRequested = true
	job.CompletedAt = &now
	job.FailureReason = reason
	job.UpdatedAt = now

	log.Info().Str("job_id", jobID.String()).Msg("Job cancelled before a worker claimed it")
	return job.Clone(), nil
}

// UpdateProgress applies a checkpoint to a queued or processing job.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID uuid.UUID, delta store.ProgressDelta) (*models.BulkJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupLocked(jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != models.JobStatusQueued && job.Status != models.JobStatusProcessing {
		return nil, fmt.Errorf("%w: cannot record progress on %s job", store.ErrInvalidTransition, job.Status)
	}

	next := *job
	next.ProcessedRows += delta.Processed
	next.SuccessCount += delta.Success
	next.FailureCount += delta.Failure
	if err := next.CheckCounts(); err != nil {
		return nil, fmt.Errorf("%w: %s", store.ErrProgressInvariant, err)
	}

	if job.Status == models.JobStatusQueued {
		if err := transition(job, models.JobStatusProcessing); err != nil {
			return nil, err
		}
		started := s.now()
		job.StartedAt = &started
	}
	job.ProcessedRows = next.ProcessedRows
	job.SuccessCount = next.SuccessCount
	job.FailureCount = next.FailureCount
	job.Errors = append(job.Errors, delta.Errors...)
	job.UpdatedAt = s.now()

	log.Debug().
		Str("job_id", jobID.String()).
		Int("processed_rows", job.ProcessedRows).
		Int("total_rows", job.TotalRows).
		Msg("Recorded job progress")

	return job.Clone(), nil
}

// RequestCancel flags the job for cooperative cancellation.
func (s *JobStore) RequestCancel(ctx context.Context, jobID uuid.UUID) (*models.BulkJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupLocked(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: job already %s", store.ErrInvalidTransition, job.Status)
	}
	job.CancelRequested = true
	job.UpdatedAt = s.now()
	return job.Clone(), nil
}

// MarkTerminal finishes the job.
func (s *JobStore) MarkTerminal(ctx context.Context, jobID uuid.UUID, status models.JobStatus, reason string) (*models.BulkJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupLocked(jobID)
	if err != nil {
		return nil, err
	}
	if !status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is not terminal", store.ErrInvalidTransition, status)
	}
	if status == models.JobStatusCompleted && job.ProcessedRows != job.TotalRows {
		return nil, fmt.Errorf("%w: completed with %d of %d rows processed", store.ErrProgressInvariant, job.ProcessedRows, job.TotalRows)
	}
	if err := transition(job, status); err != nil {
		return nil, err
	}

	now := s.now()
	job.CompletedAt = &now
	job.FailureReason = reason
	job.UpdatedAt = now

	log.Info().Str("job_id", jobID.String()).Str("status", string(status)).Msg("Job reached terminal state")
	return job.Clone(), nil
}

// Delete removes the job.
func (s *JobStore) Delete(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookupLocked(jobID); err != nil {
		return err
	}
	delete(s.jobs, jobID)
	return nil
}

// PurgeTerminal removes terminal jobs that completed before cutoff.
func (s *JobStore) PurgeTerminal(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged []uuid.UUID
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			purged = append(purged, id)
		}
	}
	slices.SortFunc(purged, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })
	return purged, nil
}

func (s *JobStore) lookupLocked(jobID uuid.UUID) (*models.BulkJob, error) {
	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
	}
	return job, nil
}

func transition(job *models.BulkJob, next models.JobStatus) error {
	if !job.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, job.Status, next)
	}
	job.Status = next
	return nil
}
