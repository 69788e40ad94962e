package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"deepquant/internal/model"
)

// MemoryPolicyStore keeps policies in process memory. Used for
// single-node deployments without a database and throughout the tests.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]model.Policy
}

// NewMemoryPolicyStore creates an empty in-memory policy store.
func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{
		policies: make(map[string]model.Policy),
	}
}

// Create inserts a new policy record.
func (s *MemoryPolicyStore) Create(_ context.Context, policy *model.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[policy.PolicyID]; exists {
		return fmt.Errorf("policy %s already exists", policy.PolicyID)
	}
	s.policies[policy.PolicyID] = *policy
	return nil
}

// Get retrieves a policy by ID.
func (s *MemoryPolicyStore) Get(_ context.Context, policyID string) (*model.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, ok := s.policies[policyID]
	if !ok {
		return nil, ErrNotFound
	}
	return &policy, nil
}

// List retrieves all saved policies, newest first.
func (s *MemoryPolicyStore) List(_ context.Context) ([]model.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policies := make([]model.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		policies = append(policies, p)
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].CreatedAt.After(policies[j].CreatedAt)
	})
	return policies, nil
}

// Delete removes a policy by ID.
func (s *MemoryPolicyStore) Delete(_ context.Context, policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[policyID]; !ok {
		return ErrNotFound
	}
	delete(s.policies, policyID)
	return nil
}

// MemoryJobStore keeps backtest job records in process memory with the
// same guarded transitions as the Postgres store.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]model.BacktestJob
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]model.BacktestJob),
	}
}

// Create inserts a new job record.
func (s *MemoryJobStore) Create(_ context.Context, job *model.BacktestJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID]; exists {
		return fmt.Errorf("job %s already exists", job.JobID)
	}
	s.jobs[job.JobID] = *job
	return nil
}

// Get retrieves a job snapshot by ID.
func (s *MemoryJobStore) Get(_ context.Context, jobID string) (*model.BacktestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

// List retrieves all jobs, newest first.
func (s *MemoryJobStore) List(_ context.Context) ([]model.BacktestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]model.BacktestJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// ListByStatus retrieves jobs in the given status, oldest first.
func (s *MemoryJobStore) ListByStatus(_ context.Context, status model.JobStatus) ([]model.BacktestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []model.BacktestJob
	for _, j := range s.jobs {
		if j.Status == status {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// MarkRunning transitions a job from queued to running.
func (s *MemoryJobStore) MarkRunning(_ context.Context, jobID string, startedAt time.Time) error {
	return s.transition(jobID, model.JobStatusQueued, func(job *model.BacktestJob) {
		job.Status = model.JobStatusRunning
		job.StartedAt = &startedAt
	})
}

// Complete transitions a job from running to completed.
func (s *MemoryJobStore) Complete(_ context.Context, jobID string, result *model.BacktestResult, finishedAt time.Time) error {
	return s.transition(jobID, model.JobStatusRunning, func(job *model.BacktestJob) {
		job.Status = model.JobStatusCompleted
		job.Result = result
		job.FinishedAt = &finishedAt
	})
}

// Fail transitions a job from running to failed.
func (s *MemoryJobStore) Fail(_ context.Context, jobID string, reason string, finishedAt time.Time) error {
	return s.transition(jobID, model.JobStatusRunning, func(job *model.BacktestJob) {
		job.Status = model.JobStatusFailed
		job.Error = reason
		job.FinishedAt = &finishedAt
	})
}

func (s *MemoryJobStore) transition(jobID string, from model.JobStatus, apply func(*model.BacktestJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if job.Status != from {
		return fmt.Errorf("job %s is %s, expected %s", jobID, job.Status, from)
	}
	apply(&job)
	s.jobs[jobID] = job
	return nil
}
