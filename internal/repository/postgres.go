package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"deepquant/internal/model"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// PostgresPolicyStore stores policies in PostgreSQL.
type PostgresPolicyStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresPolicyStore creates a new Postgres-backed policy store.
func NewPostgresPolicyStore(db *sqlx.DB, logger *zap.Logger) *PostgresPolicyStore {
	return &PostgresPolicyStore{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new policy record.
func (s *PostgresPolicyStore) Create(ctx context.Context, policy *model.Policy) error {
	query := `
		INSERT INTO policies (policy_id, name, prompt, config, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		policy.PolicyID,
		policy.Name,
		policy.Prompt,
		policy.Config,
		policy.CreatedAt,
	)
	if err != nil {
		s.logger.Error("Failed to create policy",
			zap.Error(err),
			zap.String("policyID", policy.PolicyID))
		return err
	}

	return nil
}

// Get retrieves a policy by ID.
func (s *PostgresPolicyStore) Get(ctx context.Context, policyID string) (*model.Policy, error) {
	query := `
		SELECT policy_id, name, prompt, config, created_at
		FROM policies
		WHERE policy_id = $1
	`

	var policy model.Policy
	err := s.db.GetContext(ctx, &policy, query, policyID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		s.logger.Error("Failed to get policy",
			zap.Error(err),
			zap.String("policyID", policyID))
		return nil, err
	}

	return &policy, nil
}

// List retrieves all saved policies, newest first.
func (s *PostgresPolicyStore) List(ctx context.Context) ([]model.Policy, error) {
	query := `
		SELECT policy_id, name, prompt, config, created_at
		FROM policies
		ORDER BY created_at DESC
	`

	var policies []model.Policy
	if err := s.db.SelectContext(ctx, &policies, query); err != nil {
		s.logger.Error("Failed to list policies", zap.Error(err))
		return nil, err
	}

	return policies, nil
}

// Delete removes a policy by ID.
func (s *PostgresPolicyStore) Delete(ctx context.Context, policyID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE policy_id = $1`, policyID)
	if err != nil {
		s.logger.Error("Failed to delete policy",
			zap.Error(err),
			zap.String("policyID", policyID))
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// PostgresJobStore stores backtest job records in PostgreSQL.
type PostgresJobStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresJobStore creates a new Postgres-backed job store.
func NewPostgresJobStore(db *sqlx.DB, logger *zap.Logger) *PostgresJobStore {
	return &PostgresJobStore{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `job_id, config, status, result, error_message, created_at, started_at, finished_at`

// Create inserts a new job record.
func (s *PostgresJobStore) Create(ctx context.Context, job *model.BacktestJob) error {
	query := `
		INSERT INTO backtest_jobs (job_id, config, status, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.Config,
		job.Status,
		job.CreatedAt,
	)
	if err != nil {
		s.logger.Error("Failed to create backtest job",
			zap.Error(err),
			zap.String("jobID", job.JobID))
		return err
	}

	return nil
}

// Get retrieves a job snapshot by ID.
func (s *PostgresJobStore) Get(ctx context.Context, jobID string) (*model.BacktestJob, error) {
	query := `SELECT ` + jobColumns + ` FROM backtest_jobs WHERE job_id = $1`

	var job model.BacktestJob
	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		s.logger.Error("Failed to get backtest job",
			zap.Error(err),
			zap.String("jobID", jobID))
		return nil, err
	}

	return &job, nil
}

// List retrieves all jobs, newest first.
func (s *PostgresJobStore) List(ctx context.Context) ([]model.BacktestJob, error) {
	query := `SELECT ` + jobColumns + ` FROM backtest_jobs ORDER BY created_at DESC`

	var jobs []model.BacktestJob
	if err := s.db.SelectContext(ctx, &jobs, query); err != nil {
		s.logger.Error("Failed to list backtest jobs", zap.Error(err))
		return nil, err
	}

	return jobs, nil
}

// ListByStatus retrieves jobs in the given status, oldest first.
func (s *PostgresJobStore) ListByStatus(ctx context.Context, status model.JobStatus) ([]model.BacktestJob, error) {
	query := `SELECT ` + jobColumns + ` FROM backtest_jobs WHERE status = $1 ORDER BY created_at ASC`

	var jobs []model.BacktestJob
	if err := s.db.SelectContext(ctx, &jobs, query, status); err != nil {
		s.logger.Error("Failed to list backtest jobs by status",
			zap.Error(err),
			zap.String("status", string(status)))
		return nil, err
	}

	return jobs, nil
}

// MarkRunning transitions a job from queued to running.
func (s *PostgresJobStore) MarkRunning(ctx context.Context, jobID string, startedAt time.Time) error {
	query := `
		UPDATE backtest_jobs
		SET status = $1, started_at = $2
		WHERE job_id = $3 AND status = $4
	`

	return s.transition(ctx, jobID, query,
		model.JobStatusRunning, startedAt, jobID, model.JobStatusQueued)
}

// Complete transitions a job from running to completed and records the
// result.
func (s *PostgresJobStore) Complete(ctx context.Context, jobID string, result *model.BacktestResult, finishedAt time.Time) error {
	query := `
		UPDATE backtest_jobs
		SET status = $1, result = $2, finished_at = $3
		WHERE job_id = $4 AND status = $5
	`

	return s.transition(ctx, jobID, query,
		model.JobStatusCompleted, result, finishedAt, jobID, model.JobStatusRunning)
}

// Fail transitions a job from running to failed and records the reason.
func (s *PostgresJobStore) Fail(ctx context.Context, jobID string, reason string, finishedAt time.Time) error {
	query := `
		UPDATE backtest_jobs
		SET status = $1, error_message = $2, finished_at = $3
		WHERE job_id = $4 AND status = $5
	`

	return s.transition(ctx, jobID, query,
		model.JobStatusFailed, reason, finishedAt, jobID, model.JobStatusRunning)
}

// transition runs a guarded status update; zero affected rows means the
// job does not exist or is not in the expected source state.
func (s *PostgresJobStore) transition(ctx context.Context, jobID, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Failed to update backtest job status",
			zap.Error(err),
			zap.String("jobID", jobID))
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("job %s: %w or not in expected status", jobID, ErrNotFound)
	}

	return nil
}
