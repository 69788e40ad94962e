// Package repository persists policies and backtest jobs. Stores are
// append-only: once written, the only in-place mutations are the
// status/result fields of a job record.
package repository

import (
	"context"
	"errors"
	"time"

	"deepquant/internal/model"
)

// ErrNotFound is returned when no record exists for the given id.
var ErrNotFound = errors.New("record not found")

// PolicyStore persists saved strategy policies.
type PolicyStore interface {
	Create(ctx context.Context, policy *model.Policy) error
	Get(ctx context.Context, policyID string) (*model.Policy, error)
	List(ctx context.Context) ([]model.Policy, error)
	Delete(ctx context.Context, policyID string) error
}

// JobStore persists backtest job records. Status transitions are
// guarded: MarkRunning succeeds only from queued, Complete and Fail only
// from running, so a terminal record can never be re-entered.
type JobStore interface {
	Create(ctx context.Context, job *model.BacktestJob) error
	Get(ctx context.Context, jobID string) (*model.BacktestJob, error)
	List(ctx context.Context) ([]model.BacktestJob, error)
	ListByStatus(ctx context.Context, status model.JobStatus) ([]model.BacktestJob, error)
	MarkRunning(ctx context.Context, jobID string, startedAt time.Time) error
	Complete(ctx context.Context, jobID string, result *model.BacktestResult, finishedAt time.Time) error
	Fail(ctx context.Context, jobID string, reason string, finishedAt time.Time) error
}
