// Package service wires the parser, simulator, market data providers and
// stores into the policy and backtest job lifecycles.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"deepquant/internal/marketdata"
	"deepquant/internal/model"
	"deepquant/internal/parser"
	"deepquant/internal/repository"
	"deepquant/internal/simulator"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNoStrategy is returned when a submission names neither a
	// prompt nor an existing policy.
	ErrNoStrategy = errors.New("provide either a prompt or an existing policy_id")

	// ErrQueueFull is returned when the job queue cannot accept more
	// submissions.
	ErrQueueFull = errors.New("backtest queue is full")
)

// BacktestService is the job manager: it accepts submissions, runs them
// on a bounded worker pool and owns every status transition of a job
// record. Each job id passes through the queue exactly once, so a job
// has a single writer for its whole lifetime.
type BacktestService struct {
	jobStore     repository.JobStore
	policyStore  repository.PolicyStore
	parser       *parser.Parser
	providers    marketdata.Providers
	providerName string
	queue        chan string
	workers      int
	wg           sync.WaitGroup
	logger       *zap.Logger
}

// NewBacktestService creates a job manager draining submissions with the
// given number of workers. providerName selects the price series source
// from the injected provider mapping.
func NewBacktestService(
	jobStore repository.JobStore,
	policyStore repository.PolicyStore,
	p *parser.Parser,
	providers marketdata.Providers,
	providerName string,
	workers int,
	queueSize int,
	logger *zap.Logger,
) *BacktestService {
	if workers < 1 {
		workers = 2
	}
	if queueSize < 1 {
		queueSize = 64
	}
	return &BacktestService{
		jobStore:     jobStore,
		policyStore:  policyStore,
		parser:       p,
		providers:    providers,
		providerName: providerName,
		queue:        make(chan string, queueSize),
		workers:      workers,
		logger:       logger,
	}
}

// Start launches the worker pool and re-enqueues jobs that were still
// queued in the store when a previous process stopped.
func (s *BacktestService) Start(ctx context.Context) error {
	stale, err := s.jobStore.ListByStatus(ctx, model.JobStatusQueued)
	if err != nil {
		return err
	}

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	for _, job := range stale {
		select {
		case s.queue <- job.JobID:
			s.logger.Info("Re-enqueued job from previous run", zap.String("jobID", job.JobID))
		default:
			s.logger.Warn("Queue full while re-enqueuing", zap.String("jobID", job.JobID))
		}
	}
	return nil
}

// Stop closes the intake and waits for in-flight jobs to finish. Submit
// must not be called after Stop.
func (s *BacktestService) Stop() {
	close(s.queue)
	s.wg.Wait()
}

// Submit resolves the request into a strategy configuration, creates a
// job record in queued state and hands it to the worker pool. It returns
// as soon as the record is durable and never waits for the simulation.
// Parse and policy-lookup failures surface synchronously; no job record
// is created for them.
func (s *BacktestService) Submit(ctx context.Context, req *model.BacktestRequest) (string, error) {
	cfg, err := s.resolveConfig(ctx, req)
	if err != nil {
		return "", err
	}

	// Capacity check up front so a rejected submission leaves no
	// record behind. The send below can then only block for the brief
	// window in which a racing submit grabbed the last slot.
	if len(s.queue) == cap(s.queue) {
		return "", ErrQueueFull
	}

	job := &model.BacktestJob{
		JobID:     uuid.New().String(),
		Config:    *cfg,
		Status:    model.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.jobStore.Create(ctx, job); err != nil {
		return "", err
	}

	s.queue <- job.JobID
	s.logger.Info("Backtest job submitted",
		zap.String("jobID", job.JobID),
		zap.String("symbol", cfg.Symbol))
	return job.JobID, nil
}

// Get returns the current snapshot of a job. Safe to call concurrently
// with worker activity; it never blocks on a running simulation.
func (s *BacktestService) Get(ctx context.Context, jobID string) (*model.BacktestJob, error) {
	return s.jobStore.Get(ctx, jobID)
}

// List returns snapshots of all jobs, newest first.
func (s *BacktestService) List(ctx context.Context) ([]model.BacktestJob, error) {
	return s.jobStore.List(ctx)
}

func (s *BacktestService) resolveConfig(ctx context.Context, req *model.BacktestRequest) (*model.StrategyConfig, error) {
	switch {
	case req.Prompt != "":
		parsed, err := s.parser.Parse(req.Prompt)
		if err != nil {
			return nil, err
		}
		for _, w := range parsed.Warnings {
			s.logger.Warn("Prompt parsed with warning", zap.String("warning", w))
		}
		return &parsed.Config, nil
	case req.PolicyID != "":
		policy, err := s.policyStore.Get(ctx, req.PolicyID)
		if err != nil {
			return nil, err
		}
		cfg := policy.Config
		return &cfg, nil
	default:
		return nil, ErrNoStrategy
	}
}

func (s *BacktestService) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID, ok := <-s.queue:
			if !ok {
				return
			}
			s.run(ctx, jobID)
		}
	}
}

// run executes a single job to completion or failure. Data and
// simulation errors are captured into the job record, never raised.
func (s *BacktestService) run(ctx context.Context, jobID string) {
	job, err := s.jobStore.Get(ctx, jobID)
	if err != nil {
		s.logger.Error("Failed to load job for execution",
			zap.Error(err),
			zap.String("jobID", jobID))
		return
	}

	if err := s.jobStore.MarkRunning(ctx, jobID, time.Now().UTC()); err != nil {
		s.logger.Error("Failed to mark job running",
			zap.Error(err),
			zap.String("jobID", jobID))
		return
	}

	provider, err := s.providers.Get(s.providerName)
	if err != nil {
		s.fail(ctx, jobID, err.Error())
		return
	}

	prices, err := provider.DailyCloses(ctx, job.Config.Symbol, job.Config.StartDate, job.Config.EndDate)
	if err != nil {
		s.fail(ctx, jobID, "market data: "+err.Error())
		return
	}

	result, err := simulator.Simulate(job.Config, prices)
	if err != nil {
		s.fail(ctx, jobID, err.Error())
		return
	}

	if err := s.jobStore.Complete(ctx, jobID, result, time.Now().UTC()); err != nil {
		s.logger.Error("Failed to record job result",
			zap.Error(err),
			zap.String("jobID", jobID))
		return
	}

	s.logger.Info("Backtest job completed",
		zap.String("jobID", jobID),
		zap.String("symbol", job.Config.Symbol),
		zap.Int("trades", result.Summary.TotalTrades),
		zap.Float64("totalReturn", result.Summary.TotalReturn))
}

func (s *BacktestService) fail(ctx context.Context, jobID, reason string) {
	if err := s.jobStore.Fail(ctx, jobID, reason, time.Now().UTC()); err != nil {
		s.logger.Error("Failed to mark job as failed",
			zap.Error(err),
			zap.String("jobID", jobID),
			zap.String("reason", reason))
		return
	}
	s.logger.Warn("Backtest job failed",
		zap.String("jobID", jobID),
		zap.String("reason", reason))
}
