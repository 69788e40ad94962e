package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"deepquant/internal/marketdata"
	"deepquant/internal/model"
	"deepquant/internal/parser"
	"deepquant/internal/repository"

	"go.uber.org/zap"
)

// stubProvider serves a fixed close series, or a fixed error.
type stubProvider struct {
	closes []float64
	err    error
}

func (s *stubProvider) DailyCloses(_ context.Context, _ string, start, _ time.Time) ([]model.PricePoint, error) {
	if s.err != nil {
		return nil, s.err
	}
	points := make([]model.PricePoint, len(s.closes))
	for i, c := range s.closes {
		points[i] = model.PricePoint{Date: start.AddDate(0, 0, i), Close: c}
	}
	return points, nil
}

const testPrompt = "Backtest AAPL from 2023-01-01 to 2023-12-31 with 10000 usd and sma 2 and sma 3"

func newTestService(t *testing.T, provider marketdata.Provider) (*BacktestService, *repository.MemoryJobStore, *repository.MemoryPolicyStore) {
	t.Helper()
	jobs := repository.NewMemoryJobStore()
	policies := repository.NewMemoryPolicyStore()
	svc := NewBacktestService(
		jobs, policies, parser.New("USD"),
		marketdata.Providers{"stub": provider}, "stub",
		2, 8, zap.NewNop(),
	)
	return svc, jobs, policies
}

// waitTerminal polls the job store the way an HTTP client would, until
// the job reaches a terminal status or the deadline passes.
func waitTerminal(t *testing.T, svc *BacktestService, jobID string) *model.BacktestJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get(%s) returned error: %v", jobID, err)
		}
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal status", jobID)
	return nil
}

func TestSubmitAndComplete(t *testing.T) {
	svc, _, _ := newTestService(t, &stubProvider{closes: []float64{10, 9, 8, 9, 12, 13, 14}})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer svc.Stop()

	jobID, err := svc.Submit(context.Background(), &model.BacktestRequest{Prompt: testPrompt})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if jobID == "" {
		t.Fatal("Submit returned an empty job id")
	}

	job := waitTerminal(t, svc, jobID)
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("status = %s (error %q), want completed", job.Status, job.Error)
	}
	if job.Result == nil {
		t.Fatal("completed job carries no result")
	}
	if job.StartedAt == nil || job.FinishedAt == nil {
		t.Error("completed job missing started_at/finished_at")
	}
	if got := len(job.Result.EquityCurve); got != 7 {
		t.Errorf("equity curve has %d points, want 7", got)
	}
	if job.Result.Summary.TotalTrades != 1 {
		t.Errorf("TotalTrades = %d, want 1", job.Result.Summary.TotalTrades)
	}
}

func TestSubmitBeforeStartStaysQueued(t *testing.T) {
	svc, _, _ := newTestService(t, &stubProvider{closes: []float64{10, 11, 12, 13}})

	jobID, err := svc.Submit(context.Background(), &model.BacktestRequest{Prompt: testPrompt})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	job, err := svc.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.Status != model.JobStatusQueued {
		t.Fatalf("status = %s before Start, want queued", job.Status)
	}

	// Starting the pool drains the backlog.
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer svc.Stop()
	waitTerminal(t, svc, jobID)
}

func TestSubmitDistinctIDs(t *testing.T) {
	svc, _, _ := newTestService(t, &stubProvider{closes: []float64{10, 9, 8, 9, 12, 13, 14}})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer svc.Stop()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		jobID, err := svc.Submit(context.Background(), &model.BacktestRequest{Prompt: testPrompt})
		if err != nil {
			t.Fatalf("Submit #%d returned error: %v", i, err)
		}
		if seen[jobID] {
			t.Fatalf("job id %s issued twice", jobID)
		}
		seen[jobID] = true
	}
}

func TestSubmitParseErrorCreatesNoJob(t *testing.T) {
	svc, jobs, _ := newTestService(t, &stubProvider{closes: []float64{10, 11}})

	_, err := svc.Submit(context.Background(), &model.BacktestRequest{Prompt: "do something clever"})
	var parseErr *parser.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("error = %v, want *parser.ParseError", err)
	}

	all, err := jobs.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("rejected submission left %d job records", len(all))
	}
}

func TestSubmitUnknownPolicy(t *testing.T) {
	svc, _, _ := newTestService(t, &stubProvider{closes: []float64{10, 11}})

	_, err := svc.Submit(context.Background(), &model.BacktestRequest{PolicyID: "nope"})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestSubmitNoStrategy(t *testing.T) {
	svc, _, _ := newTestService(t, &stubProvider{closes: []float64{10, 11}})

	_, err := svc.Submit(context.Background(), &model.BacktestRequest{})
	if !errors.Is(err, ErrNoStrategy) {
		t.Fatalf("error = %v, want ErrNoStrategy", err)
	}
}

func TestSubmitByPolicyID(t *testing.T) {
	svc, _, policies := newTestService(t, &stubProvider{closes: []float64{10, 9, 8, 9, 12, 13, 14}})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer svc.Stop()

	policy := &model.Policy{
		PolicyID: "p-1",
		Name:     "saved strategy",
		Config: model.StrategyConfig{
			Symbol:         "MSFT",
			StartDate:      time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:        time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC),
			InitialCapital: 5000,
			Currency:       "USD",
			FastWindow:     2,
			SlowWindow:     3,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := policies.Create(context.Background(), policy); err != nil {
		t.Fatalf("Create policy returned error: %v", err)
	}

	jobID, err := svc.Submit(context.Background(), &model.BacktestRequest{PolicyID: "p-1"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	job := waitTerminal(t, svc, jobID)
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("status = %s (error %q), want completed", job.Status, job.Error)
	}
	if job.Config.Symbol != "MSFT" || job.Config.InitialCapital != 5000 {
		t.Errorf("job config = %+v, want the saved policy config", job.Config)
	}
}

func TestProviderFailureFailsJob(t *testing.T) {
	svc, _, _ := newTestService(t, &stubProvider{err: fmt.Errorf("connection refused")})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer svc.Stop()

	jobID, err := svc.Submit(context.Background(), &model.BacktestRequest{Prompt: testPrompt})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	job := waitTerminal(t, svc, jobID)
	if job.Status != model.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Error == "" {
		t.Error("failed job carries no error message")
	}
	if job.Result != nil {
		t.Error("failed job carries a result")
	}
}

func TestInsufficientDataFailsJob(t *testing.T) {
	svc, _, _ := newTestService(t, &stubProvider{closes: []float64{10, 11}})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer svc.Stop()

	jobID, err := svc.Submit(context.Background(), &model.BacktestRequest{Prompt: testPrompt})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	job := waitTerminal(t, svc, jobID)
	if job.Status != model.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
}

func TestIdenticalSubmissionsProduceIdenticalResults(t *testing.T) {
	svc, _, _ := newTestService(t, &stubProvider{closes: []float64{10, 9, 8, 9, 12, 13, 14, 9, 5}})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer svc.Stop()

	var results []*model.BacktestResult
	for i := 0; i < 2; i++ {
		jobID, err := svc.Submit(context.Background(), &model.BacktestRequest{Prompt: testPrompt})
		if err != nil {
			t.Fatalf("Submit returned error: %v", err)
		}
		job := waitTerminal(t, svc, jobID)
		if job.Status != model.JobStatusCompleted {
			t.Fatalf("status = %s (error %q), want completed", job.Status, job.Error)
		}
		results = append(results, job.Result)
	}

	if !reflect.DeepEqual(results[0], results[1]) {
		t.Error("identical submissions produced different results")
	}
}

func TestStartReenqueuesStaleJobs(t *testing.T) {
	jobs := repository.NewMemoryJobStore()
	stale := &model.BacktestJob{
		JobID: "stale-1",
		Config: model.StrategyConfig{
			Symbol:         "AAPL",
			StartDate:      time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:        time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
			InitialCapital: 10000,
			Currency:       "USD",
			FastWindow:     2,
			SlowWindow:     3,
		},
		Status:    model.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := jobs.Create(context.Background(), stale); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	svc := NewBacktestService(
		jobs, repository.NewMemoryPolicyStore(), parser.New("USD"),
		marketdata.Providers{"stub": &stubProvider{closes: []float64{10, 9, 8, 9, 12, 13, 14}}}, "stub",
		2, 8, zap.NewNop(),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer svc.Stop()

	job := waitTerminal(t, svc, "stale-1")
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("status = %s (error %q), want completed", job.Status, job.Error)
	}
}
