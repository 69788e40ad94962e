package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// StrategyConfig is a validated moving-average-crossover strategy
// configuration. It is immutable once created: policies and jobs hold
// their own copy rather than a reference to a shared instance.
type StrategyConfig struct {
	Symbol         string    `json:"symbol" db:"symbol"`
	StartDate      time.Time `json:"start_date" db:"start_date"`
	EndDate        time.Time `json:"end_date" db:"end_date"`
	InitialCapital float64   `json:"initial_capital" db:"initial_capital"`
	Currency       string    `json:"currency" db:"currency"`
	FastWindow     int       `json:"fast_window" db:"fast_window"`
	SlowWindow     int       `json:"slow_window" db:"slow_window"`
}

// Validate checks the invariants every consumer of a StrategyConfig may
// rely on. The simulator never sees a config that fails this check.
func (c *StrategyConfig) Validate() error {
	if c.Symbol == "" {
		return errors.New("symbol must not be empty")
	}
	if !c.StartDate.Before(c.EndDate) {
		return fmt.Errorf("start date %s must be before end date %s",
			c.StartDate.Format("2006-01-02"), c.EndDate.Format("2006-01-02"))
	}
	if c.InitialCapital <= 0 {
		return errors.New("initial capital must be positive")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("currency %q must be a three-letter code", c.Currency)
	}
	if c.FastWindow <= 0 || c.SlowWindow <= 0 {
		return errors.New("moving average windows must be positive")
	}
	if c.FastWindow >= c.SlowWindow {
		return fmt.Errorf("fast window %d must be smaller than slow window %d",
			c.FastWindow, c.SlowWindow)
	}
	return nil
}

// Value implements the driver.Valuer interface for StrategyConfig
func (c StrategyConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements the sql.Scanner interface for StrategyConfig
func (c *StrategyConfig) Scan(value interface{}) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, c)
}

// Policy is a named, persisted strategy configuration reusable across
// backtest submissions.
type Policy struct {
	PolicyID  string         `json:"policy_id" db:"policy_id"`
	Name      string         `json:"name" db:"name"`
	Prompt    string         `json:"prompt" db:"prompt"`
	Config    StrategyConfig `json:"config" db:"config"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// JobStatus is the lifecycle state of a backtest job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transition can leave the status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// BacktestJob is the unit of asynchronous execution. It is owned and
// mutated exclusively by the job manager; readers get snapshots.
type BacktestJob struct {
	JobID      string          `json:"job_id" db:"job_id"`
	Config     StrategyConfig  `json:"config" db:"config"`
	Status     JobStatus       `json:"status" db:"status"`
	Result     *BacktestResult `json:"result,omitempty" db:"result"`
	Error      string          `json:"error,omitempty" db:"error_message"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
}

// Trade is a single round trip produced by the simulator. Exit fields
// are nil while the position is still open at the end of the range.
type Trade struct {
	EntryDate  time.Time  `json:"entry_date"`
	ExitDate   *time.Time `json:"exit_date,omitempty"`
	Direction  string     `json:"direction"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  *float64   `json:"exit_price,omitempty"`
	Shares     float64    `json:"shares"`
	ProfitLoss *float64   `json:"profit_loss,omitempty"`
}

// EquityPoint is one day of the simulated portfolio value.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
}

// Summary holds the aggregate statistics derived from the trade log and
// the equity curve. Computed once at the end of a simulation.
type Summary struct {
	StartEquity  float64 `json:"start_equity"`
	FinalEquity  float64 `json:"final_equity"`
	TotalReturn  float64 `json:"total_return"`
	CAGR         float64 `json:"cagr"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	WinRate      float64 `json:"win_rate"`
	TotalTrades  int     `json:"total_trades"`
	ClosedTrades int     `json:"closed_trades"`
}

// BacktestResult is the simulator's output: trade log, day-by-day equity
// curve and derived summary statistics.
type BacktestResult struct {
	Trades      []Trade       `json:"trades"`
	EquityCurve []EquityPoint `json:"equity_curve"`
	Summary     Summary       `json:"summary"`
}

// Value implements the driver.Valuer interface for BacktestResult
func (r BacktestResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements the sql.Scanner interface for BacktestResult
func (r *BacktestResult) Scan(value interface{}) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, r)
}

// PricePoint is one day of an ordered historical close-price series as
// supplied by a market data provider.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// PolicyRequest is the payload for creating a policy from a prompt.
type PolicyRequest struct {
	Prompt string `json:"prompt" binding:"required"`
	Name   string `json:"name,omitempty"`
}

// BacktestRequest is the payload for submitting a backtest. Exactly one
// of Prompt or PolicyID must be provided.
type BacktestRequest struct {
	Prompt   string `json:"prompt,omitempty"`
	PolicyID string `json:"policy_id,omitempty"`
	Name     string `json:"name,omitempty"`
}
