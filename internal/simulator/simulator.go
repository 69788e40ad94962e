// Package simulator runs moving-average-crossover backtests over
// historical close-price series. Simulate is a pure function: no I/O,
// no hidden state, identical inputs produce identical results.
package simulator

import (
	"errors"
	"fmt"
	"math"

	"deepquant/internal/model"
)

var (
	// ErrEmptyPriceSeries marks an empty or malformed price series.
	ErrEmptyPriceSeries = errors.New("empty price series")

	// ErrInsufficientData marks a series shorter than the slow window.
	ErrInsufficientData = errors.New("insufficient price data")

	// ErrSimulation marks a defect inside the simulator itself.
	ErrSimulation = errors.New("simulation error")
)

// tradingDaysPerYear is used to annualize CAGR and the Sharpe ratio.
const tradingDaysPerYear = 252

// Simulate runs cfg against prices and returns the trade log, the
// day-by-day equity curve and summary statistics.
//
// The position is binary: fully invested or fully in cash. A long entry
// fires on the first day the fast SMA crosses from at-or-below to
// strictly above the slow SMA; the exit fires on the symmetric
// crossunder. Fills happen at the closing price of the signal day, with
// no fees or slippage. A position still open on the final day is marked
// to market but not force-closed.
func Simulate(cfg model.StrategyConfig, prices []model.PricePoint) (*model.BacktestResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid config: %v", ErrSimulation, err)
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: no data for %s between %s and %s",
			ErrEmptyPriceSeries, cfg.Symbol,
			cfg.StartDate.Format("2006-01-02"), cfg.EndDate.Format("2006-01-02"))
	}
	for i, pt := range prices {
		if pt.Close <= 0 {
			return nil, fmt.Errorf("%w: non-positive close %.4f at %s",
				ErrEmptyPriceSeries, pt.Close, pt.Date.Format("2006-01-02"))
		}
		if i > 0 && !prices[i-1].Date.Before(pt.Date) {
			return nil, fmt.Errorf("%w: series not strictly ascending at %s",
				ErrEmptyPriceSeries, pt.Date.Format("2006-01-02"))
		}
	}
	if len(prices) < cfg.SlowWindow {
		return nil, fmt.Errorf("%w: %d price points, slow window needs %d",
			ErrInsufficientData, len(prices), cfg.SlowWindow)
	}

	closes := make([]float64, len(prices))
	for i, pt := range prices {
		closes[i] = pt.Close
	}
	fast := SMA(closes, cfg.FastWindow)
	slow := SMA(closes, cfg.SlowWindow)

	var (
		cash     = cfg.InitialCapital
		shares   float64
		invested bool
		trades   []model.Trade
		curve    = make([]model.EquityPoint, 0, len(prices))
	)

	for i, pt := range prices {
		// Signals need today's and yesterday's SMA pair; warm-up days
		// carry the starting capital unmodified.
		if i > 0 && !math.IsNaN(slow[i-1]) && !math.IsNaN(slow[i]) {
			crossedOver := fast[i-1] <= slow[i-1] && fast[i] > slow[i]
			crossedUnder := fast[i-1] >= slow[i-1] && fast[i] < slow[i]

			if crossedOver && !invested {
				shares = cash / pt.Close
				trades = append(trades, model.Trade{
					EntryDate:  pt.Date,
					Direction:  "long",
					EntryPrice: pt.Close,
					Shares:     shares,
				})
				cash = 0
				invested = true
			} else if crossedUnder && invested {
				open := &trades[len(trades)-1]
				cash = shares * pt.Close
				exitDate := pt.Date
				exitPrice := pt.Close
				pnl := (exitPrice - open.EntryPrice) * open.Shares
				open.ExitDate = &exitDate
				open.ExitPrice = &exitPrice
				open.ProfitLoss = &pnl
				shares = 0
				invested = false
			}
		}

		equity := cash
		if invested {
			equity = shares * pt.Close
		}
		curve = append(curve, model.EquityPoint{Date: pt.Date, Equity: equity})
	}

	return &model.BacktestResult{
		Trades:      trades,
		EquityCurve: curve,
		Summary:     summarize(cfg.InitialCapital, trades, curve),
	}, nil
}

// summarize derives the aggregate statistics once from the trade log and
// equity curve. Open trades count toward the trade total but not toward
// the win-rate denominator; their unrealized value is already reflected
// in the final equity.
func summarize(startEquity float64, trades []model.Trade, curve []model.EquityPoint) model.Summary {
	final := curve[len(curve)-1].Equity

	var wins, closed int
	for _, t := range trades {
		if t.ProfitLoss == nil {
			continue
		}
		closed++
		if *t.ProfitLoss > 0 {
			wins++
		}
	}
	winRate := 0.0
	if closed > 0 {
		winRate = float64(wins) / float64(closed)
	}

	peak := curve[0].Equity
	maxDD := 0.0
	for _, pt := range curve {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		if dd := (peak - pt.Equity) / peak; dd > maxDD {
			maxDD = dd
		}
	}

	years := math.Max(float64(len(curve))/tradingDaysPerYear, 1e-5)
	cagr := math.Pow(final/startEquity, 1/years) - 1

	return model.Summary{
		StartEquity:  startEquity,
		FinalEquity:  final,
		TotalReturn:  (final - startEquity) / startEquity,
		CAGR:         cagr,
		MaxDrawdown:  maxDD,
		SharpeRatio:  sharpe(curve),
		WinRate:      winRate,
		TotalTrades:  len(trades),
		ClosedTrades: closed,
	}
}

// sharpe computes an annualized Sharpe ratio from daily equity returns,
// with a small epsilon guarding the zero-volatility case.
func sharpe(curve []model.EquityPoint) float64 {
	var returns []float64
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return mean / (math.Sqrt(variance) + 1e-9) * math.Sqrt(tradingDaysPerYear)
}
