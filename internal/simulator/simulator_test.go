package simulator

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"deepquant/internal/model"
)

func testConfig(fast, slow int) model.StrategyConfig {
	return model.StrategyConfig{
		Symbol:         "AAPL",
		StartDate:      time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		InitialCapital: 10000,
		Currency:       "USD",
		FastWindow:     fast,
		SlowWindow:     slow,
	}
}

// series builds a daily price series starting at 2023-01-02.
func series(closes ...float64) []model.PricePoint {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	points := make([]model.PricePoint, len(closes))
	for i, c := range closes {
		points[i] = model.PricePoint{Date: start.AddDate(0, 0, i), Close: c}
	}
	return points
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	if !math.IsNaN(got[0]) || !math.IsNaN(got[1]) {
		t.Errorf("warm-up values = %v, want NaN NaN", got[:2])
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		if !almostEqual(got[i+2], w) {
			t.Errorf("SMA[%d] = %v, want %v", i+2, got[i+2], w)
		}
	}
}

func TestSimulate_EmptySeries(t *testing.T) {
	_, err := Simulate(testConfig(2, 3), nil)
	if !errors.Is(err, ErrEmptyPriceSeries) {
		t.Errorf("error = %v, want ErrEmptyPriceSeries", err)
	}
}

func TestSimulate_InsufficientData(t *testing.T) {
	_, err := Simulate(testConfig(2, 3), series(10, 11))
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("error = %v, want ErrInsufficientData", err)
	}
}

func TestSimulate_MalformedSeries(t *testing.T) {
	points := series(10, 11, 12, 13)
	points[2].Date = points[1].Date // duplicate date
	_, err := Simulate(testConfig(2, 3), points)
	if !errors.Is(err, ErrEmptyPriceSeries) {
		t.Errorf("error = %v, want ErrEmptyPriceSeries", err)
	}
}

func TestSimulate_NoSignalsOnFlatSeries(t *testing.T) {
	result, err := Simulate(testConfig(2, 3), series(10, 10, 10, 10, 10, 10))
	if err != nil {
		t.Fatalf("Simulate returned error: %v", err)
	}
	if len(result.Trades) != 0 {
		t.Errorf("Trades = %v, want none", result.Trades)
	}
	for i, pt := range result.EquityCurve {
		if !almostEqual(pt.Equity, 10000) {
			t.Errorf("equity[%d] = %v, want 10000", i, pt.Equity)
		}
	}
}

func TestSimulate_SingleCrossoverOpensTrade(t *testing.T) {
	// fast=2, slow=3: the fast SMA crosses above the slow SMA on the
	// fifth day (close 12) and never crosses back.
	points := series(10, 9, 8, 9, 12, 13, 14)
	result, err := Simulate(testConfig(2, 3), points)
	if err != nil {
		t.Fatalf("Simulate returned error: %v", err)
	}

	if len(result.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(result.Trades))
	}
	trade := result.Trades[0]
	if !trade.EntryDate.Equal(points[4].Date) {
		t.Errorf("EntryDate = %v, want %v", trade.EntryDate, points[4].Date)
	}
	if trade.EntryPrice != 12 {
		t.Errorf("EntryPrice = %v, want 12", trade.EntryPrice)
	}
	if trade.ExitPrice != nil || trade.ExitDate != nil || trade.ProfitLoss != nil {
		t.Errorf("open trade has exit fields set: %+v", trade)
	}

	if len(result.EquityCurve) != len(points) {
		t.Fatalf("equity curve has %d points, want %d", len(result.EquityCurve), len(points))
	}
	if !almostEqual(result.EquityCurve[0].Equity, 10000) {
		t.Errorf("equity[0] = %v, want 10000", result.EquityCurve[0].Equity)
	}
	// Open position is marked to market on the final day.
	wantFinal := 10000 / 12.0 * 14
	if !almostEqual(result.Summary.FinalEquity, wantFinal) {
		t.Errorf("FinalEquity = %v, want %v", result.Summary.FinalEquity, wantFinal)
	}

	// Open trade counts toward the trade total but not win rate.
	if result.Summary.TotalTrades != 1 || result.Summary.ClosedTrades != 0 {
		t.Errorf("TotalTrades/ClosedTrades = %d/%d, want 1/0",
			result.Summary.TotalTrades, result.Summary.ClosedTrades)
	}
	if result.Summary.WinRate != 0 {
		t.Errorf("WinRate = %v, want 0", result.Summary.WinRate)
	}
}

func TestSimulate_CrossunderClosesTrade(t *testing.T) {
	// Entry at close 12, crossunder exit at close 9, flat afterward.
	points := series(10, 9, 8, 9, 12, 13, 14, 9, 5)
	result, err := Simulate(testConfig(2, 3), points)
	if err != nil {
		t.Fatalf("Simulate returned error: %v", err)
	}

	if len(result.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(result.Trades))
	}
	trade := result.Trades[0]
	if trade.ExitDate == nil || trade.ExitPrice == nil || trade.ProfitLoss == nil {
		t.Fatalf("trade not closed: %+v", trade)
	}
	if !trade.ExitDate.Equal(points[7].Date) {
		t.Errorf("ExitDate = %v, want %v", trade.ExitDate, points[7].Date)
	}
	if *trade.ExitPrice != 9 {
		t.Errorf("ExitPrice = %v, want 9", *trade.ExitPrice)
	}

	shares := 10000 / 12.0
	wantPnL := (9 - 12.0) * shares
	if !almostEqual(*trade.ProfitLoss, wantPnL) {
		t.Errorf("ProfitLoss = %v, want %v", *trade.ProfitLoss, wantPnL)
	}

	// Flat after the exit: equity stays at the exit proceeds.
	wantCash := shares * 9
	last := result.EquityCurve[len(result.EquityCurve)-1]
	if !almostEqual(last.Equity, wantCash) {
		t.Errorf("final equity = %v, want %v", last.Equity, wantCash)
	}

	if result.Summary.ClosedTrades != 1 || result.Summary.WinRate != 0 {
		t.Errorf("ClosedTrades/WinRate = %d/%v, want 1/0",
			result.Summary.ClosedTrades, result.Summary.WinRate)
	}
	wantReturn := (wantCash - 10000) / 10000
	if !almostEqual(result.Summary.TotalReturn, wantReturn) {
		t.Errorf("TotalReturn = %v, want %v", result.Summary.TotalReturn, wantReturn)
	}

	// Peak was the day before the exit (close 14).
	peak := shares * 14
	wantDD := (peak - wantCash) / peak
	if !almostEqual(result.Summary.MaxDrawdown, wantDD) {
		t.Errorf("MaxDrawdown = %v, want %v", result.Summary.MaxDrawdown, wantDD)
	}
}

func TestSimulate_WarmupExcludedFromSignals(t *testing.T) {
	// Sharp rise inside the warm-up window must not open a position:
	// signals need both SMAs on two consecutive days.
	points := series(1, 50, 100, 100, 100, 100)
	result, err := Simulate(testConfig(2, 5), points)
	if err != nil {
		t.Fatalf("Simulate returned error: %v", err)
	}
	for i := 0; i < 4; i++ {
		if !almostEqual(result.EquityCurve[i].Equity, 10000) {
			t.Errorf("warm-up equity[%d] = %v, want 10000", i, result.EquityCurve[i].Equity)
		}
	}
}

func TestSimulate_Deterministic(t *testing.T) {
	points := series(10, 9, 8, 9, 12, 13, 14, 9, 5, 7, 11, 13)
	first, err := Simulate(testConfig(2, 3), points)
	if err != nil {
		t.Fatalf("Simulate returned error: %v", err)
	}
	second, err := Simulate(testConfig(2, 3), points)
	if err != nil {
		t.Fatalf("Simulate returned error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs produced different results")
	}
}

func TestSimulate_LongRangeScenario(t *testing.T) {
	// Synthetic year: slow decline, strong rally, then a sell-off. The
	// 20/50 crossover should produce exactly one closed round trip.
	var closes []float64
	for i := 0; i < 60; i++ {
		closes = append(closes, 100-0.1*float64(i))
	}
	for i := 0; i < 140; i++ {
		closes = append(closes, closes[59]+0.5*float64(i+1))
	}
	for i := 0; i < 50; i++ {
		closes = append(closes, closes[199]-1.2*float64(i+1))
	}

	result, err := Simulate(testConfig(20, 50), series(closes...))
	if err != nil {
		t.Fatalf("Simulate returned error: %v", err)
	}

	if len(result.EquityCurve) != len(closes) {
		t.Errorf("equity curve has %d points, want %d", len(result.EquityCurve), len(closes))
	}
	if result.Summary.ClosedTrades != 1 {
		t.Fatalf("ClosedTrades = %d, want 1", result.Summary.ClosedTrades)
	}

	trade := result.Trades[0]
	if trade.ProfitLoss == nil {
		t.Fatal("round trip has no realized P/L")
	}
	wantPnL := (*trade.ExitPrice - trade.EntryPrice) * trade.Shares
	if !almostEqual(*trade.ProfitLoss, wantPnL) {
		t.Errorf("ProfitLoss = %v, inconsistent with entry/exit closes (want %v)",
			*trade.ProfitLoss, wantPnL)
	}
	// The rally entry rode most of the uptrend; the trade should win.
	if *trade.ProfitLoss <= 0 {
		t.Errorf("ProfitLoss = %v, want positive for the rally round trip", *trade.ProfitLoss)
	}
	if result.Summary.WinRate != 1 {
		t.Errorf("WinRate = %v, want 1", result.Summary.WinRate)
	}
}
