package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"deepquant/internal/model"
)

// CSVProvider reads daily closes from per-symbol CSV files for offline
// runs. Each file is named <SYMBOL>.csv and holds date,close rows with
// an optional header line.
type CSVProvider struct {
	dir string
}

// NewCSVProvider creates a provider reading from dir.
func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{dir: dir}
}

// DailyCloses loads the symbol's file and returns the rows falling
// inside [start, end], in file order.
func (p *CSVProvider) DailyCloses(_ context.Context, symbol string, start, end time.Time) ([]model.PricePoint, error) {
	path := filepath.Join(p.dir, strings.ToUpper(symbol)+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("no local price data for %s: %w", symbol, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var points []model.PricePoint
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("%s: row %d has %d columns, want 2", path, i+1, len(row))
		}
		d, err := time.Parse("2006-01-02", row[0])
		if err != nil {
			if i == 0 {
				// header line
				continue
			}
			return nil, fmt.Errorf("%s: row %d: bad date %q", path, i+1, row[0])
		}
		if d.Before(start) || d.After(end) {
			continue
		}
		close, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: bad close %q", path, i+1, row[1])
		}
		points = append(points, model.PricePoint{Date: d, Close: close})
	}
	return points, nil
}
