// Package marketdata defines the price-series capability consumed by the
// backtest job manager, plus the provider implementations that supply it.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"deepquant/internal/model"
)

// Provider supplies an ordered historical close-price series for a
// symbol and date range: ascending by date, no duplicate dates. How the
// data is fetched (network retries, caching, fallback) is the
// provider's business.
type Provider interface {
	DailyCloses(ctx context.Context, symbol string, start, end time.Time) ([]model.PricePoint, error)
}

// Providers maps capability names to implementations. The mapping is
// built once at process start and passed explicitly to whoever needs a
// price series; there is no process-wide registry.
type Providers map[string]Provider

// Get looks up a provider by name.
func (p Providers) Get(name string) (Provider, error) {
	provider, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("unknown market data provider %q", name)
	}
	return provider, nil
}
