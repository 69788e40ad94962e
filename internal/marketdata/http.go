package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"deepquant/internal/model"

	"go.uber.org/zap"
)

// HTTPProvider fetches daily closes from a market-data HTTP API.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPProvider creates a provider against the given API base URL.
func NewHTTPProvider(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// DailyCloses retrieves the close series for symbol between start and
// end (inclusive), ascending by date.
func (p *HTTPProvider) DailyCloses(ctx context.Context, symbol string, start, end time.Time) ([]model.PricePoint, error) {
	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("start", start.Format("2006-01-02"))
	params.Add("end", end.Format("2006-01-02"))
	reqURL := fmt.Sprintf("%s/prices?%s", p.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Error("Failed to fetch prices",
			zap.Error(err),
			zap.String("symbol", symbol))
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		p.logger.Error("Market data API error response",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("symbol", symbol),
			zap.String("response", string(bodyBytes)))
		return nil, fmt.Errorf("market data API returned status code %d", resp.StatusCode)
	}

	var payload []struct {
		Date  string  `json:"date"`
		Close float64 `json:"close"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode price series: %w", err)
	}

	points := make([]model.PricePoint, 0, len(payload))
	for _, row := range payload {
		d, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			return nil, fmt.Errorf("malformed date %q in price series: %w", row.Date, err)
		}
		points = append(points, model.PricePoint{Date: d, Close: row.Close})
	}
	return points, nil
}
