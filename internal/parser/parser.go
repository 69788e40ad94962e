// Package parser turns free-form strategy prompts into validated
// strategy configurations. Extraction is best effort; the validation
// gate at the end is strict, so downstream consumers never see a
// half-extracted config.
package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"deepquant/internal/model"
)

// Parse error reasons returned to callers.
const (
	ReasonMissingSymbol          = "missing_symbol"
	ReasonMissingDateRange       = "missing_date_range"
	ReasonInvalidDateRange       = "invalid_date_range"
	ReasonMissingCapital         = "missing_capital"
	ReasonInsufficientSMAWindows = "insufficient_sma_windows"
)

// ParseError describes why a prompt could not be turned into a strategy
// configuration. Reason is a stable machine-readable code.
type ParseError struct {
	Reason  string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Result is a successful parse: the extracted config plus any warnings
// produced along the way (e.g. discarded extra SMA windows).
type Result struct {
	Config   model.StrategyConfig
	Warnings []string
}

var (
	tickerPattern   = regexp.MustCompile(`\b[A-Z]{1,5}\b`)
	isoDatePattern  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	relativePattern = regexp.MustCompile(`\b(?:last|past)\s+(?:(\d+)\s+)?(year|month|week|day)s?\b`)
	ytdPattern      = regexp.MustCompile(`\b(?:ytd|year\s+to\s+date)\b`)
	symbolCash      = regexp.MustCompile(`[$€£]\s*(\d[\d,]*(?:\.\d+)?)`)
	wordCash        = regexp.MustCompile(`\b(\d[\d,]*(?:\.\d+)?)\s*(usd|eur|gbp|jpy|aud|cad|chf|dollars|euros|pounds|cash|capital)\b`)
	smaPattern      = regexp.MustCompile(`\bs?ma[-\s]*(\d+)\b`)
	dayMAPattern    = regexp.MustCompile(`\b(\d+)[-\s]day\s+(?:simple\s+)?moving\s+average\b`)
)

// Uppercase tokens that match the ticker pattern but never are tickers.
var reservedTokens = map[string]bool{
	"SMA": true, "MA": true, "EMA": true,
	"USD": true, "EUR": true, "GBP": true, "JPY": true,
	"AUD": true, "CAD": true, "CHF": true,
	"A": true, "I": true, "AND": true, "OR": true, "THE": true,
	"WITH": true, "FROM": true, "TO": true, "OF": true, "ON": true,
	"IN": true, "FOR": true, "YTD": true, "OK": true,
}

var currencyWords = map[string]string{
	"usd": "USD", "eur": "EUR", "gbp": "GBP", "jpy": "JPY",
	"aud": "AUD", "cad": "CAD", "chf": "CHF",
	"dollars": "USD", "euros": "EUR", "pounds": "GBP",
}

// Parser extracts strategy configurations from natural-language prompts.
type Parser struct {
	baseCurrency string

	// now anchors relative date phrases; replaceable in tests.
	now func() time.Time
}

// New creates a Parser that falls back to baseCurrency when a prompt
// names an amount without a currency.
func New(baseCurrency string) *Parser {
	return &Parser{
		baseCurrency: strings.ToUpper(baseCurrency),
		now:          time.Now,
	}
}

// Parse extracts a strategy configuration from prompt. It fails with a
// *ParseError when a required field is missing or fails validation.
// Parsing the same prompt twice yields identical results.
func (p *Parser) Parse(prompt string) (*Result, error) {
	text := strings.ToLower(prompt)

	symbol, err := p.extractSymbol(prompt)
	if err != nil {
		return nil, err
	}

	start, end, err := p.extractDates(prompt, text)
	if err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, &ParseError{
			Reason: ReasonInvalidDateRange,
			Message: fmt.Sprintf("start date %s is not before end date %s",
				start.Format("2006-01-02"), end.Format("2006-01-02")),
		}
	}

	capital, currency, err := p.extractCapital(text)
	if err != nil {
		return nil, err
	}

	fast, slow, warnings, err := p.extractWindows(text)
	if err != nil {
		return nil, err
	}

	cfg := model.StrategyConfig{
		Symbol:         symbol,
		StartDate:      start,
		EndDate:        end,
		InitialCapital: capital,
		Currency:       currency,
		FastWindow:     fast,
		SlowWindow:     slow,
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ParseError{Reason: ReasonInvalidDateRange, Message: err.Error()}
	}

	return &Result{Config: cfg, Warnings: warnings}, nil
}

func (p *Parser) extractSymbol(prompt string) (string, error) {
	for _, token := range tickerPattern.FindAllString(prompt, -1) {
		if !reservedTokens[token] {
			return token, nil
		}
	}
	return "", &ParseError{
		Reason:  ReasonMissingSymbol,
		Message: "no ticker symbol found in prompt",
	}
}

func (p *Parser) extractDates(prompt, text string) (time.Time, time.Time, error) {
	var dates []time.Time
	for _, m := range isoDatePattern.FindAllString(prompt, -1) {
		d, err := time.Parse("2006-01-02", m)
		if err != nil {
			continue
		}
		dates = append(dates, d)
	}
	if len(dates) >= 2 {
		return dates[0], dates[1], nil
	}

	today := p.today()
	if m := relativePattern.FindStringSubmatch(text); m != nil {
		n := 1
		if m[1] != "" {
			n, _ = strconv.Atoi(m[1])
		}
		var start time.Time
		switch m[2] {
		case "year":
			start = today.AddDate(-n, 0, 0)
		case "month":
			start = today.AddDate(0, -n, 0)
		case "week":
			start = today.AddDate(0, 0, -7*n)
		case "day":
			start = today.AddDate(0, 0, -n)
		}
		return start, today, nil
	}
	if ytdPattern.MatchString(text) {
		start := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, today, nil
	}

	return time.Time{}, time.Time{}, &ParseError{
		Reason:  ReasonMissingDateRange,
		Message: "prompt must name two ISO dates or a relative period",
	}
}

func (p *Parser) extractCapital(text string) (float64, string, error) {
	if m := symbolCash.FindStringSubmatch(text); m != nil {
		amount, err := parseAmount(m[1])
		if err == nil && amount > 0 {
			currency := p.baseCurrency
			switch {
			case strings.HasPrefix(m[0], "$"):
				currency = "USD"
			case strings.HasPrefix(m[0], "€"):
				currency = "EUR"
			case strings.HasPrefix(m[0], "£"):
				currency = "GBP"
			}
			return amount, currency, nil
		}
	}
	if m := wordCash.FindStringSubmatch(text); m != nil {
		amount, err := parseAmount(m[1])
		if err == nil && amount > 0 {
			currency := p.baseCurrency
			if mapped, ok := currencyWords[m[2]]; ok {
				currency = mapped
			}
			return amount, currency, nil
		}
	}
	return 0, "", &ParseError{
		Reason:  ReasonMissingCapital,
		Message: "no positive capital amount found in prompt",
	}
}

// extractWindows collects every named SMA period. Exactly the smallest
// and the largest become the fast and slow windows; any others are
// discarded with a warning rather than an error.
func (p *Parser) extractWindows(text string) (int, int, []string, error) {
	seen := map[int]bool{}
	var windows []int
	collect := func(matches [][]string) {
		for _, m := range matches {
			w, err := strconv.Atoi(m[1])
			if err != nil || w <= 0 || seen[w] {
				continue
			}
			seen[w] = true
			windows = append(windows, w)
		}
	}
	collect(smaPattern.FindAllStringSubmatch(text, -1))
	collect(dayMAPattern.FindAllStringSubmatch(text, -1))

	if len(windows) < 2 {
		return 0, 0, nil, &ParseError{
			Reason:  ReasonInsufficientSMAWindows,
			Message: "prompt must name at least two distinct SMA windows",
		}
	}

	sort.Ints(windows)
	fast, slow := windows[0], windows[len(windows)-1]

	var warnings []string
	if len(windows) > 2 {
		discarded := windows[1 : len(windows)-1]
		warnings = append(warnings, fmt.Sprintf(
			"more than two SMA windows named; keeping %d and %d, discarding %v",
			fast, slow, discarded))
	}
	return fast, slow, warnings, nil
}

func (p *Parser) today() time.Time {
	now := p.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func parseAmount(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}
