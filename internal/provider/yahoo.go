package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"momentumwatch/internal/ratelimit"
	"momentumwatch/pkg/model"
)

// DefaultYahooBaseURL is the public chart endpoint
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// YahooProvider implements the Provider interface for Yahoo Finance (unofficial API)
type YahooProvider struct {
	baseURL string
	client  *http.Client
	limiter *ratelimit.Limiter
}

// NewYahooProvider creates a new Yahoo Finance provider. Every request is
// bounded by timeout and paced to perMinute requests.
func NewYahooProvider(baseURL string, perMinute int, timeout time.Duration) *YahooProvider {
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	return &YahooProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: ratelimit.NewLimiter("yahoo", perMinute),
	}
}

// Name returns the provider name
func (p *YahooProvider) Name() string {
	return "yahoo"
}

// yahooResponse represents the Yahoo Finance chart response. Quote
// arrays carry nulls for days without trading.
type yahooResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				GmtOffset int    `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchSeries fetches daily closes between from and to
func (p *YahooProvider) FetchSeries(ctx context.Context, symbol model.Symbol, from, to time.Time) (*model.PriceSeries, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	// period2 is exclusive on Yahoo's side
	u := fmt.Sprintf("%s/%s?period1=%d&period2=%d&interval=1d&events=history&includePrePost=false",
		p.baseURL, url.PathEscape(symbol.String()), from.Unix(), to.Add(24*time.Hour).Unix())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, p.transient(symbol, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		p.limiter.SignalRateLimited()
		return nil, p.transient(symbol, fmt.Errorf("rate limited"))
	case resp.StatusCode >= 500:
		return nil, p.transient(symbol, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return nil, p.unavailable(symbol, fmt.Errorf("symbol not found"))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, p.unavailable(symbol, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	p.limiter.ResetBackoff()

	var data yahooResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, p.transient(symbol, fmt.Errorf("decoding response: %w", err))
	}

	if data.Chart.Error != nil {
		return nil, p.unavailable(symbol, fmt.Errorf("%s", data.Chart.Error.Description))
	}
	if len(data.Chart.Result) == 0 || len(data.Chart.Result[0].Timestamp) == 0 ||
		len(data.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, p.unavailable(symbol, fmt.Errorf("no data available"))
	}

	result := data.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	loc := time.FixedZone("exchange", result.Meta.GmtOffset)

	series := &model.PriceSeries{
		Symbol: symbol,
		Points: make([]model.PricePoint, 0, len(result.Timestamp)),
	}
	for i, ts := range result.Timestamp {
		// Holidays and halted days come back as null closes
		if i >= len(quote.Close) || quote.Close[i] == nil || *quote.Close[i] <= 0 {
			continue
		}
		var volume int64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			volume = *quote.Volume[i]
		}
		t := time.Unix(ts, 0).In(loc)
		series.Points = append(series.Points, model.PricePoint{
			Date:   time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc),
			Close:  *quote.Close[i],
			Volume: volume,
		})
	}

	if len(series.Points) == 0 {
		return nil, p.unavailable(symbol, fmt.Errorf("no closing prices in range"))
	}

	series.SortPoints()
	return series, nil
}

func (p *YahooProvider) transient(symbol model.Symbol, err error) error {
	return &ProviderError{Provider: p.Name(), Symbol: symbol, Err: err, Retryable: true}
}

func (p *YahooProvider) unavailable(symbol model.Symbol, err error) error {
	return &ProviderError{Provider: p.Name(), Symbol: symbol, Err: err, Retryable: false}
}
