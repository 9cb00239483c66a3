package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"momentumwatch/pkg/model"
)

// StaticProvider serves fixed series from memory. Used for development
// and tests; Errors take precedence over Series.
type StaticProvider struct {
	Series map[model.Symbol][]model.PricePoint
	Errors map[model.Symbol]error

	// Delay simulates a slow upstream; the call still honours ctx
	Delay time.Duration

	mu    sync.Mutex
	calls map[model.Symbol]int
}

// Name returns the provider name
func (s *StaticProvider) Name() string { return "static" }

// FetchSeries returns the stored points that fall between from and to
func (s *StaticProvider) FetchSeries(ctx context.Context, symbol model.Symbol, from, to time.Time) (*model.PriceSeries, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[model.Symbol]int)
	}
	s.calls[symbol]++
	s.mu.Unlock()

	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	if err, ok := s.Errors[symbol]; ok {
		return nil, err
	}
	points, ok := s.Series[symbol]
	if !ok {
		return nil, &ProviderError{Provider: s.Name(), Symbol: symbol, Err: errNotFound, Retryable: false}
	}

	series := &model.PriceSeries{Symbol: symbol}
	for _, pt := range points {
		if pt.Date.Before(from) || pt.Date.After(to) {
			continue
		}
		series.Points = append(series.Points, pt)
	}
	series.SortPoints()
	return series, nil
}

// Calls returns how many times symbol was fetched
func (s *StaticProvider) Calls(symbol model.Symbol) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[symbol]
}

var errNotFound = errors.New("symbol not found")
