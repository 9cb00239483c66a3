package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"momentumwatch/internal/retry"
	"momentumwatch/pkg/model"
)

var (
	// ErrDataUnavailable means the symbol has no usable data: unknown,
	// delisted, empty, or still failing after every retry.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrTransient means the upstream could not be reached right now
	ErrTransient = errors.New("transient fetch error")
)

// Provider fetches daily closing prices
type Provider interface {
	// Name returns the provider name
	Name() string

	// FetchSeries returns the daily closes of symbol between from and to
	// (inclusive), ascending by date.
	FetchSeries(ctx context.Context, symbol model.Symbol, from, to time.Time) (*model.PriceSeries, error)
}

// ProviderError represents a provider-specific error. Retryable errors
// match ErrTransient, the rest match ErrDataUnavailable.
type ProviderError struct {
	Provider  string
	Symbol    model.Symbol
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Symbol, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is classify the error without the caller knowing the type
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Retryable
	case ErrDataUnavailable:
		return !e.Retryable
	}
	return false
}

// RetryingProvider retries transient failures of the wrapped provider and
// escalates them to ErrDataUnavailable once the attempts run out.
type RetryingProvider struct {
	inner  Provider
	policy retry.Policy
}

// NewRetryingProvider wraps inner with the given retry policy
func NewRetryingProvider(inner Provider, policy retry.Policy) *RetryingProvider {
	return &RetryingProvider{inner: inner, policy: policy}
}

// Name returns the wrapped provider's name
func (p *RetryingProvider) Name() string {
	return p.inner.Name()
}

// FetchSeries fetches with bounded retries
func (p *RetryingProvider) FetchSeries(ctx context.Context, symbol model.Symbol, from, to time.Time) (*model.PriceSeries, error) {
	var series *model.PriceSeries
	err := retry.Do(ctx, p.policy, "fetch "+symbol.String(), isTransient, func(ctx context.Context) error {
		s, err := p.inner.FetchSeries(ctx, symbol, from, to)
		if err != nil {
			return err
		}
		series = s
		return nil
	})
	if err == nil {
		return series, nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		log.WithField("symbol", symbol).Warnf("giving up after %d attempts: %v", exhausted.Attempts, exhausted.Err)
		return nil, &ProviderError{
			Provider:  p.inner.Name(),
			Symbol:    symbol,
			Err:       fmt.Errorf("gave up after %d attempts: %v", exhausted.Attempts, exhausted.Err),
			Retryable: false,
		}
	}
	return nil, err
}

func isTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
