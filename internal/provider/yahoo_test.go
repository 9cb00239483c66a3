package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"momentumwatch/internal/retry"
	"momentumwatch/pkg/model"
)

const chartBody = `{"chart":{"result":[{"meta":{"symbol":"INFY.NS","gmtoffset":19800},
"timestamp":[1704339900,1704426300,1704685500,1704771900],
"indicators":{"quote":[{"close":[100.0,null,105.5,110.0],"volume":[1000,null,2000,3000]}]}}],"error":null}}`

func newTestServer(t *testing.T, handler http.HandlerFunc) *YahooProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewYahooProvider(srv.URL, 6000, 5*time.Second)
}

func TestYahooFetchSeries(t *testing.T) {
	var gotPath string
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.URL.Query().Get("interval") != "1d" {
			t.Errorf("Expected daily interval, got %q", r.URL.Query().Get("interval"))
		}
		w.Write([]byte(chartBody))
	})

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	series, err := p.FetchSeries(context.Background(), "INFY.NS", from, to)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if gotPath != "/INFY.NS" {
		t.Errorf("Expected path /INFY.NS, got %s", gotPath)
	}

	// The null close is a holiday and must be skipped, not fail the fetch
	if len(series.Points) != 3 {
		t.Fatalf("Expected 3 points, got %d", len(series.Points))
	}
	if series.Points[0].Close != 100.0 || series.Points[2].Close != 110.0 {
		t.Errorf("Unexpected closes: %+v", series.Points)
	}
	if series.Points[2].Volume != 3000 {
		t.Errorf("Expected volume 3000, got %d", series.Points[2].Volume)
	}
	for i := 1; i < len(series.Points); i++ {
		if !series.Points[i].Date.After(series.Points[i-1].Date) {
			t.Error("Points should be ascending by date")
		}
	}
	if h, m, _ := series.Points[0].Date.Clock(); h != 0 || m != 0 {
		t.Errorf("Expected dates truncated to midnight, got %s", series.Points[0].Date)
	}
}

func TestYahooErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"not found", http.StatusNotFound, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`, false},
		{"server error", http.StatusBadGateway, "", true},
		{"rate limited", http.StatusTooManyRequests, "", true},
		{"bad request", http.StatusBadRequest, "nope", false},
		{"api error", http.StatusOK, `{"chart":{"result":null,"error":{"code":"x","description":"Invalid input"}}}`, false},
		{"empty result", http.StatusOK, `{"chart":{"result":[],"error":null}}`, false},
		{"all null closes", http.StatusOK, `{"chart":{"result":[{"meta":{},"timestamp":[1],"indicators":{"quote":[{"close":[null]}]}}]}}`, false},
		{"truncated body", http.StatusOK, `{"chart":`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := p.FetchSeries(context.Background(), "BAD.NS", time.Now().AddDate(0, -3, 0), time.Now())
			if err == nil {
				t.Fatal("Expected error")
			}
			if got := errors.Is(err, ErrTransient); got != tt.transient {
				t.Errorf("ErrTransient match = %v, want %v (err=%v)", got, tt.transient, err)
			}
			if got := errors.Is(err, ErrDataUnavailable); got == tt.transient {
				t.Errorf("ErrDataUnavailable match = %v, want %v", got, !tt.transient)
			}
		})
	}
}

func TestYahooRateLimitPenalty(t *testing.T) {
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	p.FetchSeries(context.Background(), "X.NS", time.Now().AddDate(0, -1, 0), time.Now())
	if p.limiter.Penalty() == 0 {
		t.Error("Expected limiter penalty after 429")
	}
}

func TestRetryingProviderRecovers(t *testing.T) {
	var calls int32
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(chartBody))
	})

	rp := NewRetryingProvider(p, retry.Policy{MaxAttempts: 3})
	series, err := rp.FetchSeries(context.Background(), "INFY.NS", time.Unix(0, 0), time.Now())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(series.Points) == 0 {
		t.Error("Expected points after recovery")
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetryingProviderEscalates(t *testing.T) {
	transient := &ProviderError{Provider: "static", Symbol: "D.NS", Err: errors.New("connection reset"), Retryable: true}
	inner := &StaticProvider{Errors: map[model.Symbol]error{"D.NS": transient}}

	rp := NewRetryingProvider(inner, retry.Policy{MaxAttempts: 3})
	_, err := rp.FetchSeries(context.Background(), "D.NS", time.Unix(0, 0), time.Now())

	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("Expected escalation to ErrDataUnavailable, got %v", err)
	}
	if errors.Is(err, ErrTransient) {
		t.Error("Escalated error should no longer be transient")
	}
	if inner.Calls("D.NS") != 3 {
		t.Errorf("Expected 3 attempts, got %d", inner.Calls("D.NS"))
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("Expected attempt count in message, got %q", err.Error())
	}
}

func TestRetryingProviderDoesNotRetryUnavailable(t *testing.T) {
	inner := &StaticProvider{}
	rp := NewRetryingProvider(inner, retry.Policy{MaxAttempts: 3})

	_, err := rp.FetchSeries(context.Background(), "GONE.NS", time.Unix(0, 0), time.Now())
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("Expected ErrDataUnavailable, got %v", err)
	}
	if inner.Calls("GONE.NS") != 1 {
		t.Errorf("Unavailable symbols must not be retried, got %d calls", inner.Calls("GONE.NS"))
	}
}
