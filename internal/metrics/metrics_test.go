package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"momentumwatch/pkg/model"
)

func TestObserve(t *testing.T) {
	m := NewRunMetrics()

	m.ObserveScan(&model.ScanResult{
		TotalScanned: 4,
		Results:      []model.MomentumResult{{Symbol: "A.NS"}, {Symbol: "B.NS"}},
		Failures: []model.UnevaluatedEntry{
			{Symbol: "D.NS", Reason: "data unavailable"},
			{Symbol: "E.NS", Reason: "data unavailable"},
		},
	})
	m.ObserveBuckets(model.Buckets{Exit: []model.Candidate{{}}, Watch: []model.Candidate{{}, {}}})
	finished := time.Unix(1700000000, 0)
	m.ObserveFinish(0, 90*time.Second, finished)

	if got := testutil.ToFloat64(m.SymbolsScreened); got != 4 {
		t.Errorf("Expected 4 screened, got %f", got)
	}
	if got := testutil.ToFloat64(m.SymbolsEvaluated); got != 2 {
		t.Errorf("Expected 2 evaluated, got %f", got)
	}
	if got := testutil.ToFloat64(m.FetchFailures.WithLabelValues("data unavailable")); got != 2 {
		t.Errorf("Expected 2 failures, got %f", got)
	}
	if got := testutil.ToFloat64(m.BucketSize.WithLabelValues("watch")); got != 2 {
		t.Errorf("Expected watch bucket 2, got %f", got)
	}
	if got := testutil.ToFloat64(m.LastSuccess); got != 1700000000 {
		t.Errorf("Expected last success timestamp, got %f", got)
	}
	if got := testutil.ToFloat64(m.RunDuration); got != 90 {
		t.Errorf("Expected 90s duration, got %f", got)
	}
}

func TestFailedRunKeepsLastSuccess(t *testing.T) {
	m := NewRunMetrics()
	m.ObserveFinish(2, time.Second, time.Now())
	if got := testutil.ToFloat64(m.LastSuccess); got != 0 {
		t.Errorf("Failed run must not set last success, got %f", got)
	}
	if got := testutil.ToFloat64(m.ExitCode); got != 2 {
		t.Errorf("Expected exit code 2, got %f", got)
	}
}

func TestPush(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewRunMetrics()
	m.SymbolsScreened.Set(50)

	if err := NewPusher(srv.URL, "momentumwatch").Push(context.Background(), m); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if gotPath != "/metrics/job/momentumwatch" {
		t.Errorf("Unexpected push path %q", gotPath)
	}
	if !strings.Contains(gotBody, "momentumwatch_symbols_screened") {
		t.Error("Expected screened gauge in pushed body")
	}
}

func TestNilPusher(t *testing.T) {
	p := NewPusher("", "job")
	if p != nil {
		t.Fatal("Expected nil pusher without url")
	}
	if err := p.Push(context.Background(), NewRunMetrics()); err != nil {
		t.Errorf("Nil pusher should be a no-op, got %v", err)
	}
}
