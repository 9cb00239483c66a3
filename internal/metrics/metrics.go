// Package metrics collects per-run metrics and pushes them to a
// Prometheus Pushgateway when the run ends.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	log "github.com/sirupsen/logrus"

	"momentumwatch/pkg/model"
)

const namespace = "momentumwatch"

// RunMetrics holds the collectors for one run
type RunMetrics struct {
	SymbolsScreened  prometheus.Gauge
	SymbolsEvaluated prometheus.Gauge
	SymbolsSkipped   prometheus.Gauge
	BucketSize       *prometheus.GaugeVec
	FetchFailures    *prometheus.CounterVec
	AlertsDelivered  prometheus.Counter
	RunDuration      prometheus.Gauge
	ExitCode         prometheus.Gauge
	LastSuccess      prometheus.Gauge

	registry *prometheus.Registry
}

// NewRunMetrics creates the collectors on a fresh registry
func NewRunMetrics() *RunMetrics {
	m := &RunMetrics{
		SymbolsScreened: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "symbols_screened",
			Help:      "Symbols submitted for screening in the last run",
		}),
		SymbolsEvaluated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "symbols_evaluated",
			Help:      "Symbols with a momentum result in the last run",
		}),
		SymbolsSkipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "symbols_skipped",
			Help:      "Symbols skipped by the volume floor in the last run",
		}),
		BucketSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bucket_size",
				Help:      "Number of symbols per alert section",
			},
			[]string{"bucket"},
		),
		FetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_failures_total",
				Help:      "Symbols that could not be evaluated, by reason",
			},
			[]string{"reason"},
		),
		AlertsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_delivered_total",
			Help:      "Alerts accepted by the mail server",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of the last run",
		}),
		ExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exit_code",
			Help:      "Process exit code of the last run",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that reached Done",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.SymbolsScreened,
		m.SymbolsEvaluated,
		m.SymbolsSkipped,
		m.BucketSize,
		m.FetchFailures,
		m.AlertsDelivered,
		m.RunDuration,
		m.ExitCode,
		m.LastSuccess,
	)
	return m
}

// Registry returns the registry holding the run's collectors
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveScan records the screening outcome
func (m *RunMetrics) ObserveScan(res *model.ScanResult) {
	m.SymbolsScreened.Set(float64(res.TotalScanned))
	m.SymbolsEvaluated.Set(float64(len(res.Results)))
	m.SymbolsSkipped.Set(float64(len(res.Skipped)))
	for _, f := range res.Failures {
		m.FetchFailures.WithLabelValues(f.Reason).Inc()
	}
}

// ObserveBuckets records the size of each alert section
func (m *RunMetrics) ObserveBuckets(b model.Buckets) {
	m.BucketSize.WithLabelValues("exit").Set(float64(len(b.Exit)))
	m.BucketSize.WithLabelValues("watch").Set(float64(len(b.Watch)))
	m.BucketSize.WithLabelValues("unevaluated").Set(float64(len(b.Unevaluated)))
}

// ObserveFinish records how the run ended
func (m *RunMetrics) ObserveFinish(exitCode int, duration time.Duration, finishedAt time.Time) {
	m.ExitCode.Set(float64(exitCode))
	m.RunDuration.Set(duration.Seconds())
	if exitCode == 0 {
		m.LastSuccess.Set(float64(finishedAt.Unix()))
	}
}

// Pusher sends the registry to a Pushgateway
type Pusher struct {
	url string
	job string
}

// NewPusher returns nil when url is empty, which disables pushing
func NewPusher(url, job string) *Pusher {
	if url == "" {
		return nil
	}
	return &Pusher{url: url, job: job}
}

// Push replaces the job's metrics on the gateway. A nil Pusher does nothing.
func (p *Pusher) Push(ctx context.Context, m *RunMetrics) error {
	if p == nil {
		return nil
	}
	if err := push.New(p.url, p.job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	log.WithField("url", p.url).Debug("Metrics pushed")
	return nil
}
