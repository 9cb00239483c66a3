// Package pipeline drives one screening run from configuration to alert.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"momentumwatch/internal/alert"
	"momentumwatch/internal/config"
	"momentumwatch/internal/holdings"
	"momentumwatch/internal/metrics"
	"momentumwatch/internal/notifier"
	"momentumwatch/internal/provider"
	"momentumwatch/internal/reconcile"
	"momentumwatch/internal/recorder"
	"momentumwatch/internal/scanner"
	"momentumwatch/internal/symbols"
	"momentumwatch/pkg/model"
)

// State is a step of the run
type State string

const (
	StateInit        State = "Init"
	StateLoading     State = "Loading"
	StateScreening   State = "Screening"
	StateReconciling State = "Reconciling"
	StateAlerting    State = "Alerting"
	StateDone        State = "Done"
	StateFailed      State = "Failed"
)

// Process exit codes
const (
	ExitOK       = 0
	ExitConfig   = 1
	ExitFatal    = 2
	ExitDelivery = 3
)

// ErrNoData means not a single symbol could be evaluated
var ErrNoData = errors.New("no symbols could be evaluated")

// MarketZone is the exchange's local time. Run dates are taken here.
var MarketZone = time.FixedZone("IST", 5*3600+30*60)

// RunError is the fatal error that moved the run to Failed
type RunError struct {
	State State // the step that failed
	Code  int
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Deps are the collaborators of a run. Nil fields get defaults.
type Deps struct {
	Provider provider.Provider
	Sender   notifier.Sender
	Recorder recorder.Recorder
	Metrics  *metrics.RunMetrics
	Pusher   *metrics.Pusher
	Progress scanner.ProgressCallback
	Now      func() time.Time
}

// Outcome is everything a run produced
type Outcome struct {
	RunID        string
	State        State
	ExitCode     int
	AsOf         time.Time
	Holdings     model.Holdings
	Scan         *model.ScanResult
	Buckets      model.Buckets
	Message      *model.AlertMessage
	Delivered    bool
	FallbackPath string
	Err          error
}

// Pipeline runs Init → Loading → Screening → Reconciling → Alerting → Done.
// Any fatal error moves it to Failed.
type Pipeline struct {
	cfg  *config.Config
	deps Deps

	state  State
	runID  string
	logger *log.Entry
}

// New creates a pipeline for one run
func New(cfg *config.Config, deps Deps) *Pipeline {
	if deps.Recorder == nil {
		deps.Recorder = recorder.NewNoopRecorder()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRunMetrics()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	runID := uuid.NewString()
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		state:  StateInit,
		runID:  runID,
		logger: log.WithField("run_id", runID),
	}
}

// State returns the current step
func (p *Pipeline) State() State {
	return p.state
}

func (p *Pipeline) transition(to State) {
	p.logger.WithFields(log.Fields{"from": p.state, "to": to}).Debug("State change")
	p.state = to
}

func (p *Pipeline) fail(out *Outcome, code int, err error) *Outcome {
	runErr := &RunError{State: p.state, Code: code, Err: err}
	p.transition(StateFailed)
	out.State = StateFailed
	out.ExitCode = code
	out.Err = runErr
	p.logger.WithField("exit_code", code).Errorf("Run failed: %v", runErr)
	return out
}

// Run executes the whole pipeline. It never panics on per-symbol problems;
// the returned Outcome carries the final state and exit code.
func (p *Pipeline) Run(ctx context.Context) *Outcome {
	started := p.deps.Now()
	asOf := started.In(MarketZone)
	asOf = time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, MarketZone)

	out := &Outcome{RunID: p.runID, AsOf: asOf}
	p.logger.WithField("as_of", asOf.Format("2006-01-02")).Info("Starting momentum run")

	p.run(ctx, out)
	p.finish(ctx, out, started)
	return out
}

func (p *Pipeline) run(ctx context.Context, out *Outcome) {
	// Init
	if err := p.cfg.Validate(); err != nil {
		p.fail(out, ExitConfig, err)
		return
	}
	if p.deps.Provider == nil || (p.deps.Sender == nil && !p.cfg.Alert.DryRun) {
		p.fail(out, ExitConfig, fmt.Errorf("%w: market data provider and mail sender are required", config.ErrInvalid))
		return
	}

	// Loading
	p.transition(StateLoading)
	held, err := holdings.LoadFile(p.cfg.Holdings.File, p.cfg.Universe.Suffix)
	if err != nil {
		p.fail(out, ExitConfig, fmt.Errorf("%w: %v", config.ErrInvalid, err))
		return
	}
	out.Holdings = held

	loader := symbols.NewLoader(p.cfg.Universe.Suffix, p.cfg.Provider.RequestTimeout)
	universe, source, err := loader.Load(ctx, symbols.Sources{
		Name:    p.cfg.Universe.Name,
		Symbols: p.cfg.Universe.Symbols,
		File:    p.cfg.Universe.File,
		URL:     p.cfg.Universe.URL,
	})
	if err != nil {
		p.fail(out, ExitConfig, fmt.Errorf("%w: loading universe: %v", config.ErrInvalid, err))
		return
	}
	targets := screenSet(universe, held)
	p.logger.WithFields(log.Fields{
		"universe": len(universe),
		"source":   source,
		"holdings": len(held),
		"targets":  len(targets),
	}).Info("Loaded symbols")

	// Screening
	p.transition(StateScreening)
	sc := scanner.NewScanner(p.deps.Provider, scanner.Options{
		LookbackMonths: p.cfg.Screen.LookbackMonths,
		ThresholdPct:   p.cfg.Screen.ThresholdPct,
		MinAvgVolume:   p.cfg.Screen.MinAvgVolume,
		Workers:        p.cfg.Scanner.Workers,
		Timeout:        p.cfg.Scanner.Timeout,
	})
	if p.deps.Progress != nil {
		sc.SetProgressCallback(p.deps.Progress)
	}
	scan := sc.Scan(ctx, targets, out.AsOf, held)
	out.Scan = scan
	p.deps.Metrics.ObserveScan(scan)

	if err := ctx.Err(); err != nil {
		p.fail(out, ExitFatal, fmt.Errorf("run aborted: %w", err))
		return
	}
	if len(scan.Results) == 0 {
		p.fail(out, ExitFatal, fmt.Errorf("%w (%d symbols tried)", ErrNoData, len(targets)))
		return
	}
	p.logger.WithFields(log.Fields{
		"evaluated": len(scan.Results),
		"failed":    len(scan.Failures),
		"skipped":   len(scan.Skipped),
		"elapsed":   scan.ScanTime.Round(time.Millisecond),
	}).Info("Screening complete")

	// Reconciling
	p.transition(StateReconciling)
	out.Buckets = reconcile.Reconcile(scan.Results, held, scan.Failures)
	p.deps.Metrics.ObserveBuckets(out.Buckets)

	// Alerting
	p.transition(StateAlerting)
	composer := alert.NewComposer(p.cfg.Alert.SubjectPrefix, p.cfg.Alert.Recipients)
	msg, err := composer.Compose(out.Buckets, alert.Report{
		AsOf:           out.AsOf,
		LookbackMonths: p.cfg.Screen.LookbackMonths,
		ThresholdPct:   p.cfg.Screen.ThresholdPct,
		Screened:       scan.TotalScanned,
		Skipped:        len(scan.Skipped),
	})
	if err != nil {
		p.fail(out, ExitFatal, err)
		return
	}
	out.Message = msg

	if p.cfg.Alert.DryRun {
		p.logger.Info("Dry run, alert not sent")
	} else {
		if err := p.deps.Sender.Send(ctx, msg); err != nil {
			p.dumpFallback(out)
			code := ExitDelivery
			if errors.Is(err, notifier.ErrAuthentication) {
				code = ExitFatal
			}
			p.fail(out, code, err)
			return
		}
		out.Delivered = true
		p.deps.Metrics.AlertsDelivered.Inc()
	}

	p.transition(StateDone)
	out.State = StateDone
	out.ExitCode = ExitOK
	p.logger.WithFields(log.Fields{
		"exit":        len(out.Buckets.Exit),
		"watch":       len(out.Buckets.Watch),
		"unevaluated": len(out.Buckets.Unevaluated),
		"delivered":   out.Delivered,
	}).Info("Run complete")
}

func (p *Pipeline) dumpFallback(out *Outcome) {
	path, err := WriteFallback(p.cfg.Alert.FallbackDir, out)
	if err != nil {
		p.logger.Errorf("Could not write fallback dump: %v", err)
		return
	}
	out.FallbackPath = path
	p.logger.WithField("path", path).Warn("Alert not delivered, results saved locally")
}

// finish records history and metrics. Failures here are logged only; they
// never change the outcome of the run.
func (p *Pipeline) finish(ctx context.Context, out *Outcome, started time.Time) {
	finished := p.deps.Now()
	p.deps.Metrics.ObserveFinish(out.ExitCode, finished.Sub(started), finished)

	run := &recorder.RunRecord{
		ID:          out.RunID,
		StartedAt:   started,
		FinishedAt:  finished,
		AsOf:        out.AsOf,
		State:       string(out.State),
		ExitCode:    out.ExitCode,
		Delivered:   out.Delivered,
		DryRun:      p.cfg.Alert.DryRun,
		Exit:        len(out.Buckets.Exit),
		Watch:       len(out.Buckets.Watch),
		Unevaluated: len(out.Buckets.Unevaluated),
	}
	if out.Err != nil {
		run.Error = out.Err.Error()
	}
	var results []model.MomentumResult
	if out.Scan != nil {
		run.Screened = out.Scan.TotalScanned
		run.Evaluated = len(out.Scan.Results)
		run.Skipped = len(out.Scan.Skipped)
		results = out.Scan.Results
	}
	if err := p.deps.Recorder.RecordRun(run, results, out.Buckets); err != nil {
		p.logger.Warnf("Could not record run history: %v", err)
	}

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.deps.Pusher.Push(pushCtx, p.deps.Metrics); err != nil {
		p.logger.Warnf("Could not push metrics: %v", err)
	}
}

// screenSet is the universe followed by any held symbol outside it. Held
// symbols are always screened so they can be checked for exit.
func screenSet(universe []model.Symbol, held model.Holdings) []model.Symbol {
	seen := make(map[model.Symbol]bool, len(universe)+len(held))
	out := make([]model.Symbol, 0, len(universe)+len(held))
	for _, s := range universe {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	var extra []model.Symbol
	for s := range held {
		if !seen[s] {
			extra = append(extra, s)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}
