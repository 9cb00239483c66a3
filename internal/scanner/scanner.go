package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"momentumwatch/internal/analyzer"
	"momentumwatch/internal/provider"
	"momentumwatch/pkg/model"
)

// Failure reasons reported in the Unevaluated section
const (
	ReasonUnavailable  = "data unavailable"
	ReasonInsufficient = "insufficient history"
	ReasonTimedOut     = "timed out"
	ReasonCancelled    = "cancelled"
)

// ProgressCallback is called with progress updates
type ProgressCallback func(scanned, total int)

// Options controls a screening pass
type Options struct {
	LookbackMonths int
	ThresholdPct   float64
	MinAvgVolume   float64 // 0 disables the floor
	Workers        int
	Timeout        time.Duration
}

// Scanner screens symbols in parallel
type Scanner struct {
	provider     provider.Provider
	opts         Options
	progressFunc ProgressCallback
}

// NewScanner creates a new scanner
func NewScanner(p provider.Provider, opts Options) *Scanner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Scanner{
		provider: p,
		opts:     opts,
	}
}

// SetProgressCallback sets the progress callback function
func (s *Scanner) SetProgressCallback(fn ProgressCallback) {
	s.progressFunc = fn
}

type outcome struct {
	index   int
	result  *model.MomentumResult
	err     error
	skipped bool
}

// Scan fetches and evaluates every symbol over the lookback window ending
// on asOf. Per-symbol errors never fail the scan; they come back as
// failures. When the timeout (or ctx) expires the scan stops waiting and
// every symbol without an outcome is reported as timed out. Held symbols
// are exempt from the volume floor.
func (s *Scanner) Scan(ctx context.Context, symbols []model.Symbol, asOf time.Time, held model.Holdings) *model.ScanResult {
	startTime := time.Now()

	if len(symbols) == 0 {
		return &model.ScanResult{
			Results:  []model.MomentumResult{},
			ScanTime: time.Since(startTime),
		}
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	window := analyzer.LookbackWindow(asOf, s.opts.LookbackMonths)

	// Both channels are buffered to the job count so an abandoned worker
	// can always finish its send and exit.
	jobChan := make(chan int, len(symbols))
	resultChan := make(chan outcome, len(symbols))

	for i := range symbols {
		jobChan <- i
	}
	close(jobChan)

	var scannedCount int64

	workers := s.opts.Workers
	if workers > len(symbols) {
		workers = len(symbols)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobChan {
				if ctx.Err() != nil {
					return
				}
				resultChan <- s.screen(ctx, idx, symbols[idx], window, held)

				count := atomic.AddInt64(&scannedCount, 1)
				if s.progressFunc != nil {
					s.progressFunc(int(count), len(symbols))
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	outcomes := make([]*outcome, len(symbols))
collect:
	for {
		select {
		case o, ok := <-resultChan:
			if !ok {
				break collect
			}
			outcomes[o.index] = &o
		case <-ctx.Done():
			break collect
		}
	}

	return s.assemble(ctx, symbols, outcomes, time.Since(startTime))
}

func (s *Scanner) screen(ctx context.Context, idx int, sym model.Symbol, w analyzer.Window, held model.Holdings) outcome {
	series, err := s.provider.FetchSeries(ctx, sym, w.Start, w.End)
	if err != nil {
		return outcome{index: idx, err: err}
	}

	res, err := analyzer.Evaluate(series, w, s.opts.ThresholdPct)
	if err != nil {
		return outcome{index: idx, err: err}
	}

	if s.opts.MinAvgVolume > 0 && res.AvgVolume < s.opts.MinAvgVolume && !held.Has(sym) {
		return outcome{index: idx, skipped: true}
	}
	return outcome{index: idx, result: &res}
}

// assemble walks the symbols in input order so the result never depends on
// which worker finished first.
func (s *Scanner) assemble(ctx context.Context, symbols []model.Symbol, outcomes []*outcome, elapsed time.Duration) *model.ScanResult {
	res := &model.ScanResult{
		Results:      []model.MomentumResult{},
		Failures:     []model.UnevaluatedEntry{},
		TotalScanned: len(symbols),
		ScanTime:     elapsed,
	}

	abandoned := ReasonTimedOut
	if errors.Is(ctx.Err(), context.Canceled) {
		abandoned = ReasonCancelled
	}

	for i, sym := range symbols {
		o := outcomes[i]
		switch {
		case o == nil:
			res.Failures = append(res.Failures, model.UnevaluatedEntry{Symbol: sym, Reason: abandoned})
		case o.skipped:
			res.Skipped = append(res.Skipped, sym)
		case o.err != nil:
			reason := FailureReason(o.err)
			log.WithField("symbol", sym).Warnf("Failed to screen: %v", o.err)
			res.Failures = append(res.Failures, model.UnevaluatedEntry{Symbol: sym, Reason: reason})
		default:
			res.Results = append(res.Results, *o.result)
		}
	}

	if n := len(res.Failures); n > 0 {
		log.WithFields(log.Fields{"failed": n, "total": len(symbols)}).Warn("Some symbols could not be evaluated")
	}
	return res
}

// FailureReason maps a per-symbol error to its short user-facing reason
func FailureReason(err error) string {
	switch {
	case errors.Is(err, analyzer.ErrInsufficientHistory):
		return ReasonInsufficient
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimedOut
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, provider.ErrDataUnavailable):
		return ReasonUnavailable
	default:
		return err.Error()
	}
}
