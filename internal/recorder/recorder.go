package recorder

import (
	"time"

	"momentumwatch/pkg/model"
)

// Bucket labels stored with each result
const (
	BucketExit  = "exit"
	BucketWatch = "watch"
	BucketNone  = ""
)

// RunRecord summarises one pipeline run.
type RunRecord struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	AsOf        time.Time
	State       string
	ExitCode    int
	Error       string
	Screened    int
	Evaluated   int
	Skipped     int
	Exit        int
	Watch       int
	Unevaluated int
	Delivered   bool
	DryRun      bool
}

// Recorder persists run history for later analysis.
type Recorder interface {
	RecordRun(run *RunRecord, results []model.MomentumResult, buckets model.Buckets) error
	RecentRuns(limit int) ([]RunRecord, error)
	Close() error
}

// BucketOf returns the bucket label a symbol landed in
func BucketOf(sym model.Symbol, b model.Buckets) string {
	for _, c := range b.Exit {
		if c.Result.Symbol == sym {
			return BucketExit
		}
	}
	for _, c := range b.Watch {
		if c.Result.Symbol == sym {
			return BucketWatch
		}
	}
	return BucketNone
}
