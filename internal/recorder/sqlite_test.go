package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"momentumwatch/pkg/model"
)

func TestSQLiteRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	r, err := NewSQLiteRecorder(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer r.Close()

	asOf := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	results := []model.MomentumResult{
		{Symbol: "B.NS", PctChange: -10, Classification: model.NonQualifying, FirstDate: asOf.AddDate(0, -3, 0), LastDate: asOf},
		{Symbol: "C.NS", PctChange: 18, Classification: model.Qualifying, FirstDate: asOf.AddDate(0, -3, 0), LastDate: asOf},
	}
	buckets := model.Buckets{
		Exit:        []model.Candidate{{Result: results[0]}},
		Watch:       []model.Candidate{{Result: results[1]}},
		Unevaluated: []model.UnevaluatedEntry{{Symbol: "D.NS", Held: true, Reason: "data unavailable"}},
	}

	for i, id := range []string{"run-1", "run-2"} {
		run := &RunRecord{
			ID:          id,
			StartedAt:   asOf.Add(time.Duration(i) * time.Hour),
			FinishedAt:  asOf.Add(time.Duration(i)*time.Hour + time.Minute),
			AsOf:        asOf,
			State:       "Done",
			Screened:    3,
			Evaluated:   2,
			Exit:        1,
			Watch:       1,
			Unevaluated: 1,
			Delivered:   true,
		}
		if err := r.RecordRun(run, results, buckets); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	runs, err := r.RecentRuns(10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-2" {
		t.Errorf("Expected newest run first, got %s", runs[0].ID)
	}
	if !runs[0].Delivered || runs[0].Exit != 1 || !runs[0].AsOf.Equal(asOf) {
		t.Errorf("Unexpected run record: %+v", runs[0])
	}

	var bucket string
	if err := r.db.QueryRow(`SELECT bucket FROM momentum_results WHERE run_id = ? AND symbol = ?`, "run-1", "B.NS").Scan(&bucket); err != nil {
		t.Fatalf("query: %v", err)
	}
	if bucket != BucketExit {
		t.Errorf("Expected exit bucket, got %q", bucket)
	}

	var n int
	r.db.QueryRow(`SELECT COUNT(*) FROM unevaluated`).Scan(&n)
	if n != 2 {
		t.Errorf("Expected 2 unevaluated rows, got %d", n)
	}
}

func TestSQLiteRecorderDuplicateRunRollsBack(t *testing.T) {
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	run := &RunRecord{ID: "same", StartedAt: time.Now(), FinishedAt: time.Now(), State: "Done"}
	results := []model.MomentumResult{{Symbol: "A.NS"}}
	if err := r.RecordRun(run, results, model.Buckets{}); err != nil {
		t.Fatal(err)
	}
	if err := r.RecordRun(run, results, model.Buckets{}); err == nil {
		t.Fatal("Expected error for duplicate run id")
	}

	var n int
	r.db.QueryRow(`SELECT COUNT(*) FROM momentum_results`).Scan(&n)
	if n != 1 {
		t.Errorf("Failed run must not leave partial rows, got %d results", n)
	}
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NewNoopRecorder()
	if err := r.RecordRun(&RunRecord{}, nil, model.Buckets{}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	runs, err := r.RecentRuns(5)
	if err != nil || runs != nil {
		t.Errorf("Expected no runs, got %v %v", runs, err)
	}
}
