package recorder

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"momentumwatch/pkg/model"
)

// SQLiteRecorder persists run history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.WithField("path", dbPath).Debug("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			started_at   INTEGER NOT NULL,
			finished_at  INTEGER NOT NULL,
			as_of        TEXT,
			state        TEXT NOT NULL,
			exit_code    INTEGER NOT NULL,
			error        TEXT,
			screened     INTEGER,
			evaluated    INTEGER,
			skipped      INTEGER,
			exit_count   INTEGER,
			watch_count  INTEGER,
			unevaluated  INTEGER,
			delivered    INTEGER,
			dry_run      INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS momentum_results (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id         TEXT NOT NULL REFERENCES runs(id),
			symbol         TEXT NOT NULL,
			pct_change     REAL,
			classification TEXT,
			first_close    REAL,
			last_close     REAL,
			first_date     TEXT,
			last_date      TEXT,
			avg_volume     REAL,
			ma20_trend     TEXT,
			bucket         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_symbol ON momentum_results(symbol, run_id)`,

		`CREATE TABLE IF NOT EXISTS unevaluated (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id  TEXT NOT NULL REFERENCES runs(id),
			symbol  TEXT NOT NULL,
			held    INTEGER,
			reason  TEXT
		)`,
	}

	for i, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("statement %d: %w", i, err)
		}
	}
	return nil
}

// RecordRun stores the run and everything it computed in one transaction
func (r *SQLiteRecorder) RecordRun(run *RunRecord, results []model.MomentumResult, buckets model.Buckets) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO runs
		(id, started_at, finished_at, as_of, state, exit_code, error, screened, evaluated, skipped,
		 exit_count, watch_count, unevaluated, delivered, dry_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.Unix(), run.FinishedAt.Unix(), run.AsOf.Format("2006-01-02"),
		run.State, run.ExitCode, run.Error, run.Screened, run.Evaluated, run.Skipped,
		run.Exit, run.Watch, run.Unevaluated, boolInt(run.Delivered), boolInt(run.DryRun),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, res := range results {
		_, err := tx.Exec(`INSERT INTO momentum_results
			(run_id, symbol, pct_change, classification, first_close, last_close, first_date, last_date,
			 avg_volume, ma20_trend, bucket)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, string(res.Symbol), res.PctChange, string(res.Classification),
			res.FirstClose, res.LastClose, res.FirstDate.Format("2006-01-02"), res.LastDate.Format("2006-01-02"),
			res.AvgVolume, string(res.MA20Trend), BucketOf(res.Symbol, buckets),
		)
		if err != nil {
			return fmt.Errorf("insert result %s: %w", res.Symbol, err)
		}
	}

	for _, u := range buckets.Unevaluated {
		_, err := tx.Exec(`INSERT INTO unevaluated (run_id, symbol, held, reason) VALUES (?, ?, ?, ?)`,
			run.ID, string(u.Symbol), boolInt(u.Held), u.Reason)
		if err != nil {
			return fmt.Errorf("insert unevaluated %s: %w", u.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecentRuns returns the latest runs, newest first
func (r *SQLiteRecorder) RecentRuns(limit int) ([]RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT id, started_at, finished_at, as_of, state, exit_code, error,
		screened, evaluated, skipped, exit_count, watch_count, unevaluated, delivered, dry_run
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			run               RunRecord
			started, finished int64
			asOf, errText     sql.NullString
			delivered, dryRun int
		)
		if err := rows.Scan(&run.ID, &started, &finished, &asOf, &run.State, &run.ExitCode, &errText,
			&run.Screened, &run.Evaluated, &run.Skipped, &run.Exit, &run.Watch, &run.Unevaluated,
			&delivered, &dryRun); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = time.Unix(started, 0)
		run.FinishedAt = time.Unix(finished, 0)
		if asOf.Valid {
			run.AsOf, _ = time.Parse("2006-01-02", asOf.String)
		}
		run.Error = errText.String
		run.Delivered = delivered != 0
		run.DryRun = dryRun != 0
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the database
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
