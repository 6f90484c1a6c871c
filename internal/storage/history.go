package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	specs "github.com/chrisconley/rfms/specs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// created_at holds Unix nanoseconds so that ordering by it is chronological.
const historySchema = `
CREATE TABLE IF NOT EXISTS cluster_runs (
	run_id           TEXT    NOT NULL,
	cohort           TEXT    NOT NULL,
	split_date       TEXT    NOT NULL,
	created_at       INTEGER NOT NULL,
	customers        INTEGER NOT NULL,
	cluster_count    INTEGER NOT NULL,
	noise_ratio      REAL    NOT NULL,
	classified_ratio REAL    NOT NULL,
	validity_score   REAL,
	degenerate       INTEGER NOT NULL,
	PRIMARY KEY (run_id, cohort)
);
CREATE INDEX IF NOT EXISTS idx_cluster_runs_created_at ON cluster_runs(created_at);
`

// HistoryEntry is the quality summary of one cohort in one run.
type HistoryEntry struct {
	RunID     uuid.UUID
	CreatedAt time.Time
	SplitDate time.Time
	Quality   specs.CohortQualitySpec
}

// History appends cohort quality summaries to a SQLite database so that
// drift can be followed across runs.
type History struct {
	db *sql.DB
}

// OpenHistory opens or creates the history database at path.
func OpenHistory(ctx context.Context, path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &History{db: db}, nil
}

// Record stores entries in one transaction.
func (h *History) Record(ctx context.Context, entries ...HistoryEntry) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cluster_runs (run_id, cohort, split_date, created_at, customers, cluster_count,
			noise_ratio, classified_ratio, validity_score, degenerate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare history insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var validity sql.NullFloat64
		if e.Quality.ValidityScore != nil {
			validity = sql.NullFloat64{Float64: *e.Quality.ValidityScore, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			e.RunID.String(),
			e.Quality.Cohort,
			e.SplitDate.UTC().Format(time.RFC3339),
			e.CreatedAt.UnixNano(),
			e.Quality.Customers,
			e.Quality.ClusterCount,
			e.Quality.NoiseRatio,
			e.Quality.ClassifiedRatio,
			validity,
			e.Quality.Degenerate,
		)
		if err != nil {
			return fmt.Errorf("failed to record %s cohort of run %s: %w", e.Quality.Cohort, e.RunID, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit entries, newest run first.
func (h *History) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT run_id, cohort, split_date, created_at, customers, cluster_count,
			noise_ratio, classified_ratio, validity_score, degenerate
		FROM cluster_runs
		ORDER BY created_at DESC, cohort ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			runID, splitDate string
			createdAt        int64
			validity         sql.NullFloat64
			e                HistoryEntry
		)
		err := rows.Scan(&runID, &e.Quality.Cohort, &splitDate, &createdAt, &e.Quality.Customers,
			&e.Quality.ClusterCount, &e.Quality.NoiseRatio, &e.Quality.ClassifiedRatio, &validity,
			&e.Quality.Degenerate)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if e.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("invalid run ID %q: %w", runID, err)
		}
		if e.SplitDate, err = time.Parse(time.RFC3339, splitDate); err != nil {
			return nil, fmt.Errorf("invalid split date %q: %w", splitDate, err)
		}
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		if validity.Valid {
			v := validity.Float64
			e.Quality.ValidityScore = &v
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (h *History) Close() error {
	return h.db.Close()
}
