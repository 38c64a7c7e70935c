// Package store persists condensation runs to SQLite so results survive
// restarts and can be listed and re-fetched over the API.
//
// DESIGN: One row per run. The full report is stored as a JSON document
// next to a few extracted columns for listing and pruning; the document
// is the source of truth.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	_ "modernc.org/sqlite"

	"github.com/minsignal/condense/internal/refine"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = errors.New("run not found")

// RunSummary is one row of a listing, extracted from the stored report.
type RunSummary struct {
	RunID            string    `json:"run_id"`
	CreatedAt        time.Time `json:"created_at"`
	Converged        bool      `json:"converged"`
	Rounds           int       `json:"rounds"`
	FinalSimilarity  float64   `json:"final_similarity"`
	CompressionRatio float64   `json:"compression_ratio"`
}

// Store wraps the SQLite database.
type Store struct {
	db      *sql.DB
	maxRuns int
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	created_at  TEXT NOT NULL,
	converged   INTEGER NOT NULL,
	similarity  REAL NOT NULL,
	report      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`

// Open opens (or creates) the store at path. ":memory:" gives an
// ephemeral store. maxRuns of 0 disables pruning.
func Open(path string, maxRuns int) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store '%s': %w", path, err)
	}
	// modernc.org/sqlite serializes writes itself but a single connection
	// avoids SQLITE_BUSY on concurrent saves.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize run store schema: %w", err)
	}
	return &Store{db: db, maxRuns: maxRuns}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// SaveReport persists a finished run. The report document is stamped
// with storage metadata before insertion.
func (s *Store) SaveReport(ctx context.Context, report *refine.Report) error {
	doc, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	// Stamp rather than re-marshal: the report type stays free of
	// storage concerns.
	stamped, err := sjson.SetBytes(doc, "stored_at", time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to stamp report: %w", err)
	}
	if stamped, err = sjson.SetBytes(stamped, "schema_version", 1); err != nil {
		return fmt.Errorf("failed to stamp report: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, created_at, converged, similarity, report)
		 VALUES (?, ?, ?, ?, ?)`,
		report.RunID.String(),
		report.StartedAt.UTC().Format(time.RFC3339Nano),
		boolToInt(report.Converged),
		report.FinalSimilarity,
		string(stamped),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", report.RunID, err)
	}

	if s.maxRuns > 0 {
		if err := s.prune(ctx); err != nil {
			log.Warn().Err(err).Msg("run store pruning failed")
		}
	}
	return nil
}

// GetRun returns the stored report document for a run id.
func (s *Store) GetRun(ctx context.Context, runID string) ([]byte, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM runs WHERE run_id = ?`, runID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return []byte(doc), nil
}

// ListRuns returns summaries of the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, created_at, converged, similarity, report
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			sum       RunSummary
			createdAt string
			converged int
			doc       string
		)
		if err := rows.Scan(&sum.RunID, &createdAt, &converged, &sum.FinalSimilarity, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		sum.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		sum.Converged = converged != 0
		sum.Rounds = int(gjson.Get(doc, "records.#").Int())
		sum.CompressionRatio = gjson.Get(doc, "compression_ratio").Float()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// prune deletes the oldest rows beyond maxRuns.
func (s *Store) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.maxRuns)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
