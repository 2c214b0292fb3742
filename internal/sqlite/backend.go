// Package sqlite implements the run ledger: every labelkit command records a
// run (and, for audits, its findings) so past results can be listed and
// compared.
//
// JSONL files in the ledger directory are the source of truth. SQLite is the
// query engine: the database is rebuilt from the JSONL files on Attach, and
// every write updates the table and then rewrites the matching JSONL file
// atomically.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/labelkit/pkg/types"
)

const dbFile = "ledger.db"

// Backend is the SQLite-backed run ledger.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	dataDir  string
	db       *sql.DB
}

// NewBackend creates a detached ledger. Call Attach before use.
func NewBackend() *Backend {
	return &Backend{}
}

// Attach opens the ledger in dataDir, creating the directory and empty JSONL
// files as needed, and loads existing records.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(dataDir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if dataDir == "" {
		return fmt.Errorf("%w: ledger directory is empty", types.ErrConfiguration)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	dbPath := filepath.Join(dataDir, dbFile)
	// The database is a cache of the JSONL files.
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	for _, ddl := range append(append([]string{}, schemaDDL...), indexDDL...) {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	if err := initJSONLFiles(dataDir); err != nil {
		db.Close()
		return err
	}
	if err := loadAllJSONL(db, dataDir); err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}

	b.db = db
	b.dataDir = dataDir
	b.attached = true
	return nil
}

// Detach closes the database. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	return nil
}

// generateUUID generates a new UUID v7 for record IDs.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// RecordRun stores a run and its findings. Empty IDs are assigned; run.ID is
// updated in place.
func (b *Backend) RecordRun(run *types.Run, findings []types.RunFinding) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return types.ErrLedgerDetached
	}
	if run.ID == "" {
		run.ID = generateUUID()
	}
	if run.Status == "" {
		run.Status = types.RunStatusOK
	}

	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO runs (run_id, command, root, mode, status, error, started_at, finished_at, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Command, run.Root, nullable(run.Mode), run.Status, nullable(run.Error),
		formatTime(run.StartedAt), formatTime(run.FinishedAt), nullable(string(run.Summary)),
	); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO findings (finding_id, run_id, seq, kind, severity, split, stem, path, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range findings {
		f := &findings[i]
		if f.ID == "" {
			f.ID = generateUUID()
		}
		f.RunID = run.ID
		f.Seq = i
		if _, err := stmt.Exec(f.ID, f.RunID, f.Seq, f.Kind, f.Severity,
			nullable(f.Split), nullable(f.Stem), nullable(f.Path), f.Detail); err != nil {
			return fmt.Errorf("inserting finding: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if err := b.persistRunsLocked(); err != nil {
		return err
	}
	if len(findings) > 0 {
		return b.persistFindingsLocked()
	}
	return nil
}

// ListRuns returns runs newest first.
func (b *Backend) ListRuns(filter types.RunFilter) ([]types.Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrLedgerDetached
	}
	query := `SELECT ` + strings.Join(runColumns, ", ") + ` FROM runs`
	var args []any
	if filter.Command != "" {
		query += ` WHERE command = ?`
		args = append(args, filter.Command)
	}
	query += ` ORDER BY run_id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return b.queryRuns(query, args...)
}

// GetRun returns the run whose id equals or starts with idOrPrefix.
func (b *Backend) GetRun(idOrPrefix string) (*types.Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrLedgerDetached
	}
	if idOrPrefix == "" {
		return nil, types.ErrRunNotFound
	}
	runs, err := b.queryRuns(`SELECT `+strings.Join(runColumns, ", ")+
		` FROM runs WHERE run_id = ? OR substr(run_id, 1, ?) = ? ORDER BY run_id LIMIT 3`,
		idOrPrefix, len(idOrPrefix), idOrPrefix)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if r.ID == idOrPrefix {
			return &r, nil
		}
	}
	switch len(runs) {
	case 0:
		return nil, fmt.Errorf("%w: %s", types.ErrRunNotFound, idOrPrefix)
	case 1:
		return &runs[0], nil
	}
	return nil, fmt.Errorf("%w: %s", types.ErrAmbiguousRunID, idOrPrefix)
}

// Findings returns the findings of a run in recorded order.
func (b *Backend) Findings(runID string) ([]types.RunFinding, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrLedgerDetached
	}
	return b.queryFindings(`SELECT `+strings.Join(findingColumns, ", ")+
		` FROM findings WHERE run_id = ? ORDER BY seq`, runID)
}

func (b *Backend) queryRuns(query string, args ...any) ([]types.Run, error) {
	rows, err := b.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []types.Run
	for rows.Next() {
		var (
			r                     types.Run
			mode, errText, sum    sql.NullString
			startedAt, finishedAt string
		)
		if err := rows.Scan(&r.ID, &r.Command, &r.Root, &mode, &r.Status, &errText,
			&startedAt, &finishedAt, &sum); err != nil {
			return nil, err
		}
		r.Mode, r.Error = mode.String, errText.String
		if sum.Valid && sum.String != "" {
			r.Summary = json.RawMessage(sum.String)
		}
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (b *Backend) queryFindings(query string, args ...any) ([]types.RunFinding, error) {
	rows, err := b.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying findings: %w", err)
	}
	defer rows.Close()

	var out []types.RunFinding
	for rows.Next() {
		var (
			f                 types.RunFinding
			split, stem, path sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.RunID, &f.Seq, &f.Kind, &f.Severity,
			&split, &stem, &path, &f.Detail); err != nil {
			return nil, err
		}
		f.Split, f.Stem, f.Path = split.String, stem.String, path.String
		out = append(out, f)
	}
	return out, rows.Err()
}

func (b *Backend) persistRunsLocked() error {
	runs, err := b.queryRuns(`SELECT ` + strings.Join(runColumns, ", ") + ` FROM runs ORDER BY run_id`)
	if err != nil {
		return err
	}
	records := make([]json.RawMessage, 0, len(runs))
	for _, r := range runs {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		records = append(records, data)
	}
	return writeJSONL(filepath.Join(b.dataDir, runsJSONL), records)
}

func (b *Backend) persistFindingsLocked() error {
	findings, err := b.queryFindings(`SELECT ` + strings.Join(findingColumns, ", ") + ` FROM findings ORDER BY run_id, seq`)
	if err != nil {
		return err
	}
	records := make([]json.RawMessage, 0, len(findings))
	for _, f := range findings {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		records = append(records, data)
	}
	return writeJSONL(filepath.Join(b.dataDir, findingsJSONL), records)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
