// Package store persists diagnostic records for failed translations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pupper/internal/logging"
	"pupper/internal/types"
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DiagnosticStore implements the node's diagnostic sink on SQLite.
type DiagnosticStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// NewDiagnosticStore opens (or creates) the database at path. ":memory:" is
// accepted for tests.
func NewDiagnosticStore(path string) (*DiagnosticStore, error) {
	if path != ":memory:" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	s := &DiagnosticStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("diagnostics store opened path=%s", path)
	return s, nil
}

func (s *DiagnosticStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS diagnostics (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		stage TEXT NOT NULL,
		utterance TEXT NOT NULL,
		detail TEXT NOT NULL,
		raw TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_diagnostics_kind ON diagnostics(kind);
	CREATE INDEX IF NOT EXISTS idx_diagnostics_created ON diagnostics(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordDiagnostic stores d. A missing ID or CreatedAt is filled in.
func (s *DiagnosticStore) RecordDiagnostic(ctx context.Context, d types.Diagnostic) error {
	if !d.Kind.Valid() {
		return fmt.Errorf("invalid diagnostic kind %q", d.Kind)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO diagnostics (id, request_id, seq, kind, stage, utterance, detail, raw, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.RequestID, int64(d.Seq), string(d.Kind), string(d.Stage), d.Utterance, d.Detail, d.Raw,
		d.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		logging.StoreError("failed to record diagnostic %s: %v", d.ID, err)
		return fmt.Errorf("failed to record diagnostic: %w", err)
	}
	return nil
}

// Recent returns up to limit diagnostics, newest first.
func (s *DiagnosticStore) Recent(ctx context.Context, limit int) ([]types.Diagnostic, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, seq, kind, stage, utterance, detail, COALESCE(raw, ''), created_at
		 FROM diagnostics ORDER BY created_at DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query diagnostics: %w", err)
	}
	defer rows.Close()

	var out []types.Diagnostic
	for rows.Next() {
		var (
			d       types.Diagnostic
			seq     int64
			kind    string
			stage   string
			created string
		)
		if err := rows.Scan(&d.ID, &d.RequestID, &seq, &kind, &stage, &d.Utterance, &d.Detail, &d.Raw, &created); err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic: %w", err)
		}
		d.Seq = uint64(seq)
		d.Kind = types.FailureKind(kind)
		d.Stage = types.Stage(stage)
		if t, err := time.Parse(timeLayout, created); err == nil {
			d.CreatedAt = t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountByKind returns the number of stored diagnostics per failure kind.
func (s *DiagnosticStore) CountByKind(ctx context.Context) (map[types.FailureKind]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM diagnostics GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count diagnostics: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.FailureKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[types.FailureKind(kind)] = n
	}
	return counts, rows.Err()
}

// Ping verifies the database is reachable.
func (s *DiagnosticStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *DiagnosticStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *DiagnosticStore) Close() error {
	return s.db.Close()
}
