// Package history keeps an append-only record of cleanup and audit runs
// in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"github.com/GK-Developers/GK-Healter/internal/audit"
	"github.com/GK-Developers/GK-Healter/internal/cleanup"
)

// ErrNoRecords is returned when a lookup finds nothing
var ErrNoRecords = stderrors.New("no history records found")

// CleanupEntry summarises one stored cleanup run
type CleanupEntry struct {
	RunID           string          `json:"run_id"`
	TriggeredBy     cleanup.Trigger `json:"triggered_by"`
	DryRun          bool            `json:"dry_run"`
	Status          cleanup.Status  `json:"status"`
	Operations      int             `json:"operations"`
	Failed          int             `json:"failed"`
	TotalBytesFreed int64           `json:"total_bytes_freed"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
}

// AuditEntry summarises one stored audit
type AuditEntry struct {
	ID          string    `json:"id"`
	TrustScore  int       `json:"trust_score"`
	Findings    int       `json:"findings"`
	Critical    int       `json:"critical"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Store is the SQLite history. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates the database file and its directory when missing
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?mode=rwc&_journal_mode=WAL&_busy_timeout=3000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(4)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS cleanup_runs (
			run_id TEXT PRIMARY KEY,
			triggered_by TEXT NOT NULL,
			dry_run BOOLEAN NOT NULL,
			status TEXT NOT NULL,
			operations INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			bytes_freed INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			report_json TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cleanup_runs_started_at ON cleanup_runs(started_at);

		CREATE TABLE IF NOT EXISTS audit_runs (
			id TEXT PRIMARY KEY,
			trust_score INTEGER NOT NULL,
			findings INTEGER NOT NULL,
			critical INTEGER NOT NULL,
			generated_at TIMESTAMP NOT NULL,
			report_json TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_runs_generated_at ON audit_runs(generated_at);
	`)
	return err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCleanupReport appends a finished report. A run is stored once.
func (s *Store) SaveCleanupReport(ctx context.Context, r *cleanup.Report) error {
	if r.FinishedAt.IsZero() {
		return fmt.Errorf("cleanup report %s has not finished", r.RunID)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode cleanup report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cleanup_runs
		(run_id, triggered_by, dry_run, status, operations, failed, bytes_freed, started_at, finished_at, report_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.RunID,
		string(r.TriggeredBy),
		r.DryRun,
		string(r.Status),
		len(r.Operations),
		r.Count(cleanup.Failed),
		r.TotalBytesFreed,
		r.StartedAt.UTC(),
		r.FinishedAt.UTC(),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save cleanup report: %w", err)
	}

	s.logger.Debug("cleanup report saved", zap.String("run_id", r.RunID))
	return nil
}

// SaveAuditReport appends an audit report and returns its record id
func (s *Store) SaveAuditReport(ctx context.Context, r *audit.Report) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode audit report: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_runs (id, trust_score, findings, critical, generated_at, report_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, r.TrustScore, len(r.Findings), r.Count(audit.Critical), r.GeneratedAt.UTC(), string(data))
	if err != nil {
		return "", fmt.Errorf("failed to save audit report: %w", err)
	}

	s.logger.Debug("audit report saved", zap.String("id", id), zap.Int("trust_score", r.TrustScore))
	return id, nil
}

// LastRun returns when the most recent real run with the given trigger
// finished. Dry runs are ignored.
func (s *Store) LastRun(ctx context.Context, trigger cleanup.Trigger) (time.Time, error) {
	var finished time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT finished_at FROM cleanup_runs
		WHERE triggered_by = ? AND dry_run = 0
		ORDER BY finished_at DESC LIMIT 1
	`, string(trigger)).Scan(&finished)
	if err == sql.ErrNoRows {
		return time.Time{}, ErrNoRecords
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last run: %w", err)
	}
	return finished, nil
}

// ListCleanups returns cleanup runs, most recent first
func (s *Store) ListCleanups(ctx context.Context, limit, offset int) ([]CleanupEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, triggered_by, dry_run, status, operations, failed, bytes_freed, started_at, finished_at
		FROM cleanup_runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query cleanup runs: %w", err)
	}
	defer rows.Close()

	entries := []CleanupEntry{}
	for rows.Next() {
		var (
			e                     CleanupEntry
			trigger, status       string
			startedAt, finishedAt time.Time
		)
		if err := rows.Scan(&e.RunID, &trigger, &e.DryRun, &status, &e.Operations, &e.Failed,
			&e.TotalBytesFreed, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cleanup run: %w", err)
		}
		e.TriggeredBy = cleanup.Trigger(trigger)
		e.Status = cleanup.Status(status)
		e.StartedAt, e.FinishedAt = startedAt, finishedAt
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cleanup runs: %w", err)
	}
	return entries, nil
}

// ListAudits returns audits, most recent first
func (s *Store) ListAudits(ctx context.Context, limit, offset int) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trust_score, findings, critical, generated_at
		FROM audit_runs
		ORDER BY generated_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audits: %w", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.TrustScore, &e.Findings, &e.Critical, &e.GeneratedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audits: %w", err)
	}
	return entries, nil
}

// CleanupReport loads the full report of one run
func (s *Store) CleanupReport(ctx context.Context, runID string) (*cleanup.Report, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT report_json FROM cleanup_runs WHERE run_id = ?`, runID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNoRecords
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cleanup report: %w", err)
	}

	var r cleanup.Report
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("failed to decode cleanup report: %w", err)
	}
	return &r, nil
}

// LatestAudit loads the most recent audit report
func (s *Store) LatestAudit(ctx context.Context) (*audit.Report, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT report_json FROM audit_runs ORDER BY generated_at DESC LIMIT 1
	`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNoRecords
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load audit report: %w", err)
	}

	var r audit.Report
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("failed to decode audit report: %w", err)
	}
	return &r, nil
}
