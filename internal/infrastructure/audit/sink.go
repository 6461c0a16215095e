package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/avolkov/document-intel-engine/internal/core/domain"
)

// Sink persists audit records in an append-only SQLite table. Records
// are never updated or deleted through this type; the table carries no
// update path at all.
type Sink struct {
	db   *sql.DB
	path string
}

func Open(dbPath string) (*Sink, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	sink := &Sink{db: db, path: dbPath}
	if err := sink.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
    audit_id            TEXT PRIMARY KEY,
    document_id         TEXT NOT NULL,
    source_filename     TEXT NOT NULL,
    timestamp           TEXT NOT NULL,
    extraction_method   TEXT NOT NULL,
    classification      TEXT NOT NULL,
    confidence          REAL NOT NULL,
    escalation_reason   TEXT NOT NULL DEFAULT '',
    fallback_unavailable INTEGER NOT NULL DEFAULT 0,
    validation_outcome  TEXT NOT NULL,
    validation_errors   TEXT NOT NULL DEFAULT '[]',
    pipeline_error      TEXT NOT NULL DEFAULT '',
    duration_ms         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_document ON audit_records (document_id);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records (timestamp);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply audit schema: %w", err)
	}
	return nil
}

func (s *Sink) Append(ctx context.Context, entry domain.AuditRecord) error {
	errsJSON, err := json.Marshal(emptyIfNil(entry.ValidationErrors))
	if err != nil {
		return fmt.Errorf("marshal validation errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_records (
            audit_id, document_id, source_filename, timestamp,
            extraction_method, classification, confidence,
            escalation_reason, fallback_unavailable,
            validation_outcome, validation_errors, pipeline_error, duration_ms
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.AuditID,
		entry.DocumentID,
		entry.SourceFilename,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		string(entry.Method),
		entry.Category,
		entry.Confidence,
		entry.EscalationReason,
		boolToInt(entry.FallbackUnavailable),
		entry.ValidationOutcome,
		string(errsJSON),
		entry.PipelineError,
		entry.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// ListByDocument returns every audit record for a document, oldest
// first. Reprocessing a document legitimately yields several.
func (s *Sink) ListByDocument(ctx context.Context, documentID string) ([]domain.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT audit_id, document_id, source_filename, timestamp,
                extraction_method, classification, confidence,
                escalation_reason, fallback_unavailable,
                validation_outcome, validation_errors, pipeline_error, duration_ms
         FROM audit_records WHERE document_id = ? ORDER BY timestamp ASC`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var (
			rec       domain.AuditRecord
			ts        string
			method    string
			fallback  int
			errsJSON  string
		)
		if err := rows.Scan(
			&rec.AuditID, &rec.DocumentID, &rec.SourceFilename, &ts,
			&method, &rec.Category, &rec.Confidence,
			&rec.EscalationReason, &fallback,
			&rec.ValidationOutcome, &errsJSON, &rec.PipelineError, &rec.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Method = domain.ClassificationMethod(method)
		rec.FallbackUnavailable = fallback != 0
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Timestamp = parsed
		}
		if err := json.Unmarshal([]byte(errsJSON), &rec.ValidationErrors); err != nil {
			rec.ValidationErrors = []string{}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Sink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func emptyIfNil(errs []string) []string {
	if errs == nil {
		return []string{}
	}
	return errs
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
