package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avolkov/document-intel-engine/internal/core/domain"
)

// FeedbackStore records reviewer corrections next to the audit trail.
// The classification engine never reads these back; they exist for
// offline keyword dictionary review.
type FeedbackStore struct {
	db *sql.DB
}

// NewFeedbackStore shares the sink's database so feedback and audit
// trail live in one file.
func NewFeedbackStore(sink *Sink) (*FeedbackStore, error) {
	store := &FeedbackStore{db: sink.db}
	if err := store.migrate(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *FeedbackStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS review_feedback (
    feedback_id         TEXT PRIMARY KEY,
    document_id         TEXT NOT NULL,
    source_filename     TEXT NOT NULL,
    flagged_at          TEXT NOT NULL,
    predicted_category  TEXT NOT NULL,
    reviewer_category   TEXT NOT NULL,
    reviewer_notes      TEXT NOT NULL DEFAULT '',
    confidence          REAL NOT NULL,
    matched_keywords    TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_feedback_document ON review_feedback (document_id);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply feedback schema: %w", err)
	}
	return nil
}

func (s *FeedbackStore) Append(ctx context.Context, feedback domain.ReviewFeedback) error {
	keywords, err := json.Marshal(emptyIfNil(feedback.MatchedKeywords))
	if err != nil {
		return fmt.Errorf("marshal matched keywords: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO review_feedback (
            feedback_id, document_id, source_filename, flagged_at,
            predicted_category, reviewer_category, reviewer_notes,
            confidence, matched_keywords
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		feedback.FeedbackID,
		feedback.DocumentID,
		feedback.SourceFilename,
		feedback.FlaggedAt.UTC().Format(time.RFC3339Nano),
		feedback.PredictedCategory,
		feedback.ReviewerCategory,
		feedback.ReviewerNotes,
		feedback.Confidence,
		string(keywords),
	)
	if err != nil {
		return fmt.Errorf("append review feedback: %w", err)
	}
	return nil
}
