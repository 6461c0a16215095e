package ports

import (
	"context"
	"io"

	"github.com/avolkov/document-intel-engine/internal/core/domain"
)

// CatalogStore owns the declarative category configuration source.
// Load re-checks modification times and reuses cached definitions;
// ForceReload bypasses the cache entirely. The returned catalog is an
// immutable snapshot safe for concurrent readers.
type CatalogStore interface {
	Load(ctx context.Context) (*domain.CategoryCatalog, error)
	ForceReload(ctx context.Context) (*domain.CategoryCatalog, error)
}

// TextParser converts raw document bytes to plain text. It must reject
// dangerous input before attempting conversion.
type TextParser interface {
	Parse(ctx context.Context, filename string, data []byte) (string, error)
}

// FallbackClassifier is the external semantic classifier invoked when
// the keyword engine's confidence is below threshold. It never
// fabricates a category: exhausted retries surface as an error.
type FallbackClassifier interface {
	ClassifyText(ctx context.Context, req domain.FallbackRequest) (domain.FallbackResult, error)
}

// AuditSink appends immutable audit records to durable storage.
type AuditSink interface {
	Append(ctx context.Context, entry domain.AuditRecord) error
}

// DocumentRepository persists submitted documents and their results.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SaveResult(ctx context.Context, id string, result *domain.FinalOutput) error
}

// ObjectStorage stores raw source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes document-received events.
type MessageQueue interface {
	PublishDocumentReceived(ctx context.Context, documentID string) error
	SubscribeDocumentReceived(ctx context.Context, handler func(context.Context, string) error) error
}

// FeedbackStore records reviewer corrections for dictionary review.
type FeedbackStore interface {
	Append(ctx context.Context, feedback domain.ReviewFeedback) error
}
