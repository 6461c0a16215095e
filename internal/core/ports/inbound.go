package ports

import (
	"context"
	"io"

	"github.com/avolkov/document-intel-engine/internal/core/domain"
)

// DocumentPipeline is the synchronous run contract: one document in,
// one complete audited record out.
type DocumentPipeline interface {
	Run(ctx context.Context, sourceFilename string, fileBytes []byte, documentID string) (*domain.PipelineRecord, error)
}

// DocumentIngestor accepts an uploaded document for asynchronous
// processing.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// DocumentProcessor runs the pipeline for a previously ingested
// document.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// DocumentReader is the read model for document state and results.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Document, error)
}
