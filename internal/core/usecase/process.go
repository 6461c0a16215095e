package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/avolkov/document-intel-engine/internal/core/domain"
	"github.com/avolkov/document-intel-engine/internal/core/ports"
	"github.com/avolkov/document-intel-engine/internal/observability/metrics"
)

// ProcessDocumentUseCase drives the classification pipeline for a
// previously ingested document: fetch its bytes from storage, run the
// pipeline, and persist the outcome on the document row. A pipeline
// error on the record marks the document failed without failing the
// worker.
type ProcessDocumentUseCase struct {
	repo     ports.DocumentRepository
	storage  ports.ObjectStorage
	pipeline ports.DocumentPipeline
	metrics  *metrics.PipelineMetrics
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	pipeline ports.DocumentPipeline,
	m *metrics.PipelineMetrics,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		repo:     repo,
		storage:  storage,
		pipeline: pipeline,
		metrics:  m,
	}
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	if err := uc.markStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	doc, rec, err := uc.runPipeline(ctx, documentID)
	if err != nil {
		if failErr := uc.markFailed(ctx, documentID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	uc.observe(rec)

	if rec.Failed() {
		if err := uc.markStatus(ctx, documentID, domain.StatusFailed, rec.PipelineError); err != nil {
			return fmt.Errorf("set status=failed: %w", err)
		}
		return nil
	}

	if err := uc.repo.SaveResult(ctx, doc.ID, rec.FinalOutput); err != nil {
		if failErr := uc.markFailed(ctx, documentID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return fmt.Errorf("save classification result: %w", err)
	}

	if err := uc.markStatus(ctx, documentID, domain.StatusCompleted, ""); err != nil {
		return fmt.Errorf("set status=completed: %w", err)
	}

	return nil
}

func (uc *ProcessDocumentUseCase) runPipeline(ctx context.Context, documentID string) (*domain.Document, *domain.PipelineRecord, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch document by id: %w", err)
	}

	data, err := uc.loadBytes(ctx, doc.StoragePath)
	if err != nil {
		return nil, nil, err
	}

	rec, err := uc.pipeline.Run(ctx, doc.Filename, data, doc.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("run classification pipeline: %w", err)
	}
	return doc, rec, nil
}

func (uc *ProcessDocumentUseCase) loadBytes(ctx context.Context, storageKey string) ([]byte, error) {
	rc, err := uc.storage.Open(ctx, storageKey)
	if err != nil {
		return nil, fmt.Errorf("open stored document: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read stored document: %w", err)
	}
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read stored document", errors.New("stored document is empty"))
	}
	return data, nil
}

func (uc *ProcessDocumentUseCase) observe(rec *domain.PipelineRecord) {
	if uc.metrics == nil {
		return
	}
	uc.metrics.ObserveRun(rec)
}

func (uc *ProcessDocumentUseCase) markStatus(ctx context.Context, documentID string, status domain.DocumentStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, documentID, status, errMessage)
}

func (uc *ProcessDocumentUseCase) markFailed(ctx context.Context, documentID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, documentID, domain.StatusFailed, processErr.Error())
}
