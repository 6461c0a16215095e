package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/avolkov/document-intel-engine/internal/core/domain"
	"github.com/avolkov/document-intel-engine/internal/core/ports"
	"github.com/avolkov/document-intel-engine/internal/core/scoring"
	"github.com/avolkov/document-intel-engine/internal/core/validate"
)

// ClassificationPipeline threads one document through the fixed stage
// order: parse, classify, optional llm fallback, validate, audit,
// output. Each stage returns a typed result that the orchestrator
// merges into the single record it owns; no stage writes another
// stage's fields. A failed parse is the only fatal condition; any
// other degradation still completes the run and is audited.
type ClassificationPipeline struct {
	catalog   ports.CatalogStore
	parser    ports.TextParser
	fallback  ports.FallbackClassifier
	audit     ports.AuditSink
	engine    *scoring.Engine
	validator *validate.Validator
}

func NewClassificationPipeline(
	catalog ports.CatalogStore,
	parser ports.TextParser,
	fallback ports.FallbackClassifier,
	audit ports.AuditSink,
) *ClassificationPipeline {
	return &ClassificationPipeline{
		catalog:   catalog,
		parser:    parser,
		fallback:  fallback,
		audit:     audit,
		engine:    scoring.NewEngine(),
		validator: validate.NewValidator(),
	}
}

type parseResult struct {
	text     string
	parseErr string
}

type classifyResult struct {
	skipped     bool
	outcome     domain.ClassificationOutcome
	fields      map[string]string
	pipelineErr string
}

type fallbackResult struct {
	unavailable bool
	category    string
	confidence  float64
	fields      map[string]string
}

type auditResult struct {
	auditID string
	written bool
}

// Run processes one document to completion and returns a complete
// record for it. Degraded outcomes such as an unavailable fallback are
// carried on the record, never returned as errors. Only a catalog that
// cannot load at all surfaces as an error.
func (p *ClassificationPipeline) Run(ctx context.Context, sourceFilename string, fileBytes []byte, documentID string) (*domain.PipelineRecord, error) {
	catalog, err := p.catalog.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load category catalog: %w", err)
	}

	rec := domain.NewPipelineRecord(sourceFilename, fileBytes, documentID)
	rec.FileExtension = strings.ToLower(filepath.Ext(sourceFilename))

	pr := p.parse(ctx, rec)
	rec.ParsedText = pr.text
	rec.ParseError = pr.parseErr
	if pr.parseErr != "" {
		rec.PipelineError = pr.parseErr
	}
	// Raw bytes are not needed past parse; drop them so the record that
	// flows downstream stays small.
	rec.FileBytes = nil

	cr := p.classify(rec, catalog)
	if !cr.skipped {
		if cr.pipelineErr != "" {
			rec.PipelineError = cr.pipelineErr
		} else {
			rec.Category = cr.outcome.Category
			rec.Method = cr.outcome.Method
			rec.Confidence = cr.outcome.Confidence
			rec.MatchedKeywords = cr.outcome.MatchedKeywords
			rec.EscalationReason = cr.outcome.EscalationReason
			rec.ExtractedFields = cr.fields
		}
	}

	// A pipeline error at or before classify always skips the fallback:
	// calling an external model on broken input cannot help.
	if !rec.Failed() && rec.EscalationReason != "" {
		fr := p.llmFallback(ctx, rec, catalog)
		if fr.unavailable {
			rec.FallbackUnavailable = true
		} else {
			rec.Category = fr.category
			rec.Method = domain.MethodLLMFallback
			rec.Confidence = fr.confidence
			rec.MatchedKeywords = []string{}
			rec.ExtractedFields = fr.fields
		}
	}

	var def *domain.CategoryDefinition
	if !rec.Failed() {
		def, _ = catalog.Get(rec.Category)
	}
	vr := p.validator.Validate(def, rec.ExtractedFields, rec.PipelineError)
	rec.ValidationStatus = vr.Status
	rec.ValidationErrors = vr.Errors

	ar := p.auditStage(ctx, rec)
	rec.AuditID = ar.auditID
	rec.AuditWritten = ar.written

	p.output(rec)
	return rec, nil
}

func (p *ClassificationPipeline) parse(ctx context.Context, rec *domain.PipelineRecord) parseResult {
	text, err := p.parser.Parse(ctx, rec.SourceFilename, rec.FileBytes)
	if err != nil {
		slog.Warn("parse_failed", "document_id", rec.DocumentID, "filename", rec.SourceFilename, "error", err)
		return parseResult{parseErr: err.Error()}
	}
	return parseResult{text: text}
}

func (p *ClassificationPipeline) classify(rec *domain.PipelineRecord, catalog *domain.CategoryCatalog) classifyResult {
	if rec.Failed() {
		return classifyResult{skipped: true}
	}
	if strings.TrimSpace(rec.ParsedText) == "" {
		return classifyResult{pipelineErr: "no parsed text available for classification"}
	}

	outcome := p.engine.Classify(rec.ParsedText, catalog)
	res := classifyResult{outcome: outcome, fields: map[string]string{}}
	if outcome.Method == domain.MethodDeterministic {
		if def, ok := catalog.Get(outcome.Category); ok {
			res.fields = p.engine.ExtractFields(rec.ParsedText, def)
		}
	} else {
		slog.Info("classification_escalated",
			"document_id", rec.DocumentID,
			"reason", outcome.EscalationReason,
			"best_confidence", outcome.Confidence,
		)
	}
	return res
}

func (p *ClassificationPipeline) llmFallback(ctx context.Context, rec *domain.PipelineRecord, catalog *domain.CategoryCatalog) fallbackResult {
	result, err := p.fallback.ClassifyText(ctx, domain.FallbackRequest{
		Excerpt:          rec.ParsedText,
		ValidCategories:  catalog.Slugs(),
		EscalationReason: rec.EscalationReason,
		BestConfidence:   rec.Confidence,
	})
	if err != nil {
		slog.Warn("fallback_unavailable", "document_id", rec.DocumentID, "error", err)
		return fallbackResult{unavailable: true}
	}

	fields := map[string]string{}
	if def, ok := catalog.Get(result.Category); ok {
		fields = p.engine.ExtractFields(rec.ParsedText, def)
	}
	return fallbackResult{
		category:   result.Category,
		confidence: result.Confidence,
		fields:     fields,
	}
}

// auditStage always runs, for every record including failed ones, and
// always yields an audit id. Persistence failures are logged and
// reflected in the written flag, never fatal. The append uses a
// non-cancelable context so an aborting caller cannot leave a document
// without its audit record.
func (p *ClassificationPipeline) auditStage(ctx context.Context, rec *domain.PipelineRecord) auditResult {
	auditID := ulid.Make().String()
	entry := domain.NewAuditRecord(auditID, rec)
	if err := p.audit.Append(context.WithoutCancel(ctx), entry); err != nil {
		slog.Warn("audit_append_failed", "document_id", rec.DocumentID, "audit_id", auditID, "error", err)
		return auditResult{auditID: auditID, written: false}
	}
	return auditResult{auditID: auditID, written: true}
}

func (p *ClassificationPipeline) output(rec *domain.PipelineRecord) {
	rec.Duration = time.Since(rec.StartTime)

	if rec.Failed() {
		rec.FinalOutput = nil
		slog.Warn("pipeline_failed",
			"document_id", rec.DocumentID,
			"error", rec.PipelineError,
			"duration_ms", rec.Duration.Milliseconds(),
		)
		return
	}

	matched := rec.MatchedKeywords
	if matched == nil {
		matched = []string{}
	}
	fields := rec.ExtractedFields
	if fields == nil {
		fields = map[string]string{}
	}
	errs := rec.ValidationErrors
	if errs == nil {
		errs = []string{}
	}

	rec.FinalOutput = &domain.FinalOutput{
		DocumentID:          rec.DocumentID,
		SourceFilename:      rec.SourceFilename,
		Category:            rec.Category,
		Method:              rec.Method,
		Confidence:          rec.Confidence,
		MatchedKeywords:     matched,
		EscalationReason:    rec.EscalationReason,
		FallbackUnavailable: rec.FallbackUnavailable,
		ExtractedFields:     fields,
		ValidationStatus:    rec.ValidationStatus,
		ValidationErrors:    errs,
		AuditID:             rec.AuditID,
		ProcessedAt:         time.Now().UTC(),
		DurationMS:          rec.Duration.Milliseconds(),
	}

	slog.Info("pipeline_complete",
		"document_id", rec.DocumentID,
		"category", rec.Category,
		"method", string(rec.Method),
		"confidence", rec.Confidence,
		"validation_status", string(rec.ValidationStatus),
		"duration_ms", rec.Duration.Milliseconds(),
	)
}
