package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type ClassificationMethod string

const (
	MethodDeterministic ClassificationMethod = "deterministic"
	MethodLLMFallback   ClassificationMethod = "llm_fallback"
	MethodUnclassified  ClassificationMethod = "unclassified"
)

// CategoryUnclassified is the sentinel category used when neither the
// keyword engine nor the fallback model produced a decision.
const CategoryUnclassified = "unclassified"

type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationPartial ValidationStatus = "partial"
	ValidationInvalid ValidationStatus = "invalid"
)

type DocumentStatus string

const (
	StatusReceived   DocumentStatus = "received"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// ClassificationOutcome is the result of one classification attempt,
// deterministic or fallback. EscalationReason is non-empty exactly when
// the deterministic path did not win outright.
type ClassificationOutcome struct {
	Category            string               `json:"category"`
	Confidence          float64              `json:"confidence"`
	Method              ClassificationMethod `json:"method"`
	MatchedKeywords     []string             `json:"matched_keywords"`
	EscalationReason    string               `json:"escalation_reason,omitempty"`
	FallbackUnavailable bool                 `json:"fallback_unavailable,omitempty"`
}

// PipelineRecord is the single mutable record threaded through one
// pipeline run. Each stage writes only the fields it owns; once
// PipelineError is set, downstream stages do bookkeeping only.
type PipelineRecord struct {
	DocumentID     string
	SourceFilename string
	FileBytes      []byte
	FileExtension  string
	FileSizeBytes  int64
	StartTime      time.Time

	ParsedText string
	ParseError string

	Category            string
	Method              ClassificationMethod
	Confidence          float64
	MatchedKeywords     []string
	EscalationReason    string
	FallbackUnavailable bool
	ExtractedFields     map[string]string

	ValidationStatus ValidationStatus
	ValidationErrors []string

	AuditID      string
	AuditWritten bool

	FinalOutput   *FinalOutput
	PipelineError string
	Duration      time.Duration
}

func NewPipelineRecord(sourceFilename string, fileBytes []byte, documentID string) *PipelineRecord {
	if documentID == "" {
		documentID = uuid.NewString()
	}
	return &PipelineRecord{
		DocumentID:     documentID,
		SourceFilename: sourceFilename,
		FileBytes:      fileBytes,
		FileSizeBytes:  int64(len(fileBytes)),
		StartTime:      time.Now().UTC(),
		Category:       CategoryUnclassified,
		Method:         MethodUnclassified,
	}
}

// Failed reports whether a fatal pipeline error was recorded.
func (r *PipelineRecord) Failed() bool {
	return r.PipelineError != ""
}

// FinalOutput is the assembled result for external consumption.
// It is nil on the record exactly when a pipeline error occurred.
type FinalOutput struct {
	DocumentID          string               `json:"document_id"`
	SourceFilename      string               `json:"source_filename"`
	Category            string               `json:"category"`
	Method              ClassificationMethod `json:"method"`
	Confidence          float64              `json:"confidence"`
	MatchedKeywords     []string             `json:"matched_keywords"`
	EscalationReason    string               `json:"escalation_reason,omitempty"`
	FallbackUnavailable bool                 `json:"fallback_unavailable"`
	ExtractedFields     map[string]string    `json:"extracted_fields"`
	ValidationStatus    ValidationStatus     `json:"validation_status"`
	ValidationErrors    []string             `json:"validation_errors"`
	AuditID             string               `json:"audit_id"`
	ProcessedAt         time.Time            `json:"processed_at"`
	DurationMS          int64                `json:"processing_duration_ms"`
}

// ReviewFeedback is a reviewer's correction of a classification.
// It is write-only from the engine's perspective: stored for keyword
// dictionary review, never fed back into scoring.
type ReviewFeedback struct {
	FeedbackID        string    `json:"feedback_id"`
	DocumentID        string    `json:"document_id"`
	SourceFilename    string    `json:"source_filename"`
	FlaggedAt         time.Time `json:"flagged_at"`
	PredictedCategory string    `json:"predicted_category"`
	ReviewerCategory  string    `json:"reviewer_correct_category"`
	ReviewerNotes     string    `json:"reviewer_notes,omitempty"`
	Confidence        float64   `json:"confidence_score"`
	MatchedKeywords   []string  `json:"matched_keywords"`
}

// Document is the persisted view of one submitted document: its stored
// source bytes, processing status, and (once completed) final output.
type Document struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mime_type,omitempty"`
	StoragePath string         `json:"storage_path"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	Result      *FinalOutput   `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// FallbackRequest carries everything the external semantic classifier
// needs: a bounded excerpt, the currently valid category set, and the
// reason the deterministic path escalated.
type FallbackRequest struct {
	Excerpt          string
	ValidCategories  []string
	EscalationReason string
	BestConfidence   float64
}

// FallbackResult is the only response shape accepted from the external
// semantic classifier.
type FallbackResult struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// RoundConfidence normalizes a confidence value to 4 decimal places.
func RoundConfidence(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// ClampConfidence forces a confidence into [0,1] without rejecting it.
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
