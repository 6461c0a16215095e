package domain

import "time"

// AuditRecord is the immutable, append-only projection of a completed
// pipeline run. Exactly one is produced per document, success or not.
type AuditRecord struct {
	AuditID             string               `json:"audit_id"`
	DocumentID          string               `json:"document_id"`
	SourceFilename      string               `json:"source_filename"`
	Timestamp           time.Time            `json:"timestamp"`
	Method              ClassificationMethod `json:"extraction_method"`
	Category            string               `json:"classification_result"`
	Confidence          float64              `json:"confidence_score"`
	EscalationReason    string               `json:"escalation_reason,omitempty"`
	FallbackUnavailable bool                 `json:"fallback_unavailable"`
	ValidationOutcome   string               `json:"validation_outcome"`
	ValidationErrors    []string             `json:"validation_errors"`
	PipelineError       string               `json:"pipeline_error,omitempty"`
	DurationMS          int64                `json:"processing_duration_ms"`
}

// AuditOutcome maps a validation status to the audit log's vocabulary.
func AuditOutcome(status ValidationStatus) string {
	switch status {
	case ValidationValid:
		return "passed"
	case ValidationPartial:
		return "partial"
	default:
		return "failed"
	}
}

// NewAuditRecord projects a pipeline record into its audit entry.
// The caller supplies the audit id so id generation stays with the
// orchestrator even when the sink is unavailable.
func NewAuditRecord(auditID string, rec *PipelineRecord) AuditRecord {
	return AuditRecord{
		AuditID:             auditID,
		DocumentID:          rec.DocumentID,
		SourceFilename:      rec.SourceFilename,
		Timestamp:           time.Now().UTC(),
		Method:              rec.Method,
		Category:            rec.Category,
		Confidence:          rec.Confidence,
		EscalationReason:    rec.EscalationReason,
		FallbackUnavailable: rec.FallbackUnavailable,
		ValidationOutcome:   AuditOutcome(rec.ValidationStatus),
		ValidationErrors:    rec.ValidationErrors,
		PipelineError:       rec.PipelineError,
		DurationMS:          time.Since(rec.StartTime).Milliseconds(),
	}
}
