package httpadapter

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avolkov/document-intel-engine/internal/core/domain"
	"github.com/avolkov/document-intel-engine/internal/core/ports"
	"github.com/avolkov/document-intel-engine/internal/observability/metrics"
)

// maxUploadBytes bounds a single multipart upload.
const maxUploadBytes = 32 << 20

type Router struct {
	ingest   ports.DocumentIngestor
	reader   ports.DocumentReader
	pipeline ports.DocumentPipeline
	feedback ports.FeedbackStore
	metrics  *metrics.HTTPServerMetrics
	service  string
}

func NewRouter(
	ingest ports.DocumentIngestor,
	reader ports.DocumentReader,
	pipeline ports.DocumentPipeline,
	feedback ports.FeedbackStore,
	m *metrics.HTTPServerMetrics,
	service string,
) *Router {
	return &Router{
		ingest:   ingest,
		reader:   reader,
		pipeline: pipeline,
		feedback: feedback,
		metrics:  m,
		service:  service,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/documents", rt.documents)
	mux.HandleFunc("/v1/documents/", rt.getDocumentByID)
	mux.HandleFunc("/v1/process", rt.processDocument)
	mux.HandleFunc("/v1/results/", rt.getResultByDocumentID)
	mux.HandleFunc("/v1/feedback", rt.submitFeedback)

	var handler http.Handler = mux
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) documents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		rt.uploadDocument(w, r)
	case http.MethodGet:
		rt.listDocuments(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// uploadDocument accepts a multipart upload, stores the source bytes
// and queues the document for asynchronous processing.
func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.ingest.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordUpload(rt.service, fileHeader.Size)
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	docs, err := rt.reader.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}

	doc, err := rt.reader.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// processDocument runs the full pipeline synchronously on the uploaded
// file and returns the assembled final record. A parse failure or a
// missing category catalog is the only way the caller gets no result.
func (rt *Router) processDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read upload: " + err.Error()})
		return
	}

	rec, err := rt.pipeline.Run(r.Context(), fileHeader.Filename, data, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rec.Failed() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":                  rec.PipelineError,
			"document_id":            rec.DocumentID,
			"audit_id":               rec.AuditID,
			"processing_duration_ms": rec.Duration.Milliseconds(),
		})
		return
	}
	writeJSON(w, http.StatusOK, rec.FinalOutput)
}

func (rt *Router) getResultByDocumentID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/results/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}

	doc, err := rt.reader.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	switch {
	case doc.Status == domain.StatusFailed:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"document_id": doc.ID,
			"status":      doc.Status,
			"error":       doc.Error,
		})
	case doc.Result == nil:
		writeJSON(w, http.StatusConflict, map[string]any{
			"document_id": doc.ID,
			"status":      doc.Status,
			"error":       "processing is not complete",
		})
	default:
		writeJSON(w, http.StatusOK, doc.Result)
	}
}

type feedbackRequest struct {
	DocumentID        string   `json:"document_id"`
	SourceFilename    string   `json:"source_filename"`
	PredictedCategory string   `json:"predicted_category"`
	ReviewerCategory  string   `json:"reviewer_correct_category"`
	ReviewerNotes     string   `json:"reviewer_notes"`
	Confidence        float64  `json:"confidence_score"`
	MatchedKeywords   []string `json:"matched_keywords"`
}

// submitFeedback records a reviewer correction for keyword dictionary
// review. Corrections are stored, never fed back into scoring.
func (rt *Router) submitFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document_id is required"})
		return
	}
	if strings.TrimSpace(req.ReviewerCategory) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reviewer_correct_category is required"})
		return
	}

	feedback := domain.ReviewFeedback{
		FeedbackID:        uuid.NewString(),
		DocumentID:        req.DocumentID,
		SourceFilename:    req.SourceFilename,
		FlaggedAt:         time.Now().UTC(),
		PredictedCategory: req.PredictedCategory,
		ReviewerCategory:  req.ReviewerCategory,
		ReviewerNotes:     req.ReviewerNotes,
		Confidence:        req.Confidence,
		MatchedKeywords:   req.MatchedKeywords,
	}
	if err := rt.feedback.Append(r.Context(), feedback); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, feedback)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	body := map[string]string{"error": err.Error()}
	if status == http.StatusInternalServerError {
		body["error"] = "internal error"
		body["request_id"] = requestIDFromContext(r.Context())
	}
	writeJSON(w, status, body)
}
