package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avolkov/document-intel-engine/internal/core/domain"
	"github.com/avolkov/document-intel-engine/internal/observability/metrics"
)

type ingestorFake struct {
	doc *domain.Document
	err error

	lastFilename string
	lastMime     string
}

func (f *ingestorFake) Upload(_ context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error) {
	f.lastFilename = filename
	f.lastMime = mimeType
	if _, err := io.Copy(io.Discard, body); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

type readerFake struct {
	doc  *domain.Document
	docs []domain.Document
	err  error

	lastLimit int
}

func (f *readerFake) GetByID(context.Context, string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

func (f *readerFake) ListRecent(_ context.Context, limit int) ([]domain.Document, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

type pipelineFake struct {
	rec *domain.PipelineRecord
	err error

	lastFilename string
	lastData     []byte
}

func (f *pipelineFake) Run(_ context.Context, sourceFilename string, fileBytes []byte, _ string) (*domain.PipelineRecord, error) {
	f.lastFilename = sourceFilename
	f.lastData = fileBytes
	if f.err != nil {
		return nil, f.err
	}
	return f.rec, nil
}

type feedbackFake struct {
	entries []domain.ReviewFeedback
	err     error
}

func (f *feedbackFake) Append(_ context.Context, feedback domain.ReviewFeedback) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, feedback)
	return nil
}

type routerFixture struct {
	ingest   *ingestorFake
	reader   *readerFake
	pipeline *pipelineFake
	feedback *feedbackFake
	handler  http.Handler
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	fx := &routerFixture{
		ingest:   &ingestorFake{},
		reader:   &readerFake{},
		pipeline: &pipelineFake{},
		feedback: &feedbackFake{},
	}
	rt := NewRouter(
		fx.ingest,
		fx.reader,
		fx.pipeline,
		fx.feedback,
		metrics.NewHTTPServerMetrics("api-test"),
		"api-test",
	)
	fx.handler = rt.Handler()
	return fx
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestHealthz(t *testing.T) {
	fx := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
	if resp.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected a generated request id header")
	}
}

func TestUploadDocumentAccepted(t *testing.T) {
	fx := newRouterFixture(t)
	fx.ingest.doc = &domain.Document{ID: "doc-1", Filename: "invoice.pdf", Status: domain.StatusReceived}

	body, contentType := multipartUpload(t, "invoice.pdf", []byte("%PDF-1.4 fake"))
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	if fx.ingest.lastFilename != "invoice.pdf" {
		t.Fatalf("filename = %q", fx.ingest.lastFilename)
	}

	var doc domain.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.ID != "doc-1" || doc.Status != domain.StatusReceived {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestUploadDocumentRequiresFilePart(t *testing.T) {
	fx := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader("not multipart"))
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

func TestDocumentsMethodNotAllowed(t *testing.T) {
	fx := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodDelete, "/v1/documents", nil)
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.Code)
	}
}

func TestListDocuments(t *testing.T) {
	fx := newRouterFixture(t)
	fx.reader.docs = []domain.Document{
		{ID: "doc-2", Status: domain.StatusCompleted},
		{ID: "doc-1", Status: domain.StatusReceived},
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/documents?limit=2", nil)
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	if fx.reader.lastLimit != 2 {
		t.Fatalf("limit = %d, want 2", fx.reader.lastLimit)
	}

	var payload struct {
		Documents []domain.Document `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Documents) != 2 || payload.Documents[0].ID != "doc-2" {
		t.Fatalf("unexpected documents: %+v", payload.Documents)
	}
}

func TestListDocumentsRejectsBadLimit(t *testing.T) {
	fx := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/documents?limit=lots", nil)
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	fx := newRouterFixture(t)
	fx.reader.err = domain.WrapError(domain.ErrNotFound, "get document", errors.New("no rows"))

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil)
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
}

func TestProcessDocumentReturnsFinalOutput(t *testing.T) {
	fx := newRouterFixture(t)
	fx.pipeline.rec = &domain.PipelineRecord{
		DocumentID: "doc-9",
		Duration:   40 * time.Millisecond,
		FinalOutput: &domain.FinalOutput{
			DocumentID:       "doc-9",
			SourceFilename:   "invoice.txt",
			Category:         "invoice",
			Method:           domain.MethodDeterministic,
			Confidence:       0.8123,
			MatchedKeywords:  []string{"invoice", "payment terms"},
			ValidationStatus: domain.ValidationValid,
			ValidationErrors: []string{},
			AuditID:          "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		},
	}

	body, contentType := multipartUpload(t, "invoice.txt", []byte("Invoice Number: INV-1"))
	req := httptest.NewRequest(http.MethodPost, "/v1/process", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	if fx.pipeline.lastFilename != "invoice.txt" {
		t.Fatalf("filename = %q", fx.pipeline.lastFilename)
	}
	if string(fx.pipeline.lastData) != "Invoice Number: INV-1" {
		t.Fatalf("pipeline received %q", fx.pipeline.lastData)
	}

	var out domain.FinalOutput
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Category != "invoice" || out.AuditID == "" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestProcessDocumentParseFailure(t *testing.T) {
	fx := newRouterFixture(t)
	fx.pipeline.rec = &domain.PipelineRecord{
		DocumentID:    "doc-bad",
		AuditID:       "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		PipelineError: "check file type: blocked file extension: .exe",
		Duration:      5 * time.Millisecond,
	}

	body, contentType := multipartUpload(t, "payload.exe", []byte{0x4d, 0x5a})
	req := httptest.NewRequest(http.MethodPost, "/v1/process", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["audit_id"] != "01ARZ3NDEKTSV4RRFFQ69G5FAV" {
		t.Fatalf("failed runs must still carry the audit id: %v", payload)
	}
}

func TestProcessDocumentCatalogMissing(t *testing.T) {
	fx := newRouterFixture(t)
	fx.pipeline.err = domain.WrapError(domain.ErrConfigNotFound, "load category catalog", errors.New("stat index"))

	body, contentType := multipartUpload(t, "invoice.txt", []byte("text"))
	req := httptest.NewRequest(http.MethodPost, "/v1/process", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.Code)
	}
}

func TestGetResultByDocumentStatus(t *testing.T) {
	completed := &domain.Document{
		ID:     "doc-1",
		Status: domain.StatusCompleted,
		Result: &domain.FinalOutput{DocumentID: "doc-1", Category: "receipt"},
	}
	pending := &domain.Document{ID: "doc-2", Status: domain.StatusProcessing}
	failed := &domain.Document{ID: "doc-3", Status: domain.StatusFailed, Error: "parse document: document parse failure: empty document"}

	cases := []struct {
		name       string
		doc        *domain.Document
		wantStatus int
	}{
		{"completed", completed, http.StatusOK},
		{"still processing", pending, http.StatusConflict},
		{"failed", failed, http.StatusUnprocessableEntity},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newRouterFixture(t)
			fx.reader.doc = tc.doc

			req := httptest.NewRequest(http.MethodGet, "/v1/results/"+tc.doc.ID, nil)
			resp := httptest.NewRecorder()
			fx.handler.ServeHTTP(resp, req)

			if resp.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", resp.Code, tc.wantStatus, resp.Body.String())
			}
		})
	}
}

func TestSubmitFeedback(t *testing.T) {
	fx := newRouterFixture(t)

	payload := `{"document_id":"doc-1","predicted_category":"report","reviewer_correct_category":"contract","confidence_score":0.41}`
	req := httptest.NewRequest(http.MethodPost, "/v1/feedback", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	if len(fx.feedback.entries) != 1 {
		t.Fatalf("entries = %d", len(fx.feedback.entries))
	}
	stored := fx.feedback.entries[0]
	if stored.FeedbackID == "" {
		t.Fatal("feedback id must be assigned server side")
	}
	if stored.ReviewerCategory != "contract" || stored.PredictedCategory != "report" {
		t.Fatalf("unexpected feedback: %+v", stored)
	}
	if stored.FlaggedAt.IsZero() {
		t.Fatal("flagged_at must be set")
	}
}

func TestSubmitFeedbackValidation(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"invalid json", `{`},
		{"missing document id", `{"reviewer_correct_category":"invoice"}`},
		{"missing corrected category", `{"document_id":"doc-1"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newRouterFixture(t)

			req := httptest.NewRequest(http.MethodPost, "/v1/feedback", strings.NewReader(tc.payload))
			req.Header.Set("Content-Type", "application/json")
			resp := httptest.NewRecorder()
			fx.handler.ServeHTTP(resp, req)

			if resp.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.Code)
			}
			if len(fx.feedback.entries) != 0 {
				t.Fatalf("feedback must not be stored: %+v", fx.feedback.entries)
			}
		})
	}
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	fx := newRouterFixture(t)
	fx.reader.err = errors.New("pq: connection refused")

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil)
	resp := httptest.NewRecorder()
	fx.handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "connection refused") {
		t.Fatalf("driver error leaked to the client: %s", resp.Body.String())
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["request_id"] == "" {
		t.Fatal("500 responses must carry the request id for correlation")
	}
}
