package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteErrorProblemJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusUnprocessableEntity, "Unprocessable Entity", "decision violates an invariant")

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type = %q", ct)
	}

	var p ProblemDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if p.Status != 422 || p.Title != "Unprocessable Entity" {
		t.Fatalf("problem = %+v", p)
	}
	if !strings.HasSuffix(p.Type, "/422") {
		t.Fatalf("type = %q, want status suffix", p.Type)
	}
	if p.Detail != "decision violates an invariant" {
		t.Fatalf("detail = %q", p.Detail)
	}
}

func TestWriteErrorRIncludesRequestContext(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-42")
	req := httptest.NewRequest(http.MethodGet, "/v1/decisions", nil)

	WriteErrorR(rec, req, http.StatusNotFound, "Not Found", "no such decision")

	var p ProblemDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if p.Instance != "/v1/decisions" {
		t.Fatalf("instance = %q", p.Instance)
	}
	if p.TraceID != "req-42" {
		t.Fatalf("trace id = %q", p.TraceID)
	}
}

func TestWriteTooManyRequestsSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteTooManyRequests(rec, 5)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if ra := rec.Header().Get("Retry-After"); ra != "5" {
		t.Fatalf("Retry-After = %q", ra)
	}
}

func TestWriteInternalHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteInternal(rec, errors.New("pq: password authentication failed for user tiller"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("internal error detail leaked: %s", rec.Body.String())
	}
}

func TestProblemDetailError(t *testing.T) {
	p := &ProblemDetail{Title: "Conflict", Detail: "version moved"}
	if got := p.Error(); got != "Conflict: version moved" {
		t.Fatalf("Error() = %q", got)
	}
}
