package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	dErrors "signals/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "internal_error" {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("schema mismatch names the field", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.NewField(dErrors.CodeSchemaMismatch, "satisfied", "expected a string"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "schema_mismatch" {
			t.Fatalf("expected error code schema_mismatch, got %q", body["error"])
		}
		if body["field"] != "satisfied" {
			t.Fatalf("expected field satisfied, got %q", body["field"])
		}
	})

	t.Run("plain errors are internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, http.ErrHandlerTimeout)

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

func TestStatusFor(t *testing.T) {
	cases := map[dErrors.Code]int{
		dErrors.CodeSessionExpired:             http.StatusGone,
		dErrors.CodeSessionFrozen:              http.StatusGone,
		dErrors.CodeSessionInvalidated:         http.StatusGone,
		dErrors.CodeCannotFreeze:               http.StatusBadRequest,
		dErrors.CodeNotAPredefinedAnswer:       http.StatusBadRequest,
		dErrors.CodeQuestionNotInQuestionnaire: http.StatusBadRequest,
		dErrors.CodeNotFound:                   http.StatusNotFound,
		dErrors.CodeGraphTooLarge:              http.StatusInternalServerError,
		dErrors.CodeCycleDetected:              http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := StatusFor(code); got != want {
			t.Errorf("StatusFor(%s) = %d, want %d", code, got, want)
		}
	}
}
