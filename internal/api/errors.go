package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/docchat/internal/domain"
)

// errorStatus maps an error kind to its HTTP status and error type.
// NotFound is checked before Storage since missing objects carry both.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrExtraction):
		return http.StatusUnprocessableEntity, "extraction_error"
	case errors.Is(err, domain.ErrIngestionInProgress):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrEmbeddingService):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, domain.ErrStorage):
		return http.StatusInternalServerError, "storage_error"
	}
	return http.StatusInternalServerError, "api_error"
}

// writeError sends err to the client. Server-side failures are logged and
// reported with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, errType := errorStatus(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if errType == "api_error" || errType == "storage_error" {
			msg = "internal error"
		}
	}
	httpError(w, code, errType, "%s", msg)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
