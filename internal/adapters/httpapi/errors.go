package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alejandrodnm/liqshield/internal/domain"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// classify maps the domain error taxonomy to a status and a stable code.
func classify(err error) (int, string) {
	var revert *domain.RevertError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, domain.ErrExtensionDecode):
		return http.StatusBadRequest, "EXTENSION_DECODE_ERROR"
	case errors.Is(err, domain.ErrOrderMismatch):
		return http.StatusBadRequest, "ORDER_MISMATCH"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrAlreadyFilling):
		return http.StatusConflict, "ALREADY_FILLING"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrInvalidSignatureEncoding):
		return http.StatusUnprocessableEntity, "INVALID_SIGNATURE_ENCODING"
	case errors.Is(err, domain.ErrNotReconstructed):
		return http.StatusUnprocessableEntity, "NOT_RECONSTRUCTED"
	case errors.As(err, &revert):
		return http.StatusInternalServerError, "EXECUTION_REVERTED"
	case errors.Is(err, domain.ErrFillTransactionFailed):
		return http.StatusInternalServerError, "FILL_TRANSACTION_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	body := errorBody{Error: http.StatusText(status), Code: code, Details: err.Error()}

	var revert *domain.RevertError
	switch {
	case errors.As(err, &revert):
		body.Error = "Execution reverted"
		body.Details = revert.Reason
	case code == "FILL_TRANSACTION_FAILED":
		body.Error = "Failed to fill order"
	case status < http.StatusInternalServerError:
		body.Error = err.Error()
		body.Details = ""
	}

	if status >= http.StatusInternalServerError {
		slog.Error("http: request failed", "path", r.URL.Path, "code", code, "err", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("http: encode response", "err", err)
	}
}
