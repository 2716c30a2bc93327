package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
)

// ErrorBody is the JSON body of every non-2xx gateway response.
type ErrorBody struct {
	Error     string              `json:"error"`
	Code      contracts.ErrorKind `json:"code,omitempty"`
	RequestID string              `json:"request_id,omitempty"`
}

// introspectFailure keeps the {valid:false, error} shape introspection
// callers expect.
type introspectFailure struct {
	Valid bool `json:"valid"`
	ErrorBody
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch contracts.Kind(err) {
	case contracts.KindMalformed, contracts.KindInvalidSignature, contracts.KindExpired, contracts.KindHopLimitExceeded:
		return http.StatusBadRequest
	case contracts.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(w http.ResponseWriter, err error) ErrorBody {
	return ErrorBody{
		Error:     err.Error(),
		Code:      contracts.Kind(err),
		RequestID: w.Header().Get(requestIDHeader),
	}
}

// writeError writes err with the status its kind maps to. Internal errors
// are logged but never exposed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, status, errorBody(w, err))
}

func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "internal server error", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, ErrorBody{
		Error:     "An unexpected error occurred. Please try again later.",
		Code:      contracts.KindInternal,
		RequestID: w.Header().Get(requestIDHeader),
	})
}

func writeTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	writeJSON(w, http.StatusTooManyRequests, ErrorBody{
		Error:     "rate limit exceeded",
		RequestID: w.Header().Get(requestIDHeader),
	})
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", contracts.ErrMalformed, fmt.Sprintf(format, args...))
}

// decodeBody reads a single JSON object, rejecting unknown fields and
// trailing data.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return malformed("request body exceeds %d bytes", tooLarge.Limit)
		}
		return malformed("invalid JSON body: %v", err)
	}
	if dec.More() {
		return malformed("unexpected data after JSON body")
	}
	return nil
}
