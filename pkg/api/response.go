package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/frostline/updated/internal/logger"
	"github.com/frostline/updated/pkg/apperr"
)

// errorBody is the JSON shape of every error response. Internal detail
// never leaks; the message is the caller-safe half of the error.
type errorBody struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code. The
// payload is encoded to a buffer first so an encoding failure can still
// produce a clean 500 before any header is sent.
func writeJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("encoding response failed", "component", "api", "error", err)
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// writeError maps a core error kind to its HTTP status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status, message = http.StatusBadRequest, err.Error()
	case apperr.KindAuth:
		status, message = http.StatusUnauthorized, err.Error()
	case apperr.KindPermissionDenied:
		status, message = http.StatusForbidden, err.Error()
	case apperr.KindNotFound:
		status, message = http.StatusNotFound, err.Error()
	case apperr.KindConflict:
		status, message = http.StatusConflict, err.Error()
	case apperr.KindDependencyUnavailable:
		status, message = http.StatusServiceUnavailable, "a backing service is unavailable"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"component", "api",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	}
	writeJSON(w, status, errorBody{Error: message})
}

// decodeBody parses a JSON request body into dst, bounding its size.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("body: %v", err)
	}
	return nil
}
