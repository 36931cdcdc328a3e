package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// ErrorResponse is the error body returned to the dashboard and firmware.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Error kinds.
const (
	ErrKindInvalidPayload   = "invalid_payload"
	ErrKindInvalidJSON      = "invalid_json"
	ErrKindNotFound         = "not_found"
	ErrKindNoData           = "no_data"
	ErrKindConflict         = "conflict"
	ErrKindTooLarge         = "payload_too_large"
	ErrKindMethodNotAllowed = "method_not_allowed"
	ErrKindInternal         = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeRaw writes an already encoded JSON body unchanged.
func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(body)
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, ErrorResponse{Error: kind, Detail: detail})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, kind, detail string) {
	writeError(w, http.StatusBadRequest, kind, detail)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, detail string) {
	writeError(w, http.StatusNotFound, ErrKindNotFound, detail)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, detail string) {
	writeError(w, http.StatusInternalServerError, ErrKindInternal, detail)
}

// readJSONBody reads the request body and checks it is well-formed JSON.
// On failure the error response has been written and ok is false.
func readJSONBody(w http.ResponseWriter, r *http.Request) (body []byte, ok bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrKindTooLarge, "")
			return nil, false
		}
		writeBadRequest(w, ErrKindInvalidJSON, "reading body: "+err.Error())
		return nil, false
	}
	if !gjson.ValidBytes(body) {
		writeBadRequest(w, ErrKindInvalidJSON, "body is not valid JSON")
		return nil, false
	}
	return body, true
}
