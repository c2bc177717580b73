package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/banshee-data/starfield/internal/monitoring"
)

// maxBodyBytes caps request bodies read by DecodeJSON.
const maxBodyBytes = 1 << 20

// WriteJSONError writes a JSON error response with the given status code and message.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("[HTTP] failed to encode json response: %v", err)
	}
}

// WriteJSONOK writes a successful JSON response (200 OK).
func WriteJSONOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// MethodNotAllowed writes a 405 and advertises the allowed methods.
func MethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}

func NotFound(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusNotFound, msg)
}

func Conflict(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusConflict, msg)
}

func ServiceUnavailable(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusServiceUnavailable, msg)
}

func InternalServerError(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusInternalServerError, msg)
}

// DecodeJSON reads a JSON request body into v. An empty body leaves v
// untouched. Unknown fields are rejected.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
