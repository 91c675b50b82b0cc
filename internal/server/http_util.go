package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Request bodies are small control messages; anything past this is abuse.
const maxBodyBytes = 1 << 20

// writeJSON marshals before touching the response so an encode failure
// becomes a clean 500 instead of a half-written body.
func writeJSON(w http.ResponseWriter, status int, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"encode response failed"}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

// decodeJSONBody rejects unknown fields, oversized bodies, and trailing
// garbage so malformed clients fail loudly rather than half-working.
func decodeJSONBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// parseCursor reads the ?cursor= event sequence; anything unparseable
// means "from the beginning".
func parseCursor(r *http.Request) int64 {
	value, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("cursor")), 10, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}
