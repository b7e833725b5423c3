package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MrSnakeDoc/pokefav/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

const msgBodyTooLarge = "request body too large"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps validation failures to 400 and everything else to
// 500. Storage failures never expose the driver message.
func writeDomainError(w http.ResponseWriter, err error) {
	if domain.IsValidation(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var se *domain.StorageError
	if errors.As(err, &se) {
		writeError(w, http.StatusInternalServerError, "db_error: "+se.Op+" failed")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

// NotFound answers every unknown method/path combination.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, domain.ErrRouteNotFound.Error())
}

// decodeBody reads at most limit bytes of JSON into dst. An empty body
// decodes as {}. It writes the error response itself and returns false on
// failure: 413 when the body is too large, 500 for unreadable or malformed JSON.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return false
	}

	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return false
	}
	return true
}
