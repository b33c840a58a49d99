package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/papervault/paperfetch/internal/core"
)

const mediaType = "application/json"

// ErrorResponse is the envelope for caller-facing errors.
type ErrorResponse struct {
	Error *core.Error `json:"error"`
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a core.Error in the standard envelope.
func WriteError(w http.ResponseWriter, status int, err *core.Error) {
	WriteJSON(w, status, ErrorResponse{Error: err})
}

// writeCoreError maps a core error code to its HTTP status.
func writeCoreError(w http.ResponseWriter, err error) {
	var cerr *core.Error
	if !errors.As(err, &cerr) {
		WriteError(w, http.StatusInternalServerError, core.NewInternalError(err.Error()))
		return
	}
	switch cerr.Code {
	case core.ErrCodeInvalidRequest:
		WriteError(w, http.StatusBadRequest, cerr)
	case core.ErrCodeNotFound:
		WriteError(w, http.StatusNotFound, cerr)
	case core.ErrCodeNotReady:
		WriteError(w, http.StatusConflict, cerr)
	default:
		WriteError(w, http.StatusInternalServerError, cerr)
	}
}
