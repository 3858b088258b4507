package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/zoravur/materialize-live/internal/apperr"
	"github.com/zoravur/materialize-live/internal/logutil"
	"github.com/zoravur/materialize-live/internal/protocol"
)

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.InvalidTarget, apperr.MissingTarget, apperr.MalformedPath, apperr.UnknownFingerprint:
		return http.StatusBadRequest
	case apperr.MissingDatasource:
		return http.StatusNotFound
	case apperr.NotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logutil.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]any{"error": protocol.NewErrorBody(err)})
}
