package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeBackendError maps a backend failure onto an HTTP status. Internal
// failures are logged and reported without detail.
func writeBackendError(w http.ResponseWriter, log *logger.Logger, msg string, err error) {
	wire := backend.ToError(err)
	switch wire.Code {
	case backend.CodeNotFound:
		writeError(w, http.StatusNotFound, wire.Message)
	case backend.CodeInvalidArgument:
		writeError(w, http.StatusBadRequest, wire.Message)
	case backend.CodeUnavailable:
		writeError(w, http.StatusServiceUnavailable, wire.Message)
	default:
		log.Error(msg, zap.Error(err))
		writeError(w, http.StatusInternalServerError, msg)
	}
}
