package handler

import (
	"encoding/json"
	"net/http"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

// PreferencesHandler handles the preference record.
type PreferencesHandler struct {
	commands backend.Commands
	logger   *logger.Logger
}

// NewPreferencesHandler creates a new preferences handler.
func NewPreferencesHandler(commands backend.Commands, log *logger.Logger) *PreferencesHandler {
	return &PreferencesHandler{commands: commands, logger: logger.OrGlobal(log)}
}

// Get handles GET /api/v1/preferences
func (h *PreferencesHandler) Get(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.commands.GetPreferences(r.Context())
	if err != nil {
		writeBackendError(w, h.logger, "failed to get preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// Put handles PUT /api/v1/preferences
func (h *PreferencesHandler) Put(w http.ResponseWriter, r *http.Request) {
	var prefs model.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.commands.SavePreferences(r.Context(), &prefs); err != nil {
		writeBackendError(w, h.logger, "failed to save preferences", err)
		return
	}

	saved, err := h.commands.GetPreferences(r.Context())
	if err != nil {
		writeBackendError(w, h.logger, "failed to get preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
