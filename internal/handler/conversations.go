// Package handler provides the HTTP gateway in front of the workspace backend.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/middleware"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

// ConversationListResponse is the body of GET /api/v1/conversations.
type ConversationListResponse struct {
	Conversations []model.ConversationSummary `json:"conversations"`
}

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	commands backend.Commands
	logger   *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(commands backend.Commands, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		commands: commands,
		logger:   logger.OrGlobal(log),
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateConversationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.commands.CreateConversation(r.Context(), req.Title)
	if err != nil {
		writeBackendError(w, h.logger, "failed to create conversation", err)
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	convs, err := h.commands.ListConversations(r.Context())
	if err != nil {
		writeBackendError(w, h.logger, "failed to list conversations", err)
		return
	}
	if convs == nil {
		convs = []model.ConversationSummary{}
	}

	writeJSON(w, http.StatusOK, &ConversationListResponse{Conversations: convs})
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	convs, err := h.commands.ListConversations(r.Context())
	if err != nil {
		writeBackendError(w, h.logger, "failed to get conversation", err)
		return
	}
	for i := range convs {
		if convs[i].ID == conversationID {
			writeJSON(w, http.StatusOK, &convs[i])
			return
		}
	}

	writeError(w, http.StatusNotFound, backend.ErrNotFound.Error())
}

// Update handles PUT /api/v1/conversations/:id. The body may rename, pin or
// both; the response is the conversation after the last change.
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == nil && req.Pinned == nil {
		writeError(w, http.StatusBadRequest, "title or pinned is required")
		return
	}

	var (
		conv *model.ConversationSummary
		err  error
	)
	if req.Title != nil {
		if err := middleware.ValidateTitle(*req.Title); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if conv, err = h.commands.RenameConversation(ctx, conversationID, *req.Title); err != nil {
			writeBackendError(w, h.logger, "failed to rename conversation", err)
			return
		}
	}
	if req.Pinned != nil {
		if conv, err = h.commands.PinConversation(ctx, conversationID, *req.Pinned); err != nil {
			writeBackendError(w, h.logger, "failed to pin conversation", err)
			return
		}
	}

	h.logger.Debug("conversation updated", zap.String("conversation_id", conversationID))
	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/v1/conversations/:id
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.commands.DeleteConversation(r.Context(), conversationID); err != nil {
		writeBackendError(w, h.logger, "failed to delete conversation", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
