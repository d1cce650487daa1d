package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/middleware"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

// MessageListResponse is the body of GET /api/v1/conversations/:id/messages.
type MessageListResponse struct {
	Messages []model.Message `json:"messages"`
}

// MessageHandler handles message endpoints.
type MessageHandler struct {
	commands backend.Commands
	logger   *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(commands backend.Commands, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		commands: commands,
		logger:   logger.OrGlobal(log),
	}
}

// List handles GET /api/v1/conversations/:id/messages. A positive limit query
// parameter keeps the first limit messages.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	messages, err := h.commands.GetConversationMessages(r.Context(), conversationID, limit)
	if err != nil {
		writeBackendError(w, h.logger, "failed to get messages", err)
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}

	writeJSON(w, http.StatusOK, &MessageListResponse{Messages: messages})
}

// Send handles POST /api/v1/conversations/:id/messages with the legacy
// non-streaming invoke_chat command. Nothing is persisted.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidatePrompt(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.commands.InvokeChat(r.Context(), &model.InvokeChatRequest{
		Prompt:         req.Content,
		Model:          req.Model,
		ConversationID: conversationID,
		SystemPrompt:   req.SystemPrompt,
	})
	if err != nil {
		writeBackendError(w, h.logger, "failed to send message", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
