package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/middleware"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
	"github.com/capitalize-ai/chat-workspace/pkg/metrics"
)

// DefaultHeartbeat is the interval between SSE heartbeat events.
const DefaultHeartbeat = 30 * time.Second

// chunkBuffer bounds the chunks queued between the event subscription and
// the SSE writer.
const chunkBuffer = 256

// StreamHandler relays chat:chunk events as server-sent events.
type StreamHandler struct {
	backend   backend.Backend
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler. A non-positive heartbeat
// uses DefaultHeartbeat.
func NewStreamHandler(b backend.Backend, log *logger.Logger, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &StreamHandler{
		backend:   b,
		logger:    logger.OrGlobal(log),
		heartbeat: heartbeat,
	}
}

// ReplayCompleteEvent marks the end of the history replay on a watch stream.
type ReplayCompleteEvent struct {
	MessageCount int `json:"message_count"`
}

// Watch handles GET /api/v1/conversations/:id/stream. It replays the stored
// messages, then relays every chat:chunk event for the conversation until the
// client disconnects.
func (h *StreamHandler) Watch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before reading history so no chunk falls in between.
	chunks, sub, err := h.subscribe(ctx, conversationID)
	if err != nil {
		writeBackendError(w, h.logger, "failed to subscribe", err)
		return
	}
	defer sub.Unsubscribe()

	messages, err := h.backend.GetConversationMessages(ctx, conversationID, 0)
	if err != nil {
		writeBackendError(w, h.logger, "failed to get messages", err)
		return
	}

	setSSEHeaders(w)
	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	for _, msg := range messages {
		if err := sendSSEEvent(w, flusher, "message", msg); err != nil {
			return
		}
	}
	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{MessageCount: len(messages)})

	h.logger.Debug("message replay complete",
		zap.String("conversation_id", conversationID),
		zap.Int("messages_replayed", len(messages)),
	)

	h.relay(ctx, w, flusher, conversationID, chunks, false)
}

// Chat handles POST /api/v1/conversations/:id/stream. It triggers stream_chat
// and relays the reply's chunks, closing the response after the done chunk.
func (h *StreamHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
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

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	chunks, sub, err := h.subscribe(ctx, conversationID)
	if err != nil {
		writeBackendError(w, h.logger, "failed to subscribe", err)
		return
	}
	defer sub.Unsubscribe()

	if err := h.backend.StreamChat(ctx, &model.StreamChatRequest{
		ConversationID: conversationID,
		Prompt:         req.Content,
		SystemPrompt:   req.SystemPrompt,
		Model:          req.Model,
	}); err != nil {
		writeBackendError(w, h.logger, "failed to start chat stream", err)
		return
	}

	setSSEHeaders(w)
	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	h.relay(ctx, w, flusher, conversationID, chunks, true)
}

// subscribe opens a chunk subscription that queues into a buffered channel.
// Delivery blocks while the buffer is full and gives up once ctx is done.
func (h *StreamHandler) subscribe(ctx context.Context, conversationID string) (<-chan model.ChatChunk, backend.Subscription, error) {
	chunks := make(chan model.ChatChunk, chunkBuffer)
	done := ctx.Done()
	sub, err := h.backend.SubscribeChunks(ctx, conversationID, func(chunk model.ChatChunk) {
		if chunk.ConversationID != conversationID {
			return
		}
		select {
		case chunks <- chunk:
		case <-done:
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return chunks, sub, nil
}

func (h *StreamHandler) relay(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, conversationID string, chunks <-chan model.ChatChunk, untilDone bool) {
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("conversation_id", conversationID))
			return

		case chunk := <-chunks:
			if err := sendSSEEvent(w, flusher, model.EventChatChunk, chunk); err != nil {
				h.logger.Warn("failed to write SSE event", zap.Error(err))
				return
			}
			if untilDone && chunk.Done {
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
