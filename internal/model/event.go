package model

import (
	"time"
)

// EventChatChunk is the name of the streamed reply event.
const EventChatChunk = "chat:chunk"

// ChatChunk is one incremental unit of an in-progress assistant reply.
// Non-done chunks carry a delta. The terminal chunk has Done set, an empty
// delta, and either the model that produced the reply or an Error.
type ChatChunk struct {
	ConversationID string `json:"conversation_id"`
	Delta          string `json:"delta"`
	Done           bool   `json:"done"`
	Model          string `json:"model,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Failed reports whether the chunk terminates the stream with an error.
func (c ChatChunk) Failed() bool {
	return c.Done && c.Error != ""
}

// ErrorEvent is the SSE payload for gateway errors.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
