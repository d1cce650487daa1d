package nats

import (
	"fmt"

	"github.com/capitalize-ai/chat-workspace/internal/model"
)

const (
	// StreamName is the name of the conversations stream.
	StreamName = "CONVERSATIONS"

	// SubjectPrefix is the prefix for all persisted conversation subjects.
	SubjectPrefix = "conv"

	// CommandPrefix is the prefix for request/reply command subjects.
	CommandPrefix = "workspace.cmd"

	// ChunkPrefix is the prefix for chat:chunk event subjects.
	ChunkPrefix = "workspace.evt.chat.chunk"

	// QueueGroup load-balances command handling across daemon instances.
	QueueGroup = "workspaced"
)

// CommandSubject returns the request subject for a command.
func CommandSubject(command string) string {
	return CommandPrefix + "." + command
}

// ChunkSubject returns the chat:chunk subject for a conversation.
func ChunkSubject(conversationID string) string {
	return ChunkPrefix + "." + conversationID
}

// MessageSubject returns the subject a message is persisted on.
func MessageSubject(conversationID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.msg.%s", SubjectPrefix, conversationID, role)
}

// MessageFilter returns the filter subject for all messages in a conversation.
func MessageFilter(conversationID string) string {
	return fmt.Sprintf("%s.%s.msg.>", SubjectPrefix, conversationID)
}

// ConversationFilter returns the filter subject for everything stored for a
// conversation.
func ConversationFilter(conversationID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, conversationID)
}

// ValidID reports whether id can be used as a single subject token and KV key.
func ValidID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
