// Package backend defines the command/event boundary between the workspace
// client and the process that owns models, persistence and credentials.
package backend

import (
	"context"

	"github.com/capitalize-ai/chat-workspace/internal/model"
)

// Command names on the request/response surface.
const (
	CmdCreateConversation      = "create_conversation"
	CmdListConversations       = "list_conversations"
	CmdRenameConversation      = "rename_conversation"
	CmdPinConversation         = "pin_conversation"
	CmdDeleteConversation      = "delete_conversation"
	CmdGetConversationMessages = "get_conversation_messages"
	CmdStreamChat              = "stream_chat"
	CmdInvokeChat              = "invoke_chat"
	CmdGetPreferences          = "get_preferences"
	CmdSavePreferences         = "save_preferences"
)

// AllCommands lists every command name.
var AllCommands = []string{
	CmdCreateConversation,
	CmdListConversations,
	CmdRenameConversation,
	CmdPinConversation,
	CmdDeleteConversation,
	CmdGetConversationMessages,
	CmdStreamChat,
	CmdInvokeChat,
	CmdGetPreferences,
	CmdSavePreferences,
}

// Commands is the request/response surface.
type Commands interface {
	CreateConversation(ctx context.Context, title string) (*model.ConversationSummary, error)
	ListConversations(ctx context.Context) ([]model.ConversationSummary, error)
	RenameConversation(ctx context.Context, id, title string) (*model.ConversationSummary, error)
	PinConversation(ctx context.Context, id string, pinned bool) (*model.ConversationSummary, error)
	DeleteConversation(ctx context.Context, id string) error

	// GetConversationMessages returns messages in ascending order. A positive
	// limit keeps only the first limit messages.
	GetConversationMessages(ctx context.Context, id string, limit int) ([]model.Message, error)

	// StreamChat triggers a reply and returns once the prompt is accepted.
	// The reply itself arrives through Events.
	StreamChat(ctx context.Context, req *model.StreamChatRequest) error

	// InvokeChat is the legacy non-streaming path.
	InvokeChat(ctx context.Context, req *model.InvokeChatRequest) (*model.InvokeChatResponse, error)

	GetPreferences(ctx context.Context) (*model.Preferences, error)
	SavePreferences(ctx context.Context, prefs *model.Preferences) error
}

// ChunkHandler receives chat:chunk events. Handlers for one subscription are
// invoked sequentially in delivery order.
type ChunkHandler func(chunk model.ChatChunk)

// Subscription is a live event subscription.
type Subscription interface {
	Unsubscribe() error
}

// Events is the push surface.
type Events interface {
	// SubscribeChunks subscribes to chat:chunk events for one conversation.
	// The subscription is active when the call returns.
	SubscribeChunks(ctx context.Context, conversationID string, fn ChunkHandler) (Subscription, error)
}

// Backend is the full boundary.
type Backend interface {
	Commands
	Events
}
