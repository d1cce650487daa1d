package service

import (
	"context"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/llm"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	natsclient "github.com/capitalize-ai/chat-workspace/internal/nats"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

// Backend exposes the services as the backend command surface.
type Backend struct {
	Conversations *ConversationService
	Messages      *MessageService
	Preferences   *PreferencesService
}

var _ backend.Commands = (*Backend)(nil)

// Open prepares JetStream storage on client and builds the services. Chunks
// are published through client. llmClient may be nil.
func Open(ctx context.Context, client *natsclient.Client, llmClient llm.Client, log *logger.Logger, opts MessageOptions) (*Backend, error) {
	streamManager := natsclient.NewStreamManager(client)
	if err := streamManager.EnsureStream(ctx); err != nil {
		return nil, err
	}
	conversationStore, err := natsclient.NewConversationStore(ctx, client)
	if err != nil {
		return nil, err
	}
	preferenceStore, err := natsclient.NewPreferenceStore(ctx, client)
	if err != nil {
		return nil, err
	}

	conversations := NewConversationService(conversationStore, streamManager, log)
	return &Backend{
		Conversations: conversations,
		Messages:      NewMessageService(streamManager, conversations, llmClient, client, log, opts),
		Preferences:   NewPreferencesService(preferenceStore, log),
	}, nil
}

// CreateConversation implements backend.Commands.
func (b *Backend) CreateConversation(ctx context.Context, title string) (*model.ConversationSummary, error) {
	return b.Conversations.Create(ctx, title)
}

// ListConversations implements backend.Commands.
func (b *Backend) ListConversations(ctx context.Context) ([]model.ConversationSummary, error) {
	return b.Conversations.List(ctx)
}

// RenameConversation implements backend.Commands.
func (b *Backend) RenameConversation(ctx context.Context, id, title string) (*model.ConversationSummary, error) {
	return b.Conversations.Rename(ctx, id, title)
}

// PinConversation implements backend.Commands.
func (b *Backend) PinConversation(ctx context.Context, id string, pinned bool) (*model.ConversationSummary, error) {
	return b.Conversations.Pin(ctx, id, pinned)
}

// DeleteConversation implements backend.Commands.
func (b *Backend) DeleteConversation(ctx context.Context, id string) error {
	return b.Conversations.Delete(ctx, id)
}

// GetConversationMessages implements backend.Commands.
func (b *Backend) GetConversationMessages(ctx context.Context, id string, limit int) ([]model.Message, error) {
	return b.Messages.History(ctx, id, limit)
}

// StreamChat implements backend.Commands.
func (b *Backend) StreamChat(ctx context.Context, req *model.StreamChatRequest) error {
	return b.Messages.StreamChat(ctx, req)
}

// InvokeChat implements backend.Commands.
func (b *Backend) InvokeChat(ctx context.Context, req *model.InvokeChatRequest) (*model.InvokeChatResponse, error) {
	return b.Messages.InvokeChat(ctx, req)
}

// GetPreferences implements backend.Commands.
func (b *Backend) GetPreferences(ctx context.Context) (*model.Preferences, error) {
	return b.Preferences.Get(ctx)
}

// SavePreferences implements backend.Commands.
func (b *Backend) SavePreferences(ctx context.Context, prefs *model.Preferences) error {
	return b.Preferences.Save(ctx, prefs)
}
