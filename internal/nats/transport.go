package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

// envelope is the reply body of every command.
type envelope struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *backend.Error  `json:"error,omitempty"`
}

// Transport is the client side of the backend boundary over NATS.
type Transport struct {
	conn    *nats.Conn
	timeout time.Duration
	logger  *logger.Logger
}

var _ backend.Backend = (*Transport)(nil)

// NewTransport creates a transport on client. timeout bounds requests whose
// context carries no deadline.
func NewTransport(client *Client, timeout time.Duration) *Transport {
	return &Transport{
		conn:    client.Conn(),
		timeout: timeout,
		logger:  client.logger.Named("transport"),
	}
}

func (t *Transport) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || t.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.timeout)
}

func (t *Transport) call(ctx context.Context, command string, args, out any) error {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	msg := nats.NewMsg(CommandSubject(command))
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("failed to marshal %s args: %w", command, err)
		}
		msg.Data = data
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	reply, err := t.conn.RequestMsgWithContext(ctx, msg)
	if errors.Is(err, nats.ErrNoResponders) {
		return fmt.Errorf("%w: %s: %w", backend.ErrUnavailable, command, err)
	}
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", command, err)
	}

	var env envelope
	if err := json.Unmarshal(reply.Data, &env); err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", command, err)
	}
	if env.Error != nil {
		return env.Error
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", command, err)
		}
	}
	return nil
}

// CreateConversation implements backend.Commands.
func (t *Transport) CreateConversation(ctx context.Context, title string) (*model.ConversationSummary, error) {
	var conv model.ConversationSummary
	if err := t.call(ctx, backend.CmdCreateConversation, model.CreateConversationRequest{Title: title}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations implements backend.Commands.
func (t *Transport) ListConversations(ctx context.Context) ([]model.ConversationSummary, error) {
	var convs []model.ConversationSummary
	if err := t.call(ctx, backend.CmdListConversations, nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// RenameConversation implements backend.Commands.
func (t *Transport) RenameConversation(ctx context.Context, id, title string) (*model.ConversationSummary, error) {
	var conv model.ConversationSummary
	if err := t.call(ctx, backend.CmdRenameConversation, model.RenameConversationRequest{ID: id, Title: title}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// PinConversation implements backend.Commands.
func (t *Transport) PinConversation(ctx context.Context, id string, pinned bool) (*model.ConversationSummary, error) {
	var conv model.ConversationSummary
	if err := t.call(ctx, backend.CmdPinConversation, model.PinConversationRequest{ID: id, Pinned: pinned}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation implements backend.Commands.
func (t *Transport) DeleteConversation(ctx context.Context, id string) error {
	return t.call(ctx, backend.CmdDeleteConversation, model.ConversationRef{ID: id}, nil)
}

// GetConversationMessages implements backend.Commands.
func (t *Transport) GetConversationMessages(ctx context.Context, id string, limit int) ([]model.Message, error) {
	var msgs []model.Message
	if err := t.call(ctx, backend.CmdGetConversationMessages, model.HistoryRequest{ID: id, Limit: limit}, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// StreamChat implements backend.Commands.
func (t *Transport) StreamChat(ctx context.Context, req *model.StreamChatRequest) error {
	return t.call(ctx, backend.CmdStreamChat, req, nil)
}

// InvokeChat implements backend.Commands.
func (t *Transport) InvokeChat(ctx context.Context, req *model.InvokeChatRequest) (*model.InvokeChatResponse, error) {
	var resp model.InvokeChatResponse
	if err := t.call(ctx, backend.CmdInvokeChat, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetPreferences implements backend.Commands.
func (t *Transport) GetPreferences(ctx context.Context) (*model.Preferences, error) {
	var prefs model.Preferences
	if err := t.call(ctx, backend.CmdGetPreferences, nil, &prefs); err != nil {
		return nil, err
	}
	return &prefs, nil
}

// SavePreferences implements backend.Commands.
func (t *Transport) SavePreferences(ctx context.Context, prefs *model.Preferences) error {
	return t.call(ctx, backend.CmdSavePreferences, prefs, nil)
}

// SubscribeChunks implements backend.Events. The subscription is flushed to
// the server before returning, so events published after the call are seen.
func (t *Transport) SubscribeChunks(ctx context.Context, conversationID string, fn backend.ChunkHandler) (backend.Subscription, error) {
	log := t.logger.WithConversation(conversationID)

	sub, err := t.conn.Subscribe(ChunkSubject(conversationID), func(msg *nats.Msg) {
		var chunk model.ChatChunk
		if err := json.Unmarshal(msg.Data, &chunk); err != nil {
			log.Warn("dropping undecodable chunk", zap.Error(err))
			return
		}
		fn(chunk)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to chunks: %w", err)
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	if err := t.conn.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("failed to flush chunk subscription: %w", err)
	}
	return sub, nil
}
