package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
	"github.com/capitalize-ai/chat-workspace/pkg/metrics"
)

// CommandServer answers command requests on behalf of a backend.Commands
// implementation.
type CommandServer struct {
	conn     *nats.Conn
	commands backend.Commands
	timeout  time.Duration
	logger   *logger.Logger
	tracer   trace.Tracer

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewCommandServer creates a command server. timeout bounds each request.
func NewCommandServer(client *Client, commands backend.Commands, timeout time.Duration) *CommandServer {
	return &CommandServer{
		conn:     client.Conn(),
		commands: commands,
		timeout:  timeout,
		logger:   client.logger.Named("commands"),
		tracer:   otel.Tracer("github.com/capitalize-ai/chat-workspace/internal/nats"),
	}
}

// Start subscribes every command subject in the shared queue group.
func (s *CommandServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, command := range backend.AllCommands {
		command := command
		sub, err := s.conn.QueueSubscribe(CommandSubject(command), QueueGroup, func(msg *nats.Msg) {
			s.handle(command, msg)
		})
		if err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("failed to subscribe %s: %w", command, err)
		}
		s.subs = append(s.subs, sub)
	}

	if err := s.conn.FlushWithContext(ctx); err != nil {
		s.unsubscribeLocked()
		return fmt.Errorf("failed to flush command subscriptions: %w", err)
	}

	s.logger.Info("command server started", zap.Int("commands", len(s.subs)))
	return nil
}

// Stop drains the command subscriptions so in-flight requests finish.
func (s *CommandServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			s.logger.Warn("failed to drain subscription", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	s.subs = nil
}

func (s *CommandServer) unsubscribeLocked() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *CommandServer) handle(command string, msg *nats.Msg) {
	start := time.Now()

	ctx := context.Background()
	if msg.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "command "+command,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("workspace.command", command)),
	)
	defer span.End()

	var env envelope
	status := "ok"
	data, err := s.dispatch(ctx, command, msg.Data)
	if err != nil {
		wire := backend.ToError(err)
		env.Error = wire
		status = wire.Code
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if wire.Code == backend.CodeInternal || wire.Code == backend.CodeUnavailable {
			s.logger.Error("command failed", zap.String("command", command), zap.Error(err))
		} else {
			s.logger.Debug("command rejected", zap.String("command", command), zap.Error(err))
		}
	} else {
		env.Data = data
	}

	payload, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("failed to marshal reply", zap.String("command", command), zap.Error(err))
		return
	}
	if err := msg.Respond(payload); err != nil {
		s.logger.Warn("failed to send reply", zap.String("command", command), zap.Error(err))
	}

	metrics.RecordCommand(command, status, time.Since(start).Seconds())
}

func (s *CommandServer) dispatch(ctx context.Context, command string, raw []byte) (json.RawMessage, error) {
	switch command {
	case backend.CmdCreateConversation:
		var req model.CreateConversationRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return encode(s.commands.CreateConversation(ctx, req.Title))

	case backend.CmdListConversations:
		return encode(s.commands.ListConversations(ctx))

	case backend.CmdRenameConversation:
		var req model.RenameConversationRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return encode(s.commands.RenameConversation(ctx, req.ID, req.Title))

	case backend.CmdPinConversation:
		var req model.PinConversationRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return encode(s.commands.PinConversation(ctx, req.ID, req.Pinned))

	case backend.CmdDeleteConversation:
		var req model.ConversationRef
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, s.commands.DeleteConversation(ctx, req.ID)

	case backend.CmdGetConversationMessages:
		var req model.HistoryRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return encode(s.commands.GetConversationMessages(ctx, req.ID, req.Limit))

	case backend.CmdStreamChat:
		var req model.StreamChatRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, s.commands.StreamChat(ctx, &req)

	case backend.CmdInvokeChat:
		var req model.InvokeChatRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return encode(s.commands.InvokeChat(ctx, &req))

	case backend.CmdGetPreferences:
		return encode(s.commands.GetPreferences(ctx))

	case backend.CmdSavePreferences:
		var prefs model.Preferences
		if err := decode(raw, &prefs); err != nil {
			return nil, err
		}
		return nil, s.commands.SavePreferences(ctx, &prefs)
	}

	return nil, fmt.Errorf("%w: unknown command %q", backend.ErrInvalidArgument, command)
}

func decode(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", backend.ErrInvalidArgument, err)
	}
	return nil
}

func encode[T any](v T, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return data, nil
}
