package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/llm"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	natsclient "github.com/capitalize-ai/chat-workspace/internal/nats"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
	"github.com/capitalize-ai/chat-workspace/pkg/metrics"
)

// ChunkPublisher delivers chat:chunk events to subscribers.
type ChunkPublisher interface {
	PublishChunk(chunk model.ChatChunk) error
}

// MessageOptions tunes the message service.
type MessageOptions struct {
	// DefaultModel is used when a request names no model.
	DefaultModel string
	// ContextMessages caps the history sent to the provider. Zero sends all.
	ContextMessages int
	// StreamTimeout bounds one provider stream.
	StreamTimeout time.Duration
	// MaxTokens caps the reply length.
	MaxTokens int
}

// MessageService handles message operations.
type MessageService struct {
	streamManager       *natsclient.StreamManager
	conversationService *ConversationService
	llmClient           llm.Client
	publisher           ChunkPublisher
	logger              *logger.Logger
	opts                MessageOptions

	wg sync.WaitGroup
}

// NewMessageService creates a new message service. llmClient may be nil, in
// which case chat commands report the backend as unavailable.
func NewMessageService(
	streamManager *natsclient.StreamManager,
	conversationService *ConversationService,
	llmClient llm.Client,
	publisher ChunkPublisher,
	log *logger.Logger,
	opts MessageOptions,
) *MessageService {
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = 2 * time.Minute
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &MessageService{
		streamManager:       streamManager,
		conversationService: conversationService,
		llmClient:           llmClient,
		publisher:           publisher,
		logger:              logger.OrGlobal(log).Named("messages"),
		opts:                opts,
	}
}

// History returns a conversation's messages in ascending order. A positive
// limit keeps the first limit messages.
func (s *MessageService) History(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	if _, err := s.conversationService.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	messages, err := s.streamManager.GetMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

// StreamChat persists the prompt and starts streaming the reply. It returns
// once the prompt is stored; the reply is published as chat:chunk events
// ending with a done chunk that carries either the model or an error.
func (s *MessageService) StreamChat(ctx context.Context, req *model.StreamChatRequest) error {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return fmt.Errorf("%w: prompt is required", backend.ErrInvalidArgument)
	}
	if s.llmClient == nil {
		return fmt.Errorf("%w: no LLM provider configured", backend.ErrUnavailable)
	}
	if _, err := s.conversationService.Get(ctx, req.ConversationID); err != nil {
		return err
	}

	if _, err := s.persist(ctx, &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: req.ConversationID,
		Role:           model.RoleUser,
		Content:        prompt,
		CreatedAt:      time.Now(),
		Status:         model.StatusSent,
	}); err != nil {
		return err
	}

	history, err := s.streamManager.GetMessages(ctx, req.ConversationID, 0)
	if err != nil {
		return fmt.Errorf("failed to get message history: %w", err)
	}

	completion := &llm.CompletionRequest{
		Model:     s.model(req.Model),
		System:    strings.TrimSpace(req.SystemPrompt),
		Messages:  s.contextWindow(history),
		MaxTokens: s.opts.MaxTokens,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.streamReply(req.ConversationID, completion)
	}()
	return nil
}

func (s *MessageService) streamReply(conversationID string, req *llm.CompletionRequest) {
	log := s.logger.WithConversation(conversationID)
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StreamTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.llmClient.CompleteStream(ctx, req, func(token string, index int) error {
		return s.publisher.PublishChunk(model.ChatChunk{
			ConversationID: conversationID,
			Delta:          token,
		})
	})
	if err != nil {
		log.Warn("LLM stream failed", zap.String("model", req.Model), zap.Error(err))
		metrics.RecordLLMStream(req.Model, "error", time.Since(start).Seconds(), 0, 0)
		s.publishDone(log, model.ChatChunk{ConversationID: conversationID, Done: true, Error: err.Error()})
		return
	}

	modelName := resp.Model
	if modelName == "" {
		modelName = req.Model
	}
	metrics.RecordLLMStream(modelName, "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	if _, err := s.persist(ctx, &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Role:           model.RoleAssistant,
		Content:        resp.Content,
		CreatedAt:      time.Now(),
		Status:         model.StatusSent,
		Model:          modelName,
	}); err != nil {
		log.Error("failed to persist reply", zap.Error(err))
		s.publishDone(log, model.ChatChunk{ConversationID: conversationID, Done: true, Error: "failed to save reply"})
		return
	}

	s.publishDone(log, model.ChatChunk{ConversationID: conversationID, Done: true, Model: modelName})
}

func (s *MessageService) publishDone(log *logger.Logger, chunk model.ChatChunk) {
	if err := s.publisher.PublishChunk(chunk); err != nil {
		log.Error("failed to publish terminal chunk", zap.Error(err))
	}
}

// InvokeChat runs a single non-streaming completion. Nothing is persisted.
func (s *MessageService) InvokeChat(ctx context.Context, req *model.InvokeChatRequest) (*model.InvokeChatResponse, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", backend.ErrInvalidArgument)
	}
	if s.llmClient == nil {
		return nil, fmt.Errorf("%w: no LLM provider configured", backend.ErrUnavailable)
	}

	modelName := s.model(req.Model)
	resp, err := s.llmClient.Complete(ctx, &llm.CompletionRequest{
		Model:     modelName,
		System:    strings.TrimSpace(req.SystemPrompt),
		Messages:  []llm.ChatMessage{{Role: string(model.RoleUser), Content: prompt}},
		MaxTokens: s.opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM completion failed: %w", err)
	}
	if resp.Model != "" {
		modelName = resp.Model
	}
	return &model.InvokeChatResponse{Reply: resp.Content, Model: modelName}, nil
}

// Wait blocks until every background reply stream has finished.
func (s *MessageService) Wait() {
	s.wg.Wait()
}

func (s *MessageService) persist(ctx context.Context, msg *model.Message) (uint64, error) {
	seq, err := s.streamManager.PublishMessage(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to publish %s message: %w", msg.Role, err)
	}
	if err := s.conversationService.RecordMessage(ctx, msg); err != nil {
		s.logger.Warn("failed to update conversation snapshot",
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(err),
		)
	}
	metrics.MessagesTotal.WithLabelValues(string(msg.Role)).Inc()
	return seq, nil
}

func (s *MessageService) model(requested string) string {
	if requested != "" {
		return requested
	}
	if s.opts.DefaultModel != "" {
		return s.opts.DefaultModel
	}
	if s.llmClient != nil {
		return llm.DefaultModel(llm.Provider(s.llmClient.Name()))
	}
	return llm.DefaultOpenAIModel
}

func (s *MessageService) contextWindow(history []model.Message) []llm.ChatMessage {
	if n := s.opts.ContextMessages; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]llm.ChatMessage, 0, len(history))
	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		out = append(out, llm.ChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}
