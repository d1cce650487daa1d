// Package service implements the workspace command surface on top of NATS
// JetStream storage and an LLM provider.
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	natsclient "github.com/capitalize-ai/chat-workspace/internal/nats"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
	"github.com/capitalize-ai/chat-workspace/pkg/metrics"
)

// PreviewLength is the number of runes kept as a conversation's last message preview.
const PreviewLength = 200

// ConversationService handles conversation operations.
type ConversationService struct {
	store         *natsclient.ConversationStore
	streamManager *natsclient.StreamManager
	logger        *logger.Logger
	now           func() time.Time

	// mu serializes read-modify-write cycles on the bucket.
	mu sync.Mutex
}

// NewConversationService creates a new conversation service.
func NewConversationService(store *natsclient.ConversationStore, streamManager *natsclient.StreamManager, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:         store,
		streamManager: streamManager,
		logger:        logger.OrGlobal(log).Named("conversations"),
		now:           time.Now,
	}
}

// Create creates a new conversation. A blank title gets the default one.
func (s *ConversationService) Create(ctx context.Context, title string) (*model.ConversationSummary, error) {
	if title = strings.TrimSpace(title); title == "" {
		title = model.DefaultConversationTitle
	}

	now := s.now()
	conv := &model.ConversationSummary{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Put(ctx, conv); err != nil {
		return nil, err
	}

	metrics.ConversationsTotal.Inc()
	s.logger.Info("conversation created", zap.String("conversation_id", conv.ID))
	return conv, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, id string) (*model.ConversationSummary, error) {
	return s.store.Get(ctx, id)
}

// List returns every conversation, pinned first, then most recently active.
func (s *ConversationService) List(ctx context.Context) ([]model.ConversationSummary, error) {
	convs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i], convs[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if at, bt := a.ActivityAt(), b.ActivityAt(); !at.Equal(bt) {
			return at.After(bt)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return convs, nil
}

// Rename sets a conversation's title.
func (s *ConversationService) Rename(ctx context.Context, id, title string) (*model.ConversationSummary, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", backend.ErrInvalidArgument)
	}
	return s.update(ctx, id, func(conv *model.ConversationSummary) {
		conv.Title = title
	})
}

// Pin pins or unpins a conversation.
func (s *ConversationService) Pin(ctx context.Context, id string, pinned bool) (*model.ConversationSummary, error) {
	return s.update(ctx, id, func(conv *model.ConversationSummary) {
		conv.Pinned = pinned
	})
}

// Delete removes a conversation and its stored messages.
func (s *ConversationService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.streamManager.PurgeConversation(ctx, id); err != nil {
		s.logger.Warn("failed to purge conversation messages", zap.String("conversation_id", id), zap.Error(err))
	}

	s.logger.Info("conversation deleted", zap.String("conversation_id", id))
	return nil
}

// RecordMessage updates a conversation's preview and activity timestamps.
func (s *ConversationService) RecordMessage(ctx context.Context, msg *model.Message) error {
	_, err := s.update(ctx, msg.ConversationID, func(conv *model.ConversationSummary) {
		at := msg.CreatedAt
		conv.LastMessagePreview = Preview(msg.Content)
		conv.LastMessageAt = &at
	})
	return err
}

func (s *ConversationService) update(ctx context.Context, id string, fn func(*model.ConversationSummary)) (*model.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fn(conv)
	conv.UpdatedAt = s.now()
	if err := s.store.Put(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Preview returns the first PreviewLength runes of content.
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLength {
		return content
	}
	return string(runes[:PreviewLength])
}
