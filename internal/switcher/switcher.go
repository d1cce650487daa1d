// Package switcher moves the active conversation pointer between directory
// entries and keeps the session coordinator's transcript in step.
package switcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-workspace/internal/directory"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	"github.com/capitalize-ai/chat-workspace/internal/session"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

// Switcher orchestrates conversation selection, creation and deletion.
type Switcher struct {
	directory *directory.Directory
	session   *session.Coordinator
	logger    *logger.Logger
}

// New creates a switcher.
func New(dir *directory.Directory, coord *session.Coordinator, log *logger.Logger) *Switcher {
	return &Switcher{
		directory: dir,
		session:   coord,
		logger:    logger.OrGlobal(log).Named("switcher"),
	}
}

// Select makes id the active conversation. Selecting the active conversation
// is a no-op.
func (s *Switcher) Select(ctx context.Context, id string) error {
	if id == s.session.ActiveConversationID() {
		return nil
	}
	s.logger.Debug("switching conversation", zap.String("conversation_id", id))
	return s.session.LoadConversation(ctx, id)
}

// NewChat creates a conversation and activates it without a history fetch.
func (s *Switcher) NewChat(ctx context.Context, title string) (*model.ConversationSummary, error) {
	conv, err := s.directory.Create(ctx, title)
	if err != nil {
		return nil, err
	}
	s.session.PrepareConversation(conv.ID)
	return conv, nil
}

// Delete removes id. When id was active, the first other conversation in
// directory order is loaded, or the session is cleared if none remains.
func (s *Switcher) Delete(ctx context.Context, id string) error {
	fallback := ""
	for _, c := range s.directory.Conversations() {
		if c.ID != id {
			fallback = c.ID
			break
		}
	}

	if err := s.directory.Remove(ctx, id); err != nil {
		return err
	}
	if s.session.ActiveConversationID() != id {
		return nil
	}

	if fallback == "" {
		s.logger.Debug("active conversation deleted, clearing session", zap.String("conversation_id", id))
		s.session.Clear()
		return nil
	}

	s.logger.Debug("active conversation deleted, loading fallback",
		zap.String("conversation_id", id),
		zap.String("fallback_id", fallback),
	)
	if err := s.session.LoadConversation(ctx, fallback); err != nil {
		return fmt.Errorf("failed to load fallback conversation: %w", err)
	}
	return nil
}

// SelectDefault loads the head of the directory when nothing is active.
func (s *Switcher) SelectDefault(ctx context.Context) error {
	if s.session.ActiveConversationID() != "" {
		return nil
	}
	items := s.directory.Conversations()
	if len(items) == 0 {
		return nil
	}
	return s.session.LoadConversation(ctx, items[0].ID)
}
