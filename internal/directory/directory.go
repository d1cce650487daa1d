// Package directory owns the ordered list of known conversations.
//
// Mutations are confirmed by the backend before they are applied locally.
// UpdateSnapshot is the one exception: it is a local projection of streaming
// progress and never reaches the backend.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	"github.com/capitalize-ai/chat-workspace/internal/state"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
	"github.com/capitalize-ai/chat-workspace/pkg/metrics"
)

// ErrDirectoryMutationFailed wraps every backend failure raised by the directory.
var ErrDirectoryMutationFailed = errors.New("directory mutation failed")

// State is the directory's observable state.
type State struct {
	Conversations []model.ConversationSummary
	Loading       bool
	Error         string
}

// Directory is the canonical ordered view of all conversations.
type Directory struct {
	commands backend.Commands
	logger   *logger.Logger
	now      func() time.Time
	store    *state.Store[State]
}

// New creates a directory backed by commands.
func New(commands backend.Commands, log *logger.Logger) *Directory {
	return &Directory{
		commands: commands,
		logger:   logger.OrGlobal(log).Named("directory"),
		now:      time.Now,
		store:    state.New(State{}),
	}
}

// SetClock overrides the clock used for snapshot timestamps.
func (d *Directory) SetClock(now func() time.Time) {
	d.now = now
}

// Snapshot returns the current state.
func (d *Directory) Snapshot() State {
	return d.store.Get()
}

// Conversations returns the current ordered list.
func (d *Directory) Conversations() []model.ConversationSummary {
	return d.store.Get().Conversations
}

// Get returns the conversation with id, if known.
func (d *Directory) Get(id string) (model.ConversationSummary, bool) {
	for _, c := range d.Conversations() {
		if c.ID == id {
			return c, true
		}
	}
	return model.ConversationSummary{}, false
}

// Subscribe registers fn for state changes.
func (d *Directory) Subscribe(fn func(State)) (unsubscribe func()) {
	return d.store.Subscribe(fn)
}

// Load fetches all conversations and replaces the local list.
func (d *Directory) Load(ctx context.Context) error {
	d.store.Update(func(s State) State {
		s.Loading = true
		s.Error = ""
		return s
	})

	items, err := d.commands.ListConversations(ctx)
	metrics.RecordDirectoryMutation("load", err)
	if err != nil {
		d.logger.Warn("failed to list conversations", zap.Error(err))
		d.store.Update(func(s State) State {
			s.Loading = false
			s.Error = err.Error()
			return s
		})
		return fmt.Errorf("%w: %w", ErrDirectoryMutationFailed, err)
	}

	d.logger.Debug("conversations loaded", zap.Int("count", len(items)))
	d.store.Set(State{Conversations: Sort(items)})
	return nil
}

// Create asks the backend for a new conversation and prepends it.
func (d *Directory) Create(ctx context.Context, title string) (*model.ConversationSummary, error) {
	conv, err := d.commands.CreateConversation(ctx, title)
	metrics.RecordDirectoryMutation("create", err)
	if err != nil {
		return nil, d.fail("create", err)
	}

	d.logger.Debug("conversation created", zap.String("conversation_id", conv.ID))
	d.store.Update(func(s State) State {
		items := make([]model.ConversationSummary, 0, len(s.Conversations)+1)
		items = append(items, *conv)
		items = append(items, s.Conversations...)
		s.Conversations = Sort(items)
		return s
	})
	return conv, nil
}

// Rename renames a conversation and applies the server-confirmed row.
func (d *Directory) Rename(ctx context.Context, id, title string) (*model.ConversationSummary, error) {
	conv, err := d.commands.RenameConversation(ctx, id, title)
	metrics.RecordDirectoryMutation("rename", err)
	if err != nil {
		return nil, d.fail("rename", err)
	}
	d.replace(*conv)
	return conv, nil
}

// SetPinned pins or unpins a conversation and applies the server-confirmed row.
func (d *Directory) SetPinned(ctx context.Context, id string, pinned bool) (*model.ConversationSummary, error) {
	conv, err := d.commands.PinConversation(ctx, id, pinned)
	metrics.RecordDirectoryMutation("pin", err)
	if err != nil {
		return nil, d.fail("pin", err)
	}
	d.replace(*conv)
	return conv, nil
}

// Remove deletes a conversation. A conversation the backend no longer knows is
// treated as already removed.
func (d *Directory) Remove(ctx context.Context, id string) error {
	err := d.commands.DeleteConversation(ctx, id)
	if errors.Is(err, backend.ErrNotFound) {
		d.logger.Debug("conversation already absent", zap.String("conversation_id", id))
		err = nil
	}
	metrics.RecordDirectoryMutation("delete", err)
	if err != nil {
		return d.fail("delete", err)
	}

	d.store.Update(func(s State) State {
		items := make([]model.ConversationSummary, 0, len(s.Conversations))
		for _, c := range s.Conversations {
			if c.ID != id {
				items = append(items, c)
			}
		}
		s.Conversations = items
		return s
	})
	return nil
}

// UpdateSnapshot writes a preview and activity timestamp for id without a
// backend round-trip. A zero at means now. Unknown ids are ignored.
func (d *Directory) UpdateSnapshot(id, preview string, at time.Time) {
	if at.IsZero() {
		at = d.now()
	}

	d.store.Update(func(s State) State {
		items := make([]model.ConversationSummary, len(s.Conversations))
		copy(items, s.Conversations)
		for i := range items {
			if items[i].ID == id {
				ts := at
				items[i].LastMessagePreview = preview
				items[i].LastMessageAt = &ts
				items[i].UpdatedAt = at
			}
		}
		s.Conversations = Sort(items)
		return s
	})
}

func (d *Directory) replace(conv model.ConversationSummary) {
	d.store.Update(func(s State) State {
		items := make([]model.ConversationSummary, len(s.Conversations))
		copy(items, s.Conversations)
		for i := range items {
			if items[i].ID == conv.ID {
				items[i] = conv
			}
		}
		s.Conversations = Sort(items)
		return s
	})
}

func (d *Directory) fail(op string, err error) error {
	d.logger.Warn("directory mutation failed", zap.String("operation", op), zap.Error(err))
	d.store.Update(func(s State) State {
		s.Error = err.Error()
		return s
	})
	return fmt.Errorf("%w: %s: %w", ErrDirectoryMutationFailed, op, err)
}

// Sort returns a copy of items ordered pinned first, then by descending
// activity time. Equal keys keep their input order.
func Sort(items []model.ConversationSummary) []model.ConversationSummary {
	out := make([]model.ConversationSummary, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return out[i].ActivityAt().After(out[j].ActivityAt())
	})
	return out
}
