// Package session coordinates the active conversation's message log with the
// backend's streamed replies.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	"github.com/capitalize-ai/chat-workspace/internal/state"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
	"github.com/capitalize-ai/chat-workspace/pkg/metrics"
)

var (
	// ErrNoActiveConversation is returned by Submit when no conversation is active.
	ErrNoActiveConversation = errors.New("no active conversation")
	// ErrStreamInFlight is returned by Submit while a reply is still streaming.
	ErrStreamInFlight = errors.New("a reply is already streaming")
	// ErrEmptyPrompt is returned by Submit for blank input.
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrStreamInvocationFailed wraps subscription and stream_chat failures.
	ErrStreamInvocationFailed = errors.New("stream invocation failed")
	// ErrHistoryFetchFailed wraps get_conversation_messages failures.
	ErrHistoryFetchFailed = errors.New("history fetch failed")
)

// Session is the coordinator's observable state.
type Session struct {
	ActiveConversationID string
	Messages             []model.Message
	IsStreaming          bool
	Error                string
}

// SnapshotWriter receives the local preview projection after each completed turn.
type SnapshotWriter interface {
	UpdateSnapshot(id, preview string, at time.Time)
}

// PromptSource supplies the system prompt sent with each submission.
type PromptSource interface {
	SystemPrompt() string
}

// Options tunes a Coordinator. Zero values select defaults.
type Options struct {
	// HistoryLimit caps get_conversation_messages. Zero fetches everything.
	HistoryLimit int
	Now          func() time.Time
	NewID        func() string
}

// Coordinator owns the active conversation's message log and at most one
// in-flight streamed reply.
//
// State listeners run while the coordinator holds its transition lock and
// must not call back into the coordinator.
type Coordinator struct {
	backend   backend.Backend
	snapshots SnapshotWriter
	prompts   PromptSource
	logger    *logger.Logger

	historyLimit int
	now          func() time.Time
	newID        func() string

	mu      sync.Mutex
	store   *state.Store[Session]
	stream  *stream
	loadSeq uint64
}

// New creates a coordinator. snapshots and prompts may be nil.
func New(b backend.Backend, snapshots SnapshotWriter, prompts PromptSource, log *logger.Logger, opts Options) *Coordinator {
	c := &Coordinator{
		backend:      b,
		snapshots:    snapshots,
		prompts:      prompts,
		logger:       logger.OrGlobal(log).Named("session"),
		historyLimit: opts.HistoryLimit,
		now:          opts.Now,
		newID:        opts.NewID,
		store:        state.New(Session{}),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	return c
}

// Snapshot returns the current session state.
func (c *Coordinator) Snapshot() Session {
	return c.store.Get()
}

// ActiveConversationID returns the active conversation, or "" when none is.
func (c *Coordinator) ActiveConversationID() string {
	return c.store.Get().ActiveConversationID
}

// Subscribe registers fn for session changes.
func (c *Coordinator) Subscribe(fn func(Session)) (unsubscribe func()) {
	return c.store.Subscribe(fn)
}

// StreamPhase reports the phase of the current stream. A coordinator with no
// attached stream is idle.
func (c *Coordinator) StreamPhase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return PhaseIdle
	}
	return c.stream.phase
}

// Submit sends content as a prompt on the active conversation. The user
// message and the pending assistant placeholder are appended before any
// backend call. The reply arrives asynchronously; use WaitIdle to block on it.
func (c *Coordinator) Submit(ctx context.Context, content string) error {
	prompt := strings.TrimSpace(content)
	if prompt == "" {
		return ErrEmptyPrompt
	}
	var systemPrompt string
	if c.prompts != nil {
		systemPrompt = c.prompts.SystemPrompt()
	}

	c.mu.Lock()
	cur := c.store.Get()
	if cur.IsStreaming {
		c.mu.Unlock()
		return ErrStreamInFlight
	}
	if cur.ActiveConversationID == "" {
		c.mu.Unlock()
		return ErrNoActiveConversation
	}

	conversationID := cur.ActiveConversationID
	now := c.now()
	user := model.Message{
		ID:             c.newID(),
		ConversationID: conversationID,
		Role:           model.RoleUser,
		Content:        prompt,
		CreatedAt:      now,
		Status:         model.StatusSent,
	}
	reply := model.Message{
		ID:             c.newID(),
		ConversationID: conversationID,
		Role:           model.RoleAssistant,
		CreatedAt:      now,
		Status:         model.StatusPending,
	}

	st := newStream(conversationID, reply.ID)
	_ = st.advance(PhaseAwaitingSubscription)
	c.stream = st
	c.store.Update(func(s Session) Session {
		msgs := make([]model.Message, 0, len(s.Messages)+2)
		msgs = append(msgs, s.Messages...)
		msgs = append(msgs, user, reply)
		s.Messages = msgs
		s.IsStreaming = true
		s.Error = ""
		return s
	})
	c.mu.Unlock()

	log := c.logger.WithConversation(conversationID)

	sub, err := c.backend.SubscribeChunks(ctx, conversationID, func(chunk model.ChatChunk) {
		c.handleChunk(st, chunk)
	})
	if err != nil {
		c.fail(st, err)
		return fmt.Errorf("%w: subscribe: %w", ErrStreamInvocationFailed, err)
	}

	c.mu.Lock()
	if st.terminal() {
		c.mu.Unlock()
		c.unsubscribe(sub, conversationID)
	} else {
		st.sub = sub
		_ = st.advance(PhaseStreaming)
		c.mu.Unlock()
	}

	err = c.backend.StreamChat(ctx, &model.StreamChatRequest{
		ConversationID: conversationID,
		Prompt:         prompt,
		SystemPrompt:   systemPrompt,
	})
	if err != nil {
		c.fail(st, err)
		return fmt.Errorf("%w: %w", ErrStreamInvocationFailed, err)
	}

	log.Debug("stream started", zap.String("message_id", reply.ID))
	return nil
}

// WaitIdle blocks until no reply is streaming or ctx is done.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	idle := make(chan struct{}, 1)
	unsubscribe := c.store.Subscribe(func(s Session) {
		if s.IsStreaming {
			return
		}
		select {
		case idle <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if !c.store.Get().IsStreaming {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadConversation makes id active with its persisted history. The active
// pointer is unset until the history arrives. On failure it stays unset and
// the previous message log is kept. A response that arrives after another
// load, prepare or clear is discarded.
func (c *Coordinator) LoadConversation(ctx context.Context, id string) error {
	c.mu.Lock()
	c.loadSeq++
	seq := c.loadSeq
	c.detachLocked()
	c.store.Update(func(s Session) Session {
		s.ActiveConversationID = ""
		s.IsStreaming = false
		s.Error = ""
		return s
	})
	c.mu.Unlock()

	log := c.logger.WithConversation(id)
	msgs, err := c.backend.GetConversationMessages(ctx, id, c.historyLimit)

	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.loadSeq {
		log.Debug("discarding superseded history response")
		return nil
	}
	if err != nil {
		log.Warn("failed to load conversation history", zap.Error(err))
		c.store.Update(func(s Session) Session {
			s.Error = err.Error()
			return s
		})
		return fmt.Errorf("%w: %w", ErrHistoryFetchFailed, err)
	}

	log.Debug("conversation loaded", zap.Int("messages", len(msgs)))
	c.store.Set(Session{
		ActiveConversationID: id,
		Messages:             normalizeHistory(id, msgs),
	})
	return nil
}

// PrepareConversation makes a freshly created conversation active with an
// empty log and no history fetch.
func (c *Coordinator) PrepareConversation(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadSeq++
	c.detachLocked()
	c.store.Set(Session{ActiveConversationID: id})
}

// Clear empties the log and unsets the active conversation.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadSeq++
	c.detachLocked()
	c.store.Set(Session{})
}

// detachLocked stops routing events to the current stream. A detached stream
// keeps its subscription until its terminal chunk arrives. Its placeholder is
// settled as error, since the log it sits in survives a failed load. Caller
// holds c.mu.
func (c *Coordinator) detachLocked() {
	st := c.stream
	if st == nil {
		return
	}
	c.stream = nil
	if st.terminal() {
		return
	}

	c.logger.Debug("detaching in-flight stream",
		zap.String("conversation_id", st.conversationID),
		zap.Stringer("phase", st.phase),
	)
	metrics.ClientStreams.WithLabelValues("detached").Inc()
	c.store.Update(func(s Session) Session {
		s.Messages = updateMessage(s.Messages, st.messageID, func(m *model.Message) {
			m.Status = model.StatusError
		})
		return s
	})
}

func (c *Coordinator) handleChunk(st *stream, chunk model.ChatChunk) {
	c.mu.Lock()

	if chunk.ConversationID != st.conversationID || !st.accepts() {
		c.mu.Unlock()
		c.drop(st, chunk)
		return
	}

	if c.stream != st {
		var sub backend.Subscription
		if chunk.Done {
			_ = st.advance(PhaseTerminal)
			sub = st.release()
		}
		c.mu.Unlock()
		c.drop(st, chunk)
		c.unsubscribe(sub, st.conversationID)
		return
	}

	if chunk.Model != "" {
		st.model = chunk.Model
	}

	if !chunk.Done {
		c.store.Update(func(s Session) Session {
			s.Messages = updateMessage(s.Messages, st.messageID, func(m *model.Message) {
				m.Content += chunk.Delta
			})
			return s
		})
		c.mu.Unlock()
		return
	}

	if chunk.Failed() {
		sub := c.finishLocked(st, model.StatusError, chunk.Error)
		c.mu.Unlock()
		c.unsubscribe(sub, st.conversationID)
		metrics.ClientStreams.WithLabelValues("error").Inc()
		c.logger.Warn("stream failed",
			zap.String("conversation_id", st.conversationID),
			zap.String("error", chunk.Error),
		)
		return
	}

	sub := c.finishLocked(st, model.StatusSent, "")
	content := findContent(c.store.Get().Messages, st.messageID)
	c.mu.Unlock()

	c.unsubscribe(sub, st.conversationID)
	metrics.ClientStreams.WithLabelValues("completed").Inc()
	c.logger.Debug("stream completed",
		zap.String("conversation_id", st.conversationID),
		zap.String("model", st.model),
	)

	if c.snapshots != nil {
		c.snapshots.UpdateSnapshot(st.conversationID, content, c.now())
	}
}

// fail settles st as failed if it has not already terminated.
func (c *Coordinator) fail(st *stream, cause error) {
	c.mu.Lock()
	if st.terminal() {
		c.mu.Unlock()
		return
	}
	sub := c.finishLocked(st, model.StatusError, cause.Error())
	c.mu.Unlock()

	c.unsubscribe(sub, st.conversationID)
	metrics.ClientStreams.WithLabelValues("error").Inc()
	c.logger.Warn("stream invocation failed",
		zap.String("conversation_id", st.conversationID),
		zap.Error(cause),
	)
}

// finishLocked moves st to terminal and, if st is still current, settles the
// assistant placeholder. It returns the subscription to release. Caller holds
// c.mu.
func (c *Coordinator) finishLocked(st *stream, status model.MessageStatus, errText string) backend.Subscription {
	_ = st.advance(PhaseTerminal)
	sub := st.release()
	if c.stream != st {
		return sub
	}

	c.store.Update(func(s Session) Session {
		s.Messages = updateMessage(s.Messages, st.messageID, func(m *model.Message) {
			m.Status = status
			if st.model != "" {
				m.Model = st.model
			}
		})
		s.IsStreaming = false
		s.Error = errText
		return s
	})
	return sub
}

func (c *Coordinator) drop(st *stream, chunk model.ChatChunk) {
	metrics.ClientChunksDropped.Inc()
	c.logger.Debug("dropping chunk",
		zap.String("stream_conversation_id", st.conversationID),
		zap.String("chunk_conversation_id", chunk.ConversationID),
		zap.Bool("done", chunk.Done),
	)
}

func (c *Coordinator) unsubscribe(sub backend.Subscription, conversationID string) {
	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		c.logger.Warn("failed to unsubscribe from chunk events",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
}

// updateMessage returns a copy of msgs with fn applied to the message id.
// Messages in a terminal status are left untouched.
func updateMessage(msgs []model.Message, id string, fn func(*model.Message)) []model.Message {
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if out[i].ID == id {
			if !out[i].Status.Terminal() {
				fn(&out[i])
			}
			break
		}
	}
	return out
}

func findContent(msgs []model.Message, id string) string {
	for _, m := range msgs {
		if m.ID == id {
			return m.Content
		}
	}
	return ""
}

// normalizeHistory tags persisted messages with their conversation and marks
// them delivered.
func normalizeHistory(id string, msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		if m.ConversationID == "" {
			m.ConversationID = id
		}
		if m.Status == "" {
			m.Status = model.StatusSent
		}
		out[i] = m
	}
	return out
}
