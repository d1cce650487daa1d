// Package backendtest provides an in-memory backend for tests.
package backendtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/model"
)

// Fake is an in-memory backend.Backend. Chunk events are delivered
// synchronously by Emit on the caller's goroutine.
type Fake struct {
	mu sync.Mutex

	now           func() time.Time
	nextID        int
	conversations []model.ConversationSummary
	messages      map[string][]model.Message
	prefs         model.Preferences

	subs    map[string]map[int]backend.ChunkHandler
	nextSub int

	failures     map[string]error
	subscribeErr error
	historyGates map[string]chan struct{}
	onStreamChat func(req model.StreamChatRequest)

	streamRequests []model.StreamChatRequest
	calls          []string
}

var _ backend.Backend = (*Fake)(nil)

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		now:          time.Now,
		messages:     make(map[string][]model.Message),
		subs:         make(map[string]map[int]backend.ChunkHandler),
		failures:     make(map[string]error),
		historyGates: make(map[string]chan struct{}),
	}
}

// SetNow overrides the clock used for timestamps.
func (f *Fake) SetNow(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// AddConversation appends a conversation in backend order.
func (f *Fake) AddConversation(c model.ConversationSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = append(f.conversations, c)
}

// SetMessages replaces the stored history of a conversation.
func (f *Fake) SetMessages(id string, msgs []model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[id] = append([]model.Message(nil), msgs...)
}

// FailCommand makes every call of the named command return err. A nil err
// clears the failure.
func (f *Fake) FailCommand(command string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, command)
		return
	}
	f.failures[command] = err
}

// FailSubscribe makes SubscribeChunks return err.
func (f *Fake) FailSubscribe(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeErr = err
}

// GateHistory blocks GetConversationMessages for id until the returned
// release func is called.
func (f *Fake) GateHistory(id string) (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.historyGates[id] = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

// OnStreamChat registers a hook run inside StreamChat after the request is
// recorded. Hooks may call Emit.
func (f *Fake) OnStreamChat(fn func(req model.StreamChatRequest)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStreamChat = fn
}

// StreamRequests returns every accepted stream_chat request.
func (f *Fake) StreamRequests() []model.StreamChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.StreamChatRequest(nil), f.streamRequests...)
}

// Calls returns the command names invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Subscribers returns the number of live chunk subscriptions for id.
func (f *Fake) Subscribers(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[id])
}

// Emit delivers chunk to the subscribers of chunk.ConversationID.
func (f *Fake) Emit(chunk model.ChatChunk) {
	f.EmitTo(chunk.ConversationID, chunk)
}

// EmitTo delivers chunk to the subscribers of id regardless of the chunk's own
// conversation ID.
func (f *Fake) EmitTo(id string, chunk model.ChatChunk) {
	f.mu.Lock()
	handlers := make([]backend.ChunkHandler, 0, len(f.subs[id]))
	for _, h := range f.subs[id] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(chunk)
	}
}

func (f *Fake) begin(command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, command)
	return f.failures[command]
}

func (f *Fake) index(id string) int {
	for i, c := range f.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// CreateConversation implements backend.Commands.
func (f *Fake) CreateConversation(ctx context.Context, title string) (*model.ConversationSummary, error) {
	if err := f.begin(backend.CmdCreateConversation); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	if title = strings.TrimSpace(title); title == "" {
		title = model.DefaultConversationTitle
	}
	now := f.now()
	conv := model.ConversationSummary{
		ID:        fmt.Sprintf("conv-%d", f.nextID),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.conversations = append(f.conversations, conv)
	return &conv, nil
}

// ListConversations implements backend.Commands.
func (f *Fake) ListConversations(ctx context.Context) ([]model.ConversationSummary, error) {
	if err := f.begin(backend.CmdListConversations); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ConversationSummary(nil), f.conversations...), nil
}

// RenameConversation implements backend.Commands.
func (f *Fake) RenameConversation(ctx context.Context, id, title string) (*model.ConversationSummary, error) {
	if err := f.begin(backend.CmdRenameConversation); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.index(id)
	if i < 0 {
		return nil, backend.ErrNotFound
	}
	f.conversations[i].Title = title
	f.conversations[i].UpdatedAt = f.now()
	conv := f.conversations[i]
	return &conv, nil
}

// PinConversation implements backend.Commands.
func (f *Fake) PinConversation(ctx context.Context, id string, pinned bool) (*model.ConversationSummary, error) {
	if err := f.begin(backend.CmdPinConversation); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.index(id)
	if i < 0 {
		return nil, backend.ErrNotFound
	}
	f.conversations[i].Pinned = pinned
	f.conversations[i].UpdatedAt = f.now()
	conv := f.conversations[i]
	return &conv, nil
}

// DeleteConversation implements backend.Commands.
func (f *Fake) DeleteConversation(ctx context.Context, id string) error {
	if err := f.begin(backend.CmdDeleteConversation); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.index(id)
	if i < 0 {
		return backend.ErrNotFound
	}
	f.conversations = append(f.conversations[:i], f.conversations[i+1:]...)
	delete(f.messages, id)
	return nil
}

// GetConversationMessages implements backend.Commands.
func (f *Fake) GetConversationMessages(ctx context.Context, id string, limit int) ([]model.Message, error) {
	if err := f.begin(backend.CmdGetConversationMessages); err != nil {
		return nil, err
	}

	f.mu.Lock()
	gate := f.historyGates[id]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := append([]model.Message(nil), f.messages[id]...)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// StreamChat implements backend.Commands.
func (f *Fake) StreamChat(ctx context.Context, req *model.StreamChatRequest) error {
	if err := f.begin(backend.CmdStreamChat); err != nil {
		return err
	}
	f.mu.Lock()
	f.streamRequests = append(f.streamRequests, *req)
	hook := f.onStreamChat
	f.mu.Unlock()

	if hook != nil {
		hook(*req)
	}
	return nil
}

// InvokeChat implements backend.Commands by echoing the prompt.
func (f *Fake) InvokeChat(ctx context.Context, req *model.InvokeChatRequest) (*model.InvokeChatResponse, error) {
	if err := f.begin(backend.CmdInvokeChat); err != nil {
		return nil, err
	}
	modelName := req.Model
	if modelName == "" {
		modelName = "fake-model"
	}
	return &model.InvokeChatResponse{Reply: "echo: " + req.Prompt, Model: modelName}, nil
}

// GetPreferences implements backend.Commands.
func (f *Fake) GetPreferences(ctx context.Context) (*model.Preferences, error) {
	if err := f.begin(backend.CmdGetPreferences); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	prefs := f.prefs
	return &prefs, nil
}

// SavePreferences implements backend.Commands.
func (f *Fake) SavePreferences(ctx context.Context, prefs *model.Preferences) error {
	if err := f.begin(backend.CmdSavePreferences); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefs = *prefs
	return nil
}

// SubscribeChunks implements backend.Events.
func (f *Fake) SubscribeChunks(ctx context.Context, conversationID string, fn backend.ChunkHandler) (backend.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.nextSub++
	if f.subs[conversationID] == nil {
		f.subs[conversationID] = make(map[int]backend.ChunkHandler)
	}
	f.subs[conversationID][f.nextSub] = fn
	return &subscription{fake: f, conversationID: conversationID, id: f.nextSub}, nil
}

type subscription struct {
	fake           *Fake
	conversationID string
	id             int
}

func (s *subscription) Unsubscribe() error {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	delete(s.fake.subs[s.conversationID], s.id)
	return nil
}
