package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/backend/backendtest"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

type snapshotCall struct {
	id      string
	preview string
	at      time.Time
}

type recordingSnapshots struct {
	mu    sync.Mutex
	calls []snapshotCall
}

func (r *recordingSnapshots) UpdateSnapshot(id, preview string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, snapshotCall{id: id, preview: preview, at: at})
}

func (r *recordingSnapshots) Calls() []snapshotCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]snapshotCall(nil), r.calls...)
}

type staticPrompt string

func (p staticPrompt) SystemPrompt() string { return string(p) }

type harness struct {
	coord     *Coordinator
	fake      *backendtest.Fake
	snapshots *recordingSnapshots
}

func newHarness(t *testing.T, prompts PromptSource) *harness {
	t.Helper()
	fake := backendtest.New()
	snapshots := &recordingSnapshots{}
	n := 0
	coord := New(fake, snapshots, prompts, logger.Nop(), Options{
		Now: func() time.Time { return fixedNow },
		NewID: func() string {
			n++
			return fmt.Sprintf("msg-%d", n)
		},
	})
	return &harness{coord: coord, fake: fake, snapshots: snapshots}
}

func chunk(id, delta string) model.ChatChunk {
	return model.ChatChunk{ConversationID: id, Delta: delta}
}

func done(id string) model.ChatChunk {
	return model.ChatChunk{ConversationID: id, Done: true, Model: "gpt-4o-mini"}
}

func countCalls(calls []string, command string) int {
	n := 0
	for _, c := range calls {
		if c == command {
			n++
		}
	}
	return n
}

func TestSubmitAppendsBeforeBackendWork(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.PrepareConversation("c1")

	var atInvoke Session
	h.fake.OnStreamChat(func(model.StreamChatRequest) {
		atInvoke = h.coord.Snapshot()
	})

	require.NoError(t, h.coord.Submit(context.Background(), "Hello"))

	require.Len(t, atInvoke.Messages, 2)
	assert.True(t, atInvoke.IsStreaming)

	user, reply := atInvoke.Messages[0], atInvoke.Messages[1]
	assert.Equal(t, model.RoleUser, user.Role)
	assert.Equal(t, "Hello", user.Content)
	assert.Equal(t, model.StatusSent, user.Status)
	assert.Equal(t, model.RoleAssistant, reply.Role)
	assert.Empty(t, reply.Content)
	assert.Equal(t, model.StatusPending, reply.Status)
	assert.Equal(t, "c1", reply.ConversationID)

	assert.Equal(t, PhaseStreaming, h.coord.StreamPhase())
	assert.Equal(t, 1, h.fake.Subscribers("c1"))
}

func TestStreamAccumulatesDeltas(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.PrepareConversation("c1")

	require.NoError(t, h.coord.Submit(context.Background(), "Hello"))
	h.fake.Emit(chunk("c1", "Hi"))
	h.fake.Emit(chunk("c1", " there"))

	mid := h.coord.Snapshot()
	assert.Equal(t, "Hi there", mid.Messages[1].Content)
	assert.Equal(t, model.StatusPending, mid.Messages[1].Status)
	assert.True(t, mid.IsStreaming)

	h.fake.Emit(done("c1"))

	s := h.coord.Snapshot()
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "Hi there", s.Messages[1].Content)
	assert.Equal(t, model.StatusSent, s.Messages[1].Status)
	assert.Equal(t, "gpt-4o-mini", s.Messages[1].Model)
	assert.False(t, s.IsStreaming)
	assert.Empty(t, s.Error)
	assert.Equal(t, PhaseTerminal, h.coord.StreamPhase())
	assert.Zero(t, h.fake.Subscribers("c1"))

	assert.Equal(t, []snapshotCall{{id: "c1", preview: "Hi there", at: fixedNow}}, h.snapshots.Calls())
}

func TestDoneChunkDeltaIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.PrepareConversation("c1")

	require.NoError(t, h.coord.Submit(context.Background(), "Hello"))
	h.fake.Emit(chunk("c1", "kept"))
	h.fake.Emit(model.ChatChunk{ConversationID: "c1", Delta: " dropped", Done: true})

	assert.Equal(t, "kept", h.coord.Snapshot().Messages[1].Content)
}

func TestChunksAfterDoneAreIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.PrepareConversation("c1")

	require.NoError(t, h.coord.Submit(context.Background(), "Hello"))
	h.fake.Emit(chunk("c1", "a"))

	// Keep a second subscriber around so events still reach the fake after
	// the coordinator unsubscribes.
	_, err := h.fake.SubscribeChunks(context.Background(), "c1", func(model.ChatChunk) {})
	require.NoError(t, err)

	h.fake.Emit(done("c1"))
	h.fake.Emit(chunk("c1", "late"))

	s := h.coord.Snapshot()
	assert.Equal(t, "a", s.Messages[1].Content)
	assert.Equal(t, model.StatusSent, s.Messages[1].Status)
}

func TestMismatchedConversationIsNoOp(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.PrepareConversation("c1")
	require.NoError(t, h.coord.Submit(context.Background(), "Hello"))
	h.fake.Emit(chunk("c1", "ok"))
	before := h.coord.Snapshot()

	h.fake.EmitTo("c1", chunk("c2", "foreign"))
	h.fake.EmitTo("c1", model.ChatChunk{ConversationID: "c2", Done: true})

	assert.Equal(t, before, h.coord.Snapshot())
	assert.Equal(t, 1, h.fake.Subscribers("c1"))
}

func TestStaleStreamAfterSwitch(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.SetMessages("c2", []model.Message{
		{ID: "m1", Role: model.RoleUser, Content: "earlier"},
		{ID: "m2", Role: model.RoleAssistant, Content: "reply"},
	})
	h.coord.PrepareConversation("c1")
	require.NoError(t, h.coord.Submit(context.Background(), "Hello"))

	require.NoError(t, h.coord.LoadConversation(context.Background(), "c2"))
	after := h.coord.Snapshot()
	assert.Equal(t, "c2", after.ActiveConversationID)
	assert.False(t, after.IsStreaming)
	assert.Equal(t, PhaseIdle, h.coord.StreamPhase())

	h.fake.Emit(chunk("c1", "late"))
	assert.Equal(t, after, h.coord.Snapshot())

	// The detached subscription releases itself on its terminal chunk.
	assert.Equal(t, 1, h.fake.Subscribers("c1"))
	h.fake.Emit(done("c1"))
	assert.Zero(t, h.fake.Subscribers("c1"))
	assert.Equal(t, after, h.coord.Snapshot())
	assert.Empty(t, h.snapshots.Calls())
}

func TestStreamChatRejection(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.PrepareConversation("c1")
	h.fake.FailCommand(backend.CmdStreamChat, errors.New("provider offline"))

	err := h.coord.Submit(context.Background(), "Hello")

	require.ErrorIs(t, err, ErrStreamInvocationFailed)
	s := h.coord.Snapshot()
	require.Len(t, s.Messages, 2)
	assert.Equal(t, model.StatusSent, s.Messages[0].Status)
	assert.Equal(t, model.StatusError, s.Messages[1].Status)
	assert.False(t, s.IsStreaming)
	assert.Equal(t, "provider offline", s.Error)
	assert.Zero(t, h.fake.Subscribers("c1"))
	assert.Equal(t, PhaseTerminal, h.coord.StreamPhase())
}

func TestSubscriptionFailureSkipsInvocation(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.PrepareConversation("c1")
	h.fake.FailSubscribe(errors.New("event channel closed"))

	err := h.coord.Submit(context.Background(), "Hello")

	require.ErrorIs(t, err, ErrStreamInvocationFailed)
	s := h.coord.Snapshot()
	assert.Equal(t, model.StatusError, s.Messages[1].Status)
	assert.Equal(t, "event channel closed", s.Error)
	assert.False(t, s.IsStreaming)
	assert.Empty(t, h.fake.StreamRequests())
}

func TestFailedTerminalChunk(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.PrepareConversation("c1")
	require.NoError(t, h.coord.Submit(context.Background(), "Hello"))

	h.fake.Emit(chunk("c1", "partial"))
	h.fake.Emit(model.ChatChunk{ConversationID: "c1", Done: true, Error: "rate limited"})

	s := h.coord.Snapshot()
	assert.Equal(t, "partial", s.Messages[1].Content)
	assert.Equal(t, model.StatusError, s.Messages[1].Status)
	assert.Equal(t, model.StatusSent, s.Messages[0].Status)
	assert.Equal(t, "rate limited", s.Error)
	assert.False(t, s.IsStreaming)
	assert.Zero(t, h.fake.Subscribers("c1"))
	assert.Empty(t, h.snapshots.Calls())
}

func TestSubmitPreconditions(t *testing.T) {
	t.Run("no active conversation", func(t *testing.T) {
		h := newHarness(t, nil)

		err := h.coord.Submit(context.Background(), "Hello")

		assert.ErrorIs(t, err, ErrNoActiveConversation)
		assert.Empty(t, h.coord.Snapshot().Messages)
		assert.Empty(t, h.fake.Calls())
	})

	t.Run("blank prompt", func(t *testing.T) {
		h := newHarness(t, nil)
		h.coord.PrepareConversation("c1")

		err := h.coord.Submit(context.Background(), "   \n\t")

		assert.ErrorIs(t, err, ErrEmptyPrompt)
		assert.Empty(t, h.coord.Snapshot().Messages)
		assert.Empty(t, h.fake.Calls())
	})

	t.Run("stream in flight", func(t *testing.T) {
		h := newHarness(t, nil)
		h.coord.PrepareConversation("c1")
		require.NoError(t, h.coord.Submit(context.Background(), "first"))

		err := h.coord.Submit(context.Background(), "second")

		assert.ErrorIs(t, err, ErrStreamInFlight)
		assert.Len(t, h.coord.Snapshot().Messages, 2)
		assert.Len(t, h.fake.StreamRequests(), 1)
	})
}

func TestSubmitSendsTrimmedPromptAndSystemPrompt(t *testing.T) {
	h := newHarness(t, staticPrompt("Answer briefly."))
	h.coord.PrepareConversation("c1")

	require.NoError(t, h.coord.Submit(context.Background(), "  Hello  "))

	reqs := h.fake.StreamRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, model.StreamChatRequest{
		ConversationID: "c1",
		Prompt:         "Hello",
		SystemPrompt:   "Answer briefly.",
	}, reqs[0])
	assert.Equal(t, "Hello", h.coord.Snapshot().Messages[0].Content)
}

func TestSubmitAfterCompletionStartsNewTurn(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.PrepareConversation("c1")
	h.fake.OnStreamChat(func(req model.StreamChatRequest) {
		h.fake.Emit(chunk(req.ConversationID, "re: "+req.Prompt))
		h.fake.Emit(done(req.ConversationID))
	})

	require.NoError(t, h.coord.Submit(context.Background(), "one"))
	require.NoError(t, h.coord.Submit(context.Background(), "two"))

	s := h.coord.Snapshot()
	require.Len(t, s.Messages, 4)
	assert.Equal(t, "re: one", s.Messages[1].Content)
	assert.Equal(t, "re: two", s.Messages[3].Content)
	assert.Len(t, h.snapshots.Calls(), 2)
}

func TestLoadConversationReplacesLog(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.SetMessages("c1", []model.Message{
		{ID: "m1", Role: model.RoleUser, Content: "hi"},
		{ID: "m2", Role: model.RoleAssistant, Content: "hello", Status: model.StatusSent},
	})
	h.coord.PrepareConversation("c0")

	require.NoError(t, h.coord.LoadConversation(context.Background(), "c1"))

	s := h.coord.Snapshot()
	assert.Equal(t, "c1", s.ActiveConversationID)
	require.Len(t, s.Messages, 2)
	for _, m := range s.Messages {
		assert.Equal(t, "c1", m.ConversationID)
		assert.Equal(t, model.StatusSent, m.Status)
	}
}

func TestLoadConversationPassesHistoryLimit(t *testing.T) {
	fake := backendtest.New()
	msgs := make([]model.Message, 5)
	for i := range msgs {
		msgs[i] = model.Message{ID: fmt.Sprintf("m%d", i), Role: model.RoleUser}
	}
	fake.SetMessages("c1", msgs)
	coord := New(fake, nil, nil, logger.Nop(), Options{HistoryLimit: 3})

	require.NoError(t, coord.LoadConversation(context.Background(), "c1"))

	got := coord.Snapshot().Messages
	require.Len(t, got, 3)
	assert.Equal(t, "m0", got[0].ID)
}

func TestLoadConversationFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.SetMessages("c1", []model.Message{{ID: "m1", Role: model.RoleUser, Content: "keep me"}})
	require.NoError(t, h.coord.LoadConversation(context.Background(), "c1"))
	h.fake.FailCommand(backend.CmdGetConversationMessages, errors.New("database locked"))

	err := h.coord.LoadConversation(context.Background(), "c2")

	require.ErrorIs(t, err, ErrHistoryFetchFailed)
	s := h.coord.Snapshot()
	assert.Empty(t, s.ActiveConversationID)
	assert.Equal(t, "database locked", s.Error)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "keep me", s.Messages[0].Content)

	assert.ErrorIs(t, h.coord.Submit(context.Background(), "Hello"), ErrNoActiveConversation)
}

func TestFailedSwitchSettlesInFlightReply(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.PrepareConversation("c1")
	require.NoError(t, h.coord.Submit(context.Background(), "Hello"))
	h.fake.Emit(chunk("c1", "partial"))
	h.fake.FailCommand(backend.CmdGetConversationMessages, errors.New("database locked"))

	err := h.coord.LoadConversation(context.Background(), "c2")
	require.ErrorIs(t, err, ErrHistoryFetchFailed)

	h.fake.Emit(chunk("c1", "late"))
	h.fake.Emit(done("c1"))

	s := h.coord.Snapshot()
	assert.False(t, s.IsStreaming)
	assert.Empty(t, s.ActiveConversationID)
	assert.Equal(t, "database locked", s.Error)
	assert.Equal(t, PhaseIdle, h.coord.StreamPhase())
	require.Len(t, s.Messages, 2)
	for _, m := range s.Messages {
		assert.NotEqual(t, model.StatusPending, m.Status, "message %s", m.ID)
	}
	assert.Equal(t, model.StatusSent, s.Messages[0].Status)
	assert.Equal(t, model.StatusError, s.Messages[1].Status)
	assert.Equal(t, "partial", s.Messages[1].Content)
	assert.Zero(t, h.fake.Subscribers("c1"))
	assert.Empty(t, h.snapshots.Calls())
}

func TestLateHistoryResponseIsDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.SetMessages("c1", []model.Message{{ID: "old", Role: model.RoleUser, Content: "from c1"}})
	h.fake.SetMessages("c2", []model.Message{{ID: "new", Role: model.RoleUser, Content: "from c2"}})
	release := h.fake.GateHistory("c1")
	defer release()

	slow := make(chan error, 1)
	go func() {
		slow <- h.coord.LoadConversation(context.Background(), "c1")
	}()
	require.Eventually(t, func() bool {
		return countCalls(h.fake.Calls(), backend.CmdGetConversationMessages) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.coord.LoadConversation(context.Background(), "c2"))
	release()
	require.NoError(t, <-slow)

	s := h.coord.Snapshot()
	assert.Equal(t, "c2", s.ActiveConversationID)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "from c2", s.Messages[0].Content)
}

func TestLateHistoryAfterPrepareIsDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.SetMessages("c1", []model.Message{{ID: "old", Role: model.RoleUser}})
	release := h.fake.GateHistory("c1")
	defer release()

	slow := make(chan error, 1)
	go func() {
		slow <- h.coord.LoadConversation(context.Background(), "c1")
	}()
	require.Eventually(t, func() bool {
		return countCalls(h.fake.Calls(), backend.CmdGetConversationMessages) == 1
	}, time.Second, 5*time.Millisecond)

	h.coord.PrepareConversation("fresh")
	release()
	require.NoError(t, <-slow)

	s := h.coord.Snapshot()
	assert.Equal(t, "fresh", s.ActiveConversationID)
	assert.Empty(t, s.Messages)
}

func TestPrepareAndClear(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.PrepareConversation("c1")
	require.NoError(t, h.coord.Submit(context.Background(), "Hello"))

	h.coord.PrepareConversation("c9")
	s := h.coord.Snapshot()
	assert.Equal(t, "c9", s.ActiveConversationID)
	assert.Empty(t, s.Messages)
	assert.False(t, s.IsStreaming)
	assert.NotContains(t, h.fake.Calls(), backend.CmdGetConversationMessages)

	h.coord.Clear()
	assert.Equal(t, Session{}, h.coord.Snapshot())
	assert.Empty(t, h.coord.ActiveConversationID())
}

func TestWaitIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.PrepareConversation("c1")

	require.NoError(t, h.coord.WaitIdle(context.Background()))

	require.NoError(t, h.coord.Submit(context.Background(), "Hello"))
	go func() {
		h.fake.Emit(chunk("c1", "Hi"))
		h.fake.Emit(done("c1"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.coord.WaitIdle(ctx))
	assert.Equal(t, "Hi", h.coord.Snapshot().Messages[1].Content)
}

func TestWaitIdleHonoursContext(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.PrepareConversation("c1")
	require.NoError(t, h.coord.Submit(context.Background(), "Hello"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, h.coord.WaitIdle(ctx), context.DeadlineExceeded)
}

func TestSubscribeObservesStreaming(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.PrepareConversation("c1")

	var contents []string
	unsubscribe := h.coord.Subscribe(func(s Session) {
		if len(s.Messages) == 2 {
			contents = append(contents, s.Messages[1].Content)
		}
	})
	defer unsubscribe()

	require.NoError(t, h.coord.Submit(context.Background(), "Hello"))
	h.fake.Emit(chunk("c1", "a"))
	h.fake.Emit(chunk("c1", "b"))
	h.fake.Emit(done("c1"))

	assert.Equal(t, []string{"", "a", "ab", "ab"}, contents)
}
