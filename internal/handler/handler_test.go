package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/backend/backendtest"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

const testSecret = "test-secret"

type connected bool

func (c connected) IsConnected() bool { return bool(c) }

type gateway struct {
	fake   *backendtest.Fake
	router http.Handler
	token  string
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	fake := backendtest.New()
	fake.SetNow(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	return &gateway{
		fake:   fake,
		router: NewRouter(fake, connected(true), logger.Nop(), RouterOptions{JWTSecret: testSecret}),
		token:  token,
	}
}

func (g *gateway) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return g.doContext(t, context.Background(), method, path, body)
}

func (g *gateway) doContext(t *testing.T, ctx context.Context, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+g.token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	g.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "" && current.name != "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestHealth(t *testing.T) {
	g := newGateway(t)

	rec := g.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = g.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	notReady := NewRouter(g.fake, connected(false), logger.Nop(), RouterOptions{JWTSecret: testSecret})
	rec = httptest.NewRecorder()
	notReady.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	g := newGateway(t)

	rec := httptest.NewRecorder()
	g.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	g.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConversationCRUD(t *testing.T) {
	g := newGateway(t)

	rec := g.do(t, http.MethodPost, "/api/v1/conversations", `{"title":"Trip"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[model.ConversationSummary](t, rec)
	assert.Equal(t, "Trip", created.Title)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	rec = g.do(t, http.MethodPost, "/api/v1/conversations", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, model.DefaultConversationTitle, decodeBody[model.ConversationSummary](t, rec).Title)

	rec = g.do(t, http.MethodGet, "/api/v1/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[ConversationListResponse](t, rec).Conversations, 2)

	rec = g.do(t, http.MethodGet, "/api/v1/conversations/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decodeBody[model.ConversationSummary](t, rec).ID)

	rec = g.do(t, http.MethodPut, "/api/v1/conversations/"+created.ID, `{"title":"Holiday","pinned":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody[model.ConversationSummary](t, rec)
	assert.Equal(t, "Holiday", updated.Title)
	assert.True(t, updated.Pinned)

	rec = g.do(t, http.MethodDelete, "/api/v1/conversations/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = g.do(t, http.MethodGet, "/api/v1/conversations/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationErrors(t *testing.T) {
	g := newGateway(t)

	rec := g.do(t, http.MethodPut, "/api/v1/conversations/missing", `{"pinned":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = g.do(t, http.MethodPut, "/api/v1/conversations/missing", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = g.do(t, http.MethodGet, "/api/v1/conversations/bad.id", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	g.fake.FailCommand(backend.CmdListConversations, errors.New("boom"))
	rec = g.do(t, http.MethodGet, "/api/v1/conversations", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")

	g.fake.FailCommand(backend.CmdCreateConversation, backend.ErrUnavailable)
	rec = g.do(t, http.MethodPost, "/api/v1/conversations", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMessagesListAndLegacySend(t *testing.T) {
	g := newGateway(t)
	g.fake.AddConversation(model.ConversationSummary{ID: "c1", Title: "c1"})
	g.fake.SetMessages("c1", []model.Message{
		{ID: "m1", Role: model.RoleUser, Content: "one"},
		{ID: "m2", Role: model.RoleAssistant, Content: "two"},
	})

	rec := g.do(t, http.MethodGet, "/api/v1/conversations/c1/messages?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[MessageListResponse](t, rec)
	require.Len(t, list.Messages, 1)
	assert.Equal(t, "one", list.Messages[0].Content)

	rec = g.do(t, http.MethodGet, "/api/v1/conversations/c1/messages?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = g.do(t, http.MethodPost, "/api/v1/conversations/c1/messages", `{"content":"ping"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "echo: ping", decodeBody[model.InvokeChatResponse](t, rec).Reply)

	rec = g.do(t, http.MethodPost, "/api/v1/conversations/c1/messages", `{"content":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamChatRelaysChunks(t *testing.T) {
	g := newGateway(t)
	g.fake.AddConversation(model.ConversationSummary{ID: "c1", Title: "c1"})
	g.fake.OnStreamChat(func(req model.StreamChatRequest) {
		g.fake.Emit(model.ChatChunk{ConversationID: req.ConversationID, Delta: "Hi"})
		g.fake.Emit(model.ChatChunk{ConversationID: req.ConversationID, Delta: " there"})
		g.fake.Emit(model.ChatChunk{ConversationID: req.ConversationID, Done: true, Model: "m"})
	})

	rec := g.do(t, http.MethodPost, "/api/v1/conversations/c1/stream", `{"content":"Hello","system_prompt":"Be brief."}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 3)
	var deltas []string
	for _, ev := range events {
		assert.Equal(t, model.EventChatChunk, ev.name)
		var chunk model.ChatChunk
		require.NoError(t, json.Unmarshal([]byte(ev.data), &chunk))
		deltas = append(deltas, chunk.Delta)
	}
	assert.Equal(t, []string{"Hi", " there", ""}, deltas)

	reqs := g.fake.StreamRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Be brief.", reqs[0].SystemPrompt)
	assert.Equal(t, 0, g.fake.Subscribers("c1"))
}

func TestStreamChatRejectedBeforeHeaders(t *testing.T) {
	g := newGateway(t)
	g.fake.FailCommand(backend.CmdStreamChat, backend.ErrNotFound)

	rec := g.do(t, http.MethodPost, "/api/v1/conversations/c1/stream", `{"content":"Hello"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, 0, g.fake.Subscribers("c1"))
}

func TestWatchReplaysThenRelays(t *testing.T) {
	g := newGateway(t)
	g.fake.AddConversation(model.ConversationSummary{ID: "c1", Title: "c1"})
	g.fake.SetMessages("c1", []model.Message{{ID: "m1", Role: model.RoleUser, Content: "earlier"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- g.doContext(t, ctx, http.MethodGet, "/api/v1/conversations/c1/stream", "")
	}()

	require.Eventually(t, func() bool { return g.fake.Subscribers("c1") == 1 }, 2*time.Second, 5*time.Millisecond)
	g.fake.Emit(model.ChatChunk{ConversationID: "c1", Delta: "live"})
	g.fake.Emit(model.ChatChunk{ConversationID: "c1", Done: true})

	// Give the relay a moment to drain the queued chunks before disconnecting.
	time.Sleep(50 * time.Millisecond)
	cancel()

	var rec *httptest.ResponseRecorder
	select {
	case rec = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after disconnect")
	}

	events := parseSSE(t, rec.Body.String())
	var names []string
	for _, ev := range events {
		names = append(names, ev.name)
	}
	assert.Equal(t, []string{"message", "replay_complete", model.EventChatChunk, model.EventChatChunk}, names)
	assert.Equal(t, 0, g.fake.Subscribers("c1"))
}

func TestPreferences(t *testing.T) {
	g := newGateway(t)

	rec := g.do(t, http.MethodPut, "/api/v1/preferences", `{"language":"fr","system_prompt":"Be kind."}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fr", decodeBody[model.Preferences](t, rec).Language)

	rec = g.do(t, http.MethodGet, "/api/v1/preferences", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Be kind.", decodeBody[model.Preferences](t, rec).SystemPrompt)

	rec = g.do(t, http.MethodPut, "/api/v1/preferences", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
