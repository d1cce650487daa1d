package workspace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/backend/backendtest"
	"github.com/capitalize-ai/chat-workspace/internal/directory"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func TestStartSelectsHead(t *testing.T) {
	fake := backendtest.New()
	fake.AddConversation(model.ConversationSummary{ID: "c1", UpdatedAt: now.Add(-2 * time.Hour)})
	fake.AddConversation(model.ConversationSummary{ID: "c2", UpdatedAt: now.Add(-time.Hour)})
	fake.SetMessages("c2", []model.Message{{ID: "m1", Role: model.RoleUser, Content: "hi"}})
	require.NoError(t, fake.SavePreferences(context.Background(), &model.Preferences{SystemPrompt: "Be kind."}))

	ws := New(fake, logger.Nop(), Options{Now: func() time.Time { return now }})
	require.NoError(t, ws.Start(context.Background()))

	assert.Equal(t, "c2", ws.Session.ActiveConversationID())
	assert.Len(t, ws.Session.Snapshot().Messages, 1)
	assert.Equal(t, "Be kind.", ws.Preferences.SystemPrompt())
}

func TestStartToleratesPreferencesFailure(t *testing.T) {
	fake := backendtest.New()
	fake.AddConversation(model.ConversationSummary{ID: "c1"})
	fake.FailCommand(backend.CmdGetPreferences, errors.New("unavailable"))

	ws := New(fake, logger.Nop(), Options{})

	require.NoError(t, ws.Start(context.Background()))
	assert.Equal(t, "c1", ws.Session.ActiveConversationID())
}

func TestStartFailsOnDirectoryLoad(t *testing.T) {
	fake := backendtest.New()
	fake.FailCommand(backend.CmdListConversations, errors.New("offline"))

	ws := New(fake, logger.Nop(), Options{})

	assert.ErrorIs(t, ws.Start(context.Background()), directory.ErrDirectoryMutationFailed)
	assert.Empty(t, ws.Session.ActiveConversationID())
}

func TestSubmitUsesSavedSystemPrompt(t *testing.T) {
	fake := backendtest.New()
	ws := New(fake, logger.Nop(), Options{Now: func() time.Time { return now }})
	require.NoError(t, ws.Start(context.Background()))
	require.NoError(t, ws.Preferences.Save(context.Background(), model.Preferences{SystemPrompt: " Reply in French. "}))

	conv, err := ws.Switcher.NewChat(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, ws.Session.Submit(context.Background(), "Hello"))
	fake.Emit(model.ChatChunk{ConversationID: conv.ID, Delta: "Bonjour"})
	fake.Emit(model.ChatChunk{ConversationID: conv.ID, Done: true})

	reqs := fake.StreamRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Reply in French.", reqs[0].SystemPrompt)

	head := ws.Directory.Conversations()[0]
	assert.Equal(t, "Bonjour", head.LastMessagePreview)
	assert.Equal(t, now, *head.LastMessageAt)
}
