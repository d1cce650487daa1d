package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-workspace/internal/backend/backendtest"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	"github.com/capitalize-ai/chat-workspace/internal/session"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

func TestStreamReplyPrintsOnlyNewReply(t *testing.T) {
	fake := backendtest.New()
	fake.AddConversation(model.ConversationSummary{ID: "c1", Title: "c1"})
	fake.SetMessages("c1", []model.Message{
		{ID: "m1", Role: model.RoleUser, Content: "earlier"},
		{ID: "m2", Role: model.RoleAssistant, Content: "old reply"},
	})
	coord := session.New(fake, nil, nil, logger.Nop(), session.Options{})
	require.NoError(t, coord.LoadConversation(context.Background(), "c1"))

	var out bytes.Buffer
	stop := streamReply(coord, &out)
	defer stop()

	require.NoError(t, coord.Submit(context.Background(), "hello"))
	fake.Emit(model.ChatChunk{ConversationID: "c1", Delta: "Hi"})
	fake.Emit(model.ChatChunk{ConversationID: "c1", Delta: " there"})
	fake.Emit(model.ChatChunk{ConversationID: "c1", Done: true})

	require.NoError(t, coord.WaitIdle(context.Background()))
	assert.Equal(t, "Hi there", out.String())
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n b\tc", 10))
	assert.Equal(t, "abcd…", oneLine("abcdefgh", 5))
}
