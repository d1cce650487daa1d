package nats_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-workspace/internal/model"
	natsclient "github.com/capitalize-ai/chat-workspace/internal/nats"
	"github.com/capitalize-ai/chat-workspace/internal/natstest"
)

func newStreamManager(t *testing.T) *natsclient.StreamManager {
	t.Helper()
	_, client := natstest.Connect(t)
	m := natsclient.NewStreamManager(client)
	require.NoError(t, m.EnsureStream(context.Background()))
	return m
}

func publish(t *testing.T, m *natsclient.StreamManager, conversationID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		_, err := m.PublishMessage(context.Background(), &model.Message{
			ID:             fmt.Sprintf("%s-%d", conversationID, i),
			ConversationID: conversationID,
			Role:           role,
			Content:        fmt.Sprintf("message %d", i),
			CreatedAt:      time.Now(),
		})
		require.NoError(t, err)
	}
}

func TestEnsureStreamIsIdempotent(t *testing.T) {
	m := newStreamManager(t)
	require.NoError(t, m.EnsureStream(context.Background()))
}

func TestGetMessagesAscending(t *testing.T) {
	m := newStreamManager(t)
	publish(t, m, "c1", 4)
	publish(t, m, "c2", 2)

	msgs, err := m.GetMessages(context.Background(), "c1", 0)
	require.NoError(t, err)

	require.Len(t, msgs, 4)
	for i, msg := range msgs {
		assert.Equal(t, fmt.Sprintf("c1-%d", i), msg.ID)
		assert.NotZero(t, msg.Sequence)
	}
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
}

func TestGetMessagesLimitKeepsFirst(t *testing.T) {
	m := newStreamManager(t)
	publish(t, m, "c1", 5)

	msgs, err := m.GetMessages(context.Background(), "c1", 2)
	require.NoError(t, err)

	require.Len(t, msgs, 2)
	assert.Equal(t, "c1-0", msgs[0].ID)
	assert.Equal(t, "c1-1", msgs[1].ID)
}

func TestGetMessagesEmptyConversation(t *testing.T) {
	m := newStreamManager(t)

	start := time.Now()
	msgs, err := m.GetMessages(context.Background(), "nothing", 0)

	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPurgeConversation(t *testing.T) {
	m := newStreamManager(t)
	publish(t, m, "c1", 3)
	publish(t, m, "c2", 1)

	require.NoError(t, m.PurgeConversation(context.Background(), "c1"))

	msgs, err := m.GetMessages(context.Background(), "c1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	others, err := m.GetMessages(context.Background(), "c2", 0)
	require.NoError(t, err)
	assert.Len(t, others, 1)
	require.NoError(t, m.RecordStats(context.Background()))
}
