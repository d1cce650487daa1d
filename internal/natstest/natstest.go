// Package natstest runs an embedded JetStream-enabled NATS server for tests.
package natstest

import (
	"context"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/require"

	natsclient "github.com/capitalize-ai/chat-workspace/internal/nats"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

// RunServer starts a server on a random port with JetStream storage in a
// temporary directory. It is shut down when the test ends.
func RunServer(t testing.TB) *server.Server {
	t.Helper()

	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()

	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s
}

// Connect starts a server and returns a connected client.
func Connect(t testing.TB) (*server.Server, *natsclient.Client) {
	t.Helper()

	s := RunServer(t)
	client, err := natsclient.Connect(context.Background(), natsclient.Config{URL: s.ClientURL()}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return s, client
}
