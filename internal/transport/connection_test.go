package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectionSendReceiveRoundTrip(t *testing.T) {
	conn, err := NewConnection()
	require.NoError(t, err)
	defer conn.Close()

	client := conn.ClientEndpoint()
	server := conn.ServerEndpoint()

	require.True(t, client.SendMessage(StartMessage()))

	const nonBlocking = true
	messages := server.ReceiveMessages(nonBlocking)
	require.Len(t, messages, 1)
	require.Equal(t, Start, messages[0].Kind)

	// A second poll with nothing new queued returns no messages.
	require.Empty(t, server.ReceiveMessages(nonBlocking))
}

func TestConnectionBothDirections(t *testing.T) {
	conn, err := NewConnection()
	require.NoError(t, err)
	defer conn.Close()

	client := conn.ClientEndpoint()
	server := conn.ServerEndpoint()

	require.True(t, server.SendMessage(EnterMessage(3)))

	const nonBlocking = true
	messages := client.ReceiveMessages(nonBlocking)
	require.Len(t, messages, 1)
	require.Equal(t, Enter, messages[0].Kind)
	require.Equal(t, uint64(3), messages[0].Cycle)
}
