package channel

import (
	"testing"
	"time"

	"github.com/meshchat/node/transport"
	"github.com/stretchr/testify/require"
)

func TestScenario(t *testing.T) {
	net := NewTransport()

	sock1, err := net.CreateSocket("A")
	require.NoError(t, err)

	sock2, err := net.CreateSocket("B")
	require.NoError(t, err)

	sock3, err := net.CreateSocket("C")
	require.NoError(t, err)

	require.NoError(t, sock1.Send(transport.Frame{Kind: transport.Hello}, 0))

	frame, err := sock2.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, transport.Hello, frame.Kind)
	require.Equal(t, "A", frame.RelayedBy)

	frame, err = sock3.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, transport.Hello, frame.Kind)

	require.NoError(t, sock2.Send(transport.Frame{Kind: transport.Data, Payload: []byte("hi")}, 0))

	frame, err = sock1.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, transport.Data, frame.Kind)
	require.Equal(t, []byte("hi"), frame.Payload)

	// sock2 never receives its own broadcast
	_, err = sock2.Recv(50 * time.Millisecond)
	require.ErrorIs(t, err, transport.TimeoutError(0))
}

func TestSocketClose(t *testing.T) {
	net := NewTransport()

	sock1, err := net.CreateSocket("A")
	require.NoError(t, err)

	sock2, err := net.CreateSocket("B")
	require.NoError(t, err)

	require.NoError(t, sock1.Close())

	// B can still broadcast even though A detached
	require.NoError(t, sock2.Send(transport.Frame{Kind: transport.Free}, 0))
}
