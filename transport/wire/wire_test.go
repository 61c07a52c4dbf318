package wire

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/meshchat/node/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeDataFrame(t *testing.T) {
	frame := transport.Frame{Kind: transport.Data, Payload: make([]byte, 32)}
	frame.Payload[0] = 0xAB

	buf, err := encode(frame)
	require.NoError(t, err)
	require.Len(t, buf, 33)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() { _, _ = client.Write(buf) }()

	got, err := decode(bufio.NewReader(server))
	require.NoError(t, err)
	require.Equal(t, transport.Data, got.Kind)
	require.Equal(t, frame.Payload, got.Payload)
}

func TestEncodeControlFrameHasNoPayload(t *testing.T) {
	buf, err := encode(transport.Frame{Kind: transport.Hello})
	require.NoError(t, err)
	require.Equal(t, []byte{byte(transport.Hello)}, buf)
}

func TestEncodeRejectsWrongSizedPayload(t *testing.T) {
	_, err := encode(transport.Frame{Kind: transport.DataShort, Payload: []byte{1, 2, 3}})
	require.Error(t, err)
}

func TestSocketSendRecvOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan transport.Frame, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		sock := &Socket{conn: conn, r: bufio.NewReader(conn), address: "server", logger: zerolog.Nop()}
		frame, err := sock.Recv(2 * time.Second)
		require.NoError(t, err)
		serverDone <- frame
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	client := &Socket{conn: conn, r: bufio.NewReader(conn), address: "client", logger: zerolog.Nop()}
	require.NoError(t, client.Send(transport.Frame{Kind: transport.DataShort, Payload: []byte{1, 2}}, time.Second))

	select {
	case frame := <-serverDone:
		require.Equal(t, transport.DataShort, frame.Kind)
		require.Equal(t, []byte{1, 2}, frame.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}

	require.Len(t, client.GetOuts(), 1)
}
