package pktlog

import (
	"strings"
	"testing"
	"time"

	"github.com/meshchat/node/packet"
	"github.com/stretchr/testify/require"
)

func TestMissingAcksResolvesWhenAckArrives(t *testing.T) {
	l := New()

	original := packet.Data{DestinationID: 1, SenderID: 9, SourceID: 9, Sequence: 2}
	l.Record(packet.DataAck{SenderID: 3, SourceID: 9, Sequence: 2})

	expected := map[packet.NodeID]struct{}{3: {}, 4: {}}
	missing := l.MissingAcks(original, expected, time.Second)

	require.Equal(t, map[packet.NodeID]struct{}{4: {}}, missing)
}

func TestMissingAcksIgnoresExpiredRecords(t *testing.T) {
	l := &Log{}
	l.records = []record{
		{pkt: packet.DataAck{SenderID: 3, SourceID: 9, Sequence: 2}, arrived: time.Now().Add(-time.Hour)},
	}

	original := packet.Data{SenderID: 9, SourceID: 9, Sequence: 2}
	missing := l.MissingAcks(original, map[packet.NodeID]struct{}{3: {}}, time.Millisecond*10)

	require.Equal(t, map[packet.NodeID]struct{}{3: {}}, missing)
}

func TestMissingAcksIgnoresZeroSender(t *testing.T) {
	l := New()
	// LinkStateRequest carries no sender concept (Sender() == 0); even
	// though PingPong.IsAckOf is unconditionally true, a zero-sender record
	// must never count as an acknowledger.
	l.Record(packet.LinkStateRequest{DestinationID: 3, SourceID: 9})

	original := packet.PingPong{SenderID: 3}
	missing := l.MissingAcks(original, map[packet.NodeID]struct{}{3: {}}, time.Second)

	require.Equal(t, map[packet.NodeID]struct{}{3: {}}, missing)
}

func TestHasTrafficWithin(t *testing.T) {
	l := New()
	require.False(t, l.HasTrafficWithin(time.Second))

	l.RecordSend()
	require.True(t, l.HasTrafficWithin(time.Second))
	require.False(t, l.HasTrafficWithin(0))
}

func TestSaveGraphEmitsOneEdgePerRecord(t *testing.T) {
	l := New()
	l.Record(packet.PingPong{SenderID: 3})
	l.Record(packet.DataAck{SenderID: 3, SourceID: 9, Sequence: 2})

	var out strings.Builder
	l.SaveGraph(&out)

	dot := out.String()
	require.True(t, strings.HasPrefix(dot, "digraph packet_log {"))
	require.Contains(t, dot, `"3" ->`)
	require.Contains(t, dot, "PING_PONG")
	require.Contains(t, dot, "DATA_ACK")
}
