package session

import (
	"testing"

	"github.com/meshchat/node/packet"
	"github.com/stretchr/testify/require"
)

func dataAt(seq uint8, text byte) packet.Data {
	p := packet.Data{Sequence: seq}
	p.Payload[0] = text
	return p
}

func TestWindowReceiverInOrderDelivery(t *testing.T) {
	packets := packet.SplitText("hello there", 1, 2, 3)
	r := NewWindowReceiver(uint8(len(packets)))

	for _, p := range packets {
		require.True(t, r.Receive(p))
	}

	require.True(t, r.HasAllPackets())
	require.Equal(t, "hello there", packet.JoinText(r.Packets()))
}

func TestWindowReceiverOutOfOrderWithinWindow(t *testing.T) {
	packets := []packet.Data{dataAt(1, 'b'), dataAt(0, 'a'), dataAt(2, 'c')}
	r := NewWindowReceiver(3)

	require.True(t, r.Receive(packets[0]))
	require.True(t, r.Receive(packets[1]))
	require.True(t, r.Receive(packets[2]))
	require.True(t, r.HasAllPackets())
}

func TestWindowReceiverOutOfWindowRejection(t *testing.T) {
	r := NewWindowReceiverWithWindow(3, 2, SeqCount)

	require.True(t, r.Receive(dataAt(1, 'b')))  // accept: within initial window [0,1]
	require.False(t, r.Receive(dataAt(2, 'x'))) // reject: seq 0 hasn't arrived, window can't slide yet
	require.True(t, r.Receive(dataAt(0, 'a')))  // accept: fills the gap, window slides to [2,3]
	require.True(t, r.Receive(dataAt(2, 'c')))  // now inside the slid window
	require.True(t, r.HasAllPackets())
}

func TestWindowReceiverRejectsBeyondDeclaredPacketCount(t *testing.T) {
	r := NewWindowReceiver(1)
	require.True(t, r.Receive(dataAt(0, 'a')))
	require.False(t, r.Receive(dataAt(1, 'b'))) // idx would run past declared packet count
}

func TestWindowReceiverSixteenPacketsSucceedsSeventeenFails(t *testing.T) {
	text := make([]byte, 16*29)
	for i := range text {
		text[i] = 'x'
	}
	packets := packet.SplitText(string(text), 1, 2, 3)
	require.Len(t, packets, 16)

	r := NewWindowReceiver(16)
	for _, p := range packets {
		require.True(t, r.Receive(p))
	}
	require.True(t, r.HasAllPackets())

	overflowText := make([]byte, 17*29)
	for i := range overflowText {
		overflowText[i] = 'y'
	}
	overflow := packet.SplitText(string(overflowText), 1, 2, 3)
	require.Len(t, overflow, 17)

	// sequence wraps at 16, so the 17th packet's sequence collides with the
	// first, and a receiver only told to expect 16 packets rejects it once
	// the declared packet count is already full.
	r2 := NewWindowReceiver(16)
	for _, p := range overflow[:16] {
		require.True(t, r2.Receive(p))
	}
	require.False(t, r2.Receive(overflow[16]))
}
