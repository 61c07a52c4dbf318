package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meshchat/node/packet"
	"github.com/meshchat/node/topology"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeFullSender struct {
	mu        sync.Mutex
	scheduled []packet.Packet
	reliable  []packet.Packet
}

func (f *fakeFullSender) Schedule(pkt packet.Packet, minDelay, maxDelay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, pkt)
}

func (f *fakeFullSender) SendReliable(ctx context.Context, pkt packet.Packet, minDelay, maxDelay time.Duration, attempts int, timeout time.Duration, expectedAcks map[packet.NodeID]struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reliable = append(f.reliable, pkt)
}

func (f *fakeFullSender) SendReliableAndWait(ctx context.Context, pkt packet.Packet, minDelay, maxDelay time.Duration, attempts int, timeout time.Duration, expectedAcks map[packet.NodeID]struct{}) map[packet.NodeID]struct{} {
	f.mu.Lock()
	f.reliable = append(f.reliable, pkt)
	f.mu.Unlock()
	return nil
}

func (f *fakeFullSender) scheduledPackets() []packet.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]packet.Packet{}, f.scheduled...)
}

func TestHandleDataPacketSchedulesAckAndWaitsForAllPackets(t *testing.T) {
	store := topology.New()
	store.SetSelfID(1)
	sender := &fakeFullSender{}
	p := New(store, sender, zerolog.Nop())

	p.HandleUpdate(1, packet.SessionUpdate{SenderID: 9, SourceID: 9, PacketCount: 2})

	first := p.HandleDataPacket(context.Background(), 1, packet.Data{SourceID: 9, SenderID: 9, Sequence: 0})
	require.Nil(t, first)
	require.Len(t, sender.scheduledPackets(), 1)

	second := p.HandleDataPacket(context.Background(), 1, packet.Data{SourceID: 9, SenderID: 9, Sequence: 1})
	require.Len(t, second, 2)
	require.Len(t, sender.scheduledPackets(), 2)
}

func TestHandleDataPacketIgnoresUnknownSource(t *testing.T) {
	store := topology.New()
	sender := &fakeFullSender{}
	p := New(store, sender, zerolog.Nop())

	result := p.HandleDataPacket(context.Background(), 1, packet.Data{SourceID: 42, Sequence: 0})
	require.Nil(t, result)
	require.Empty(t, sender.scheduledPackets())
}

func TestHandleDataAckOnlyAffectsOwnSessionTransmitter(t *testing.T) {
	store := topology.New()
	store.SetSelfID(1)
	sender := &fakeFullSender{}
	p := New(store, sender, zerolog.Nop())

	// no active session: must not panic
	require.NotPanics(t, func() {
		p.HandleDataAck(1, packet.DataAck{SourceID: 1, Sequence: 0})
	})

	transmitter := NewWindowTransmitter(sender, map[packet.NodeID]struct{}{2: {}})
	p.mu.Lock()
	p.inSession = true
	p.transmitter = transmitter
	p.mu.Unlock()

	// ack for a different session's source: ignored
	p.HandleDataAck(1, packet.DataAck{SourceID: 5, Sequence: 0})
}

func TestSendPacketsQueuesWhenAlreadyInSession(t *testing.T) {
	store := topology.New()
	store.SetSelfID(1)
	sender := &fakeFullSender{}
	p := New(store, sender, zerolog.Nop())
	p.mu.Lock()
	p.inSession = true
	p.mu.Unlock()

	p.SendPackets(context.Background(), 1, []packet.Data{{Sequence: 0}}, map[packet.NodeID]struct{}{2: {}}, true)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.sendingQueue, 1)
}

func TestSendPacketsIgnoresEmptyReceiversOrPackets(t *testing.T) {
	store := topology.New()
	sender := &fakeFullSender{}
	p := New(store, sender, zerolog.Nop())

	p.SendPackets(context.Background(), 1, nil, map[packet.NodeID]struct{}{2: {}}, true)
	p.SendPackets(context.Background(), 1, []packet.Data{{Sequence: 0}}, nil, true)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.False(t, p.inSession)
}

func TestHandleUpdateForeignSessionStartsReceiverAndMayReply(t *testing.T) {
	store := topology.New()
	store.SetSelfID(1)
	store.AddNeighbor(2)
	sender := &fakeFullSender{}
	p := New(store, sender, zerolog.Nop())

	// source=9, sender=2, no topology known: GetTransmitters sees an
	// unreachable source so responders is unresolved and nothing replies.
	p.HandleUpdate(1, packet.SessionUpdate{SenderID: 2, SourceID: 9, PacketCount: 1})

	p.mu.Lock()
	_, tracked := p.dataReceivers[9]
	p.mu.Unlock()
	require.True(t, tracked)
}

func TestHandleUpdateOwnSessionRecordsAckOnlyWhileInSession(t *testing.T) {
	store := topology.New()
	store.SetSelfID(1)
	store.AddNeighbor(2)
	sender := &fakeFullSender{}
	p := New(store, sender, zerolog.Nop())

	// not in session: echo is dropped
	p.HandleUpdate(1, packet.SessionUpdate{SenderID: 2, SourceID: 1, PacketCount: 1})
	p.mu.Lock()
	require.Empty(t, p.sessionAcks)
	p.mu.Unlock()

	p.mu.Lock()
	p.inSession = true
	p.mu.Unlock()

	p.HandleUpdate(1, packet.SessionUpdate{SenderID: 2, SourceID: 1, PacketCount: 1})
	p.mu.Lock()
	require.Contains(t, p.sessionAcks, packet.NodeID(2))
	p.mu.Unlock()
}
