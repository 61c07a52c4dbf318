package linkstate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meshchat/node/packet"
	"github.com/meshchat/node/pktlog"
	"github.com/meshchat/node/topology"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu        sync.Mutex
	scheduled []packet.Packet
}

func (f *fakeSender) Schedule(pkt packet.Packet, minDelay, maxDelay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, pkt)
}

func (f *fakeSender) SendReliable(ctx context.Context, pkt packet.Packet, minDelay, maxDelay time.Duration, attempts int, timeout time.Duration, expectedAcks map[packet.NodeID]struct{}) {
	f.Schedule(pkt, minDelay, maxDelay)
}

func (f *fakeSender) all() []packet.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]packet.Packet{}, f.scheduled...)
}

func newTestProtocol() (*Protocol, *topology.Store, *fakeSender) {
	store := topology.New()
	sender := &fakeSender{}
	p := New(store, pktlog.New(), sender, zerolog.Nop())
	return p, store, sender
}

func TestSendUpdateForcesTTLOneWithNoNeighbors(t *testing.T) {
	p, store, sender := newTestProtocol()
	store.SetSelfID(1)

	p.SendUpdate()

	require.Len(t, sender.all(), 1)
	update := sender.all()[0].(packet.LinkStateUpdate)
	require.Equal(t, uint8(1), update.TTL)
	require.Equal(t, uint8(1), update.Sequence)
}

func TestSendUpdateKeepsFullTTLWithNeighbors(t *testing.T) {
	p, store, sender := newTestProtocol()
	store.SetSelfID(1)
	store.AddNeighbor(2)

	p.SendUpdate()

	update := sender.all()[0].(packet.LinkStateUpdate)
	require.Equal(t, uint8(TimeToLive), update.TTL)
}

func TestHandleNeighborActivityTriggersUpdateWhenAlreadyTaken(t *testing.T) {
	p, store, sender := newTestProtocol()
	store.SetSelfID(1)
	store.MarkTaken(2)
	store.SetState(topology.ReadyToSend)

	p.HandleNeighborActivity(2)

	require.Len(t, sender.all(), 1)
	require.Contains(t, store.Neighbors(), packet.NodeID(2))
}

func TestHandleNeighborActivityJustMarksTakenWhenNotReady(t *testing.T) {
	p, store, sender := newTestProtocol()
	store.SetSelfID(1)
	store.MarkTaken(2)
	// state is FindingNeighbors by default

	p.HandleNeighborActivity(2)

	require.Empty(t, sender.all())
	require.Contains(t, store.TakenIDs(), packet.NodeID(2))
}

func TestHandleUpdateIgnoresSelfOriginated(t *testing.T) {
	p, store, sender := newTestProtocol()
	store.SetSelfID(1)

	p.HandleUpdate(1, packet.LinkStateUpdate{SenderID: 2, SourceID: 1, Sequence: 5})

	_, ok := store.LinkState(1)
	require.True(t, ok) // seeded by SetSelfID, unaffected
	require.Empty(t, sender.all())
}

func TestHandleUpdateAdoptsAndRecordsNeighborActivity(t *testing.T) {
	p, store, _ := newTestProtocol()
	store.SetSelfID(1)

	p.HandleUpdate(1, packet.LinkStateUpdate{
		SenderID: 2, SourceID: 2, Sequence: 1, TTL: 3, NeighborIDs: []packet.NodeID{3, 4},
	})

	ls, ok := store.LinkState(2)
	require.True(t, ok)
	require.Equal(t, uint8(1), ls.Sequence)
	require.Contains(t, store.Neighbors(), packet.NodeID(2))
}

func TestHandleUpdateForwardsWhenReadyAndNewAudienceExists(t *testing.T) {
	p, store, sender := newTestProtocol()
	store.SetSelfID(1)
	store.AddNeighbor(5) // node 5 hasn't heard this update via its own membership
	store.SetState(topology.ReadyToSend)

	p.HandleUpdate(1, packet.LinkStateUpdate{
		SenderID: 2, SourceID: 2, Sequence: 1, TTL: 3, NeighborIDs: []packet.NodeID{3, 4},
	})

	require.Len(t, sender.all(), 1)
	forwarded := sender.all()[0].(packet.LinkStateUpdate)
	require.Equal(t, uint8(2), forwarded.TTL)
	require.Equal(t, packet.NodeID(1), forwarded.SenderID)
}

func TestHandleUpdateDoesNotForwardWhenTTLExhausted(t *testing.T) {
	p, store, sender := newTestProtocol()
	store.SetSelfID(1)
	store.AddNeighbor(5)
	store.SetState(topology.ReadyToSend)

	p.HandleUpdate(1, packet.LinkStateUpdate{SenderID: 2, SourceID: 2, Sequence: 1, TTL: 1})

	require.Empty(t, sender.all())
}

func TestHandleRequestRepliesWithStoredLinkStateTTLOne(t *testing.T) {
	p, store, sender := newTestProtocol()
	store.SetSelfID(1)
	store.UpdateLinkState(topology.LinkState{NodeID: 9, Sequence: 3, NeighborIDs: map[packet.NodeID]struct{}{}})

	p.HandleRequest(1, packet.LinkStateRequest{DestinationID: 1, SourceID: 9})

	require.Len(t, sender.all(), 1)
	update := sender.all()[0].(packet.LinkStateUpdate)
	require.Equal(t, uint8(1), update.TTL)
	require.Equal(t, packet.NodeID(9), update.SourceID)
}

func TestHandleRequestIgnoresWhenNotDestination(t *testing.T) {
	p, _, sender := newTestProtocol()
	p.HandleRequest(1, packet.LinkStateRequest{DestinationID: 2, SourceID: 9})
	require.Empty(t, sender.all())
}

func TestHasFullTopologyDelegatesToStore(t *testing.T) {
	p, store, _ := newTestProtocol()
	require.True(t, p.HasFullTopology())

	store.MarkTaken(3)
	require.False(t, p.HasFullTopology())
}
