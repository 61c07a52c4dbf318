package addressing

import (
	"testing"

	"github.com/meshchat/node/packet"
	"github.com/meshchat/node/topology"
	"github.com/stretchr/testify/require"
)

func TestStartAddressingNoNeighborFallsBackToOne(t *testing.T) {
	store := topology.New()
	p := New(store, 1234)

	_, hasNeighbors := p.StartAddressing(map[packet.NodeID]struct{}{})

	require.False(t, hasNeighbors)
	require.True(t, p.IsConfirmed())
	require.Equal(t, packet.NodeID(1), store.SelfID())
}

func TestStartAddressingPicksHighestNeighborAsProvider(t *testing.T) {
	store := topology.New()
	p := New(store, 1234)

	req, hasNeighbors := p.StartAddressing(map[packet.NodeID]struct{}{2: {}, 5: {}, 3: {}})

	require.True(t, hasNeighbors)
	require.Equal(t, packet.NodeID(5), req.DestinationID)
	require.Equal(t, uint32(1234), req.Timestamp)
	require.Equal(t, packet.NodeID(5), p.IDProvider())
	require.False(t, p.IsConfirmed())
}

func TestHandleIssueIDAdoptsMatchingResponse(t *testing.T) {
	store := topology.New()
	p := New(store, 1234)
	p.StartAddressing(map[packet.NodeID]struct{}{5: {}})

	accepted := p.HandleIssueID(packet.IssueID{
		SenderID:     5,
		SuggestedID:  6,
		Timestamp:    1234,
		AlreadyTaken: []packet.NodeID{5, 2},
	})

	require.True(t, accepted)
	require.True(t, p.IsConfirmed())
	require.Equal(t, packet.NodeID(6), store.SelfID())
	require.Equal(t, map[packet.NodeID]struct{}{6: {}, 5: {}, 2: {}}, store.TakenIDs())
}

func TestHandleIssueIDIgnoresMismatchedTimestamp(t *testing.T) {
	store := topology.New()
	p := New(store, 1234)
	p.StartAddressing(map[packet.NodeID]struct{}{5: {}})

	accepted := p.HandleIssueID(packet.IssueID{SenderID: 5, SuggestedID: 6, Timestamp: 9999})

	require.False(t, accepted)
	require.False(t, p.IsConfirmed())
}

func TestHandleRequestIDReissuesSameIDForSameTimestamp(t *testing.T) {
	store := topology.New()
	p := New(store, 0)
	store.SetSelfID(1)
	p.selfAssign(1)

	first, ok := p.HandleRequestID(1, packet.RequestID{DestinationID: 1, Timestamp: 42})
	require.True(t, ok)

	second, ok := p.HandleRequestID(1, packet.RequestID{DestinationID: 1, Timestamp: 42})
	require.True(t, ok)

	require.Equal(t, first.SuggestedID, second.SuggestedID)
}

func TestHandleRequestIDIgnoresRequestForAnotherNode(t *testing.T) {
	store := topology.New()
	p := New(store, 0)
	p.selfAssign(1)

	_, ok := p.HandleRequestID(1, packet.RequestID{DestinationID: 2, Timestamp: 42})
	require.False(t, ok)
}

func TestHandleRequestIDSuggestsOneAboveHighestTaken(t *testing.T) {
	store := topology.New()
	store.MarkTaken(1)
	store.MarkTaken(3)
	p := New(store, 0)
	p.selfAssign(1)

	resp, ok := p.HandleRequestID(1, packet.RequestID{DestinationID: 1, Timestamp: 1})
	require.True(t, ok)
	require.Equal(t, packet.NodeID(4), resp.SuggestedID)
}

func TestHandleIssueIDWhileConfirmedRecordsObservedIssueWithoutAccepting(t *testing.T) {
	store := topology.New()
	p := New(store, 0)
	p.selfAssign(1)

	accepted := p.HandleIssueID(packet.IssueID{SenderID: 2, SuggestedID: 9, Timestamp: 50})
	require.False(t, accepted)

	// A second request by this node for a new id must now steer clear of 9.
	resp, _ := p.HandleRequestID(1, packet.RequestID{DestinationID: 1, Timestamp: 60})
	require.NotEqual(t, packet.NodeID(9), resp.SuggestedID)
}
