// Package addressing implements the collision-free NodeId assignment
// handshake: a joining node asks its best-known neighbor for an id, and any
// already-confirmed node can answer on behalf of the network.
package addressing

import (
	"sync"

	"github.com/meshchat/node/packet"
	"github.com/meshchat/node/topology"
)

// RequestAttempts is the number of times, first send included, a joining
// node sends its REQUEST_ID before falling back to self-assigning id 1.
const RequestAttempts = 3

// Protocol runs the addressing handshake for one node: the requester side
// (while unconfirmed) and the issuer side (once confirmed, for everyone
// else's requests).
//
// Grounded on AddressProtocol.java; the provisional-issue table prevents a
// node from granting two different ids to two near-simultaneous requests
// bearing the same timestamp, and prevents granting an id that was already
// handed out to someone else under a different timestamp.
type Protocol struct {
	mu sync.Mutex

	topology *topology.Store

	timestamp  uint32
	confirmed  bool
	idProvider packet.NodeID

	// issued maps a request's timestamp to the id this node promised for
	// it, whether the promise was made by this node as issuer or observed
	// being made by another issuer while eavesdropping.
	issued map[uint32]packet.NodeID
}

// New returns a protocol instance for a node created at timestamp (its
// 24-bit creation-time reading).
func New(store *topology.Store, timestamp uint32) *Protocol {
	return &Protocol{
		topology:  store,
		timestamp: timestamp,
		issued:    make(map[uint32]packet.NodeID),
	}
}

// IsConfirmed reports whether this node has a confirmed NodeId.
func (p *Protocol) IsConfirmed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.confirmed
}

// IDProvider returns the neighbor this node asked for its id.
func (p *Protocol) IDProvider() packet.NodeID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idProvider
}

// HighestKnownID returns the largest id among candidates and every id this
// node has issued so far, or 0 if both are empty. Folding in issued ids
// means a node chooses a fresh provider even if topology hasn't caught up
// with an id it just handed out.
func (p *Protocol) HighestKnownID(candidates map[packet.NodeID]struct{}) packet.NodeID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highestKnownIDUnsafe(candidates)
}

func (p *Protocol) highestKnownIDUnsafe(candidates map[packet.NodeID]struct{}) packet.NodeID {
	var max packet.NodeID
	for id := range candidates {
		if id > max {
			max = id
		}
	}
	for _, id := range p.issued {
		if id > max {
			max = id
		}
	}
	return max
}

// StartAddressing picks the highest id among neighbors as this node's id
// provider. If none exists, the node self-assigns id 1 immediately and
// reports hasNeighbors=false with a nil request. Otherwise it returns the
// RequestID this node should send reliably (RequestAttempts attempts,
// destined for the chosen provider).
func (p *Protocol) StartAddressing(neighbors map[packet.NodeID]struct{}) (req packet.RequestID, hasNeighbors bool) {
	p.mu.Lock()
	provider := p.highestKnownIDUnsafe(neighbors)
	p.mu.Unlock()

	if provider == 0 {
		p.selfAssign(1)
		return packet.RequestID{}, false
	}

	p.mu.Lock()
	p.idProvider = provider
	p.mu.Unlock()

	return packet.RequestID{DestinationID: provider, Timestamp: p.timestamp}, true
}

// FallbackToDefault self-assigns id 1 after RequestAttempts failed round
// trips with no matching ISSUE_ID.
func (p *Protocol) FallbackToDefault() {
	p.selfAssign(1)
}

func (p *Protocol) selfAssign(id packet.NodeID) {
	p.mu.Lock()
	if p.confirmed {
		p.mu.Unlock()
		return
	}
	p.confirmed = true
	p.mu.Unlock()

	p.topology.SetSelfID(id)
	p.topology.MarkTaken(id)
}

// HandleIssueID processes an ISSUE_ID. If this node is still unconfirmed and
// the packet answers its own outstanding request (matching sender and
// timestamp), it adopts the suggested id and reports true. Once confirmed,
// it instead treats every ISSUE_ID it overhears as a neighbor issuer's
// provisional grant and folds it into the issued table so this node never
// double-issues the same id, and always returns false.
func (p *Protocol) HandleIssueID(pkt packet.IssueID) (accepted bool) {
	p.mu.Lock()
	alreadyConfirmed := p.confirmed
	matchesOwnRequest := !alreadyConfirmed && pkt.SenderID == p.idProvider && pkt.Timestamp == p.timestamp
	if matchesOwnRequest {
		p.confirmed = true
	}
	p.mu.Unlock()

	if matchesOwnRequest {
		p.topology.SetSelfID(pkt.SuggestedID)
		p.topology.MarkTaken(pkt.SuggestedID)
		for _, taken := range pkt.AlreadyTaken {
			p.topology.MarkTaken(taken)
		}
		return true
	}

	if !alreadyConfirmed {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, timestampSeen := p.issued[pkt.Timestamp]; !timestampSeen {
		if !p.idAlreadyIssuedUnsafe(pkt.SuggestedID) {
			p.issued[pkt.Timestamp] = pkt.SuggestedID
		}
	}
	return false
}

func (p *Protocol) idAlreadyIssuedUnsafe(id packet.NodeID) bool {
	for _, issued := range p.issued {
		if issued == id {
			return true
		}
	}
	return false
}

// HandleRequestID processes a REQUEST_ID addressed to this node. It answers
// only if this node is confirmed and is the packet's destination. Repeated
// requests carrying the same timestamp receive the same suggested id
// (idempotent re-issue), per spec's "re-issuing the same REQUEST_ID yields
// the same ISSUE_ID" law.
func (p *Protocol) HandleRequestID(self packet.NodeID, pkt packet.RequestID) (packet.IssueID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.confirmed || pkt.DestinationID != self {
		return packet.IssueID{}, false
	}

	suggested, known := p.issued[pkt.Timestamp]
	if !known {
		taken := p.topology.TakenIDs()
		suggested = p.highestKnownIDUnsafe(taken) + 1
		p.issued[pkt.Timestamp] = suggested
	}

	taken := p.topology.TakenIDs()
	alreadyTaken := make([]packet.NodeID, 0, len(taken))
	for id := range taken {
		alreadyTaken = append(alreadyTaken, id)
	}

	return packet.IssueID{
		SenderID:     self,
		SuggestedID:  suggested,
		Timestamp:    pkt.Timestamp,
		AlreadyTaken: alreadyTaken,
	}, true
}
