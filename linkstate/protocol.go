// Package linkstate implements the flood-and-gap-fill protocol that lets
// every node build a view of the network topology from its neighbors'
// self-reports.
package linkstate

import (
	"context"
	"math/rand"
	"time"

	"github.com/meshchat/node/packet"
	"github.com/meshchat/node/pktlog"
	"github.com/meshchat/node/topology"
	"github.com/rs/zerolog"
)

// TimeToLive is the hop budget a freshly originated LINK_STATE_UPDATE
// carries.
const TimeToLive = 3

// InactivityPeriod is the neighbor liveness check window. Self-traffic pings
// use the shorter pingInterval.
const InactivityPeriod = 15 * time.Second

const pingInterval = 4 * time.Second

// Sender is the subset of the channel arbiter's behavior this protocol
// depends on: scheduling a single best-effort send, or a retried send that
// tracks acknowledgements.
type Sender interface {
	Schedule(pkt packet.Packet, minDelay, maxDelay time.Duration)
	SendReliable(ctx context.Context, pkt packet.Packet, minDelay, maxDelay time.Duration, attempts int, timeout time.Duration, expectedAcks map[packet.NodeID]struct{})
}

// Protocol runs the link-state flood for one node.
type Protocol struct {
	topology *topology.Store
	log      *pktlog.Log
	sender   Sender
	logger   zerolog.Logger
}

// New returns a link-state protocol bound to store, log and sender.
func New(store *topology.Store, log *pktlog.Log, sender Sender, logger zerolog.Logger) *Protocol {
	return &Protocol{topology: store, log: log, sender: sender, logger: logger}
}

// SendUpdate broadcasts this node's current link state to its neighbors
// with an incremented sequence number, at a randomized [600,1000)ms delay.
// If there is nobody to send it to, it is still emitted but with ttl forced
// to 1, matching sendLinkState's behavior for an empty receiver set.
func (p *Protocol) SendUpdate() {
	ls := p.topology.BumpOwnSequence()

	ttl := uint8(TimeToLive)
	if len(ls.NeighborIDs) == 0 {
		ttl = 1
	}

	update := packet.LinkStateUpdate{
		SenderID:    ls.NodeID,
		SourceID:    ls.NodeID,
		Sequence:    ls.Sequence,
		TTL:         ttl,
		NeighborIDs: ls.NeighborList(),
	}
	p.scheduleRandom(update, 600*time.Millisecond, 1000*time.Millisecond)
}

// HandleNeighborActivity records a freshly observed neighbor. If the
// neighbor id was already known to be taken by someone else and this node
// is READY_TO_SEND, the topology has materially changed and an update is
// owed; otherwise the id is simply added to the taken set.
func (p *Protocol) HandleNeighborActivity(neighborID packet.NodeID) {
	if neighborID == 0 {
		return
	}

	isNew := p.topology.AddNeighbor(neighborID)
	if !isNew {
		return
	}

	taken := p.topology.TakenIDs()
	_, wasTaken := taken[neighborID]
	if wasTaken && p.topology.State() == topology.ReadyToSend {
		p.SendUpdate()
	} else {
		p.topology.MarkTaken(neighborID)
	}
}

// PushNetworkTopology sends every stored link state, unsolicited, at a
// short fixed delay — used right after assigning a joining node's id so it
// can populate its topology immediately rather than waiting on floods.
func (p *Protocol) PushNetworkTopology(selfID packet.NodeID) {
	for _, ls := range p.topology.LinkStates() {
		update := packet.LinkStateUpdate{
			SenderID:    selfID,
			SourceID:    ls.NodeID,
			Sequence:    ls.Sequence,
			TTL:         1,
			NeighborIDs: ls.NeighborList(),
		}
		p.sender.Schedule(update, 250*time.Millisecond, 250*time.Millisecond)
	}
}

// PullNetworkTopology waits |takenIds|*3s then requests, directly from
// provider, the link state of every taken id this node still lacks.
func (p *Protocol) PullNetworkTopology(ctx context.Context, provider packet.NodeID) {
	taken := p.topology.TakenIDs()
	wait := time.Duration(len(taken)) * 3 * time.Second

	select {
	case <-ctx.Done():
		return
	case <-time.After(wait):
	}

	for id := range taken {
		if _, ok := p.topology.LinkState(id); ok {
			continue
		}
		request := packet.LinkStateRequest{DestinationID: provider, SourceID: id}
		p.sender.SendReliable(ctx, request, 200*time.Millisecond, 400*time.Millisecond, 3,
			time.Duration(len(p.topology.Neighbors()))*2*time.Second, map[packet.NodeID]struct{}{provider: {}})
	}
}

// HandleRequest serves a LINK_STATE_REQUEST addressed to self by replying
// with the requested source's stored link state, ttl 1.
func (p *Protocol) HandleRequest(self packet.NodeID, req packet.LinkStateRequest) {
	if req.DestinationID != self {
		return
	}
	ls, ok := p.topology.LinkState(req.SourceID)
	if !ok {
		return
	}
	update := packet.LinkStateUpdate{
		SenderID:    self,
		SourceID:    ls.NodeID,
		Sequence:    ls.Sequence,
		TTL:         1,
		NeighborIDs: ls.NeighborList(),
	}
	p.scheduleRandom(update, 200*time.Millisecond, 500*time.Millisecond)
}

// HandleUpdate processes an incoming LINK_STATE_UPDATE: records neighbor
// activity for its sender, ignores self-originated updates, tries to adopt
// the carried link state, and forwards it onward if this node is
// READY_TO_SEND, the ttl still allows it, and the update was actually new.
func (p *Protocol) HandleUpdate(self packet.NodeID, update packet.LinkStateUpdate) {
	p.HandleNeighborActivity(update.SenderID)

	if update.SourceID == self {
		return
	}

	incoming := topology.LinkState{
		NodeID:      update.SourceID,
		Sequence:    update.Sequence,
		NeighborIDs: toSet(update.NeighborIDs),
	}

	adopted := p.topology.UpdateLinkState(incoming)
	if !adopted {
		return
	}

	if p.topology.State() != topology.ReadyToSend || update.TTL <= 1 {
		return
	}

	// The medium is a broadcast bus, so there is no addressed "forward to
	// receivers" — everyone hears every frame. What carries over from the
	// original point-to-point design is the suppression rule: only
	// re-flood if someone who hasn't already heard this link state (via
	// its own neighbor membership) would actually gain from it.
	wouldReachSomeoneNew := p.topology.Neighbors()
	for n := range incoming.NeighborIDs {
		delete(wouldReachSomeoneNew, n)
	}
	delete(wouldReachSomeoneNew, update.SourceID)
	delete(wouldReachSomeoneNew, update.SenderID)
	if len(wouldReachSomeoneNew) == 0 {
		return
	}

	forwarded := update
	forwarded.TTL = update.TTL - 1
	forwarded.SenderID = self
	p.scheduleRandom(forwarded, 600*time.Millisecond, 1000*time.Millisecond)
}

// HasFullTopology reports whether every taken id has a known link state.
func (p *Protocol) HasFullTopology() bool {
	return p.topology.HasFullTopology()
}

// RunLiveness starts the two periodic background loops — idle-channel
// pinging and neighbor-timeout detection — each in its own goroutine, and
// returns immediately. Both loops exit once ctx is cancelled.
func (p *Protocol) RunLiveness(ctx context.Context, self packet.NodeID) {
	go p.runIdlePing(ctx, self)
	go p.runNeighborTimeout(ctx)
}

func (p *Protocol) runIdlePing(ctx context.Context, self packet.NodeID) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.log.HasTrafficWithin(pingInterval) {
				p.scheduleRandom(packet.PingPong{SenderID: self, Pong: true}, 200*time.Millisecond, 500*time.Millisecond)
			}
		}
	}
}

func (p *Protocol) runNeighborTimeout(ctx context.Context) {
	for {
		snapshot := p.topology.Neighbors()

		select {
		case <-ctx.Done():
			return
		case <-time.After(InactivityPeriod):
		}

		ping := packet.PingPong{Pong: false}
		lost := p.log.MissingAcks(ping, snapshot, InactivityPeriod)
		if len(lost) == 0 {
			continue
		}

		p.topology.RemoveNeighbors(lost)
		p.logger.Info().Interface("lost", lost).Msg("dropping inactive neighbors")
		p.SendUpdate()
	}
}

func (p *Protocol) scheduleRandom(pkt packet.Packet, minDelay, maxDelay time.Duration) {
	delay := minDelay
	if maxDelay > minDelay {
		delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
	}
	p.sender.Schedule(pkt, delay, delay)
}

func toSet(ids []packet.NodeID) map[packet.NodeID]struct{} {
	set := make(map[packet.NodeID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
