// Package topology holds the node's view of network state: its own
// identity, one-hop neighbors, known occupied ids, and the link states
// gathered from every other node in the network.
package topology

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/meshchat/node/packet"
)

// LinkState is one node's self-reported neighbor list, versioned by a
// monotonically increasing sequence number. Older versions are discarded by
// the store.
type LinkState struct {
	NodeID      packet.NodeID
	Sequence    uint8
	NeighborIDs map[packet.NodeID]struct{}
}

func newLinkState(nodeID packet.NodeID, sequence uint8, neighbors []packet.NodeID) LinkState {
	set := make(map[packet.NodeID]struct{}, len(neighbors))
	for _, n := range neighbors {
		set[n] = struct{}{}
	}
	return LinkState{NodeID: nodeID, Sequence: sequence, NeighborIDs: set}
}

// copy returns a deep copy so callers never alias the store's internal map.
func (ls LinkState) copy() LinkState {
	neighbors := make(map[packet.NodeID]struct{}, len(ls.NeighborIDs))
	for n := range ls.NeighborIDs {
		neighbors[n] = struct{}{}
	}
	return LinkState{NodeID: ls.NodeID, Sequence: ls.Sequence, NeighborIDs: neighbors}
}

// NeighborList returns the link state's neighbors as a slice, in ascending
// id order, suitable for wire encoding.
func (ls LinkState) NeighborList() []packet.NodeID {
	out := make([]packet.NodeID, 0, len(ls.NeighborIDs))
	for n := range ls.NeighborIDs {
		out = append(out, n)
	}
	sortNodeIDs(out)
	return out
}

// Store is the process-wide topology state owned by the controller. All
// mutation is expected to happen under the controller's own lock; the link
// state map additionally carries its own RWMutex so read-only consumers
// (the broadcast planner) never need to coordinate with the controller.
type Store struct {
	mu sync.Mutex

	selfID    packet.NodeID
	neighbors map[packet.NodeID]struct{}
	takenIDs  map[packet.NodeID]struct{}
	state     State

	lsMu       sync.RWMutex
	linkStates map[packet.NodeID]LinkState
}

// State is a node's position in the join lifecycle.
type State int

const (
	FindingNeighbors State = iota
	AssigningID
	PullingTopology
	ReadyToSend
)

func (s State) String() string {
	switch s {
	case FindingNeighbors:
		return "FINDING_NEIGHBORS"
	case AssigningID:
		return "ASSIGNING_ID"
	case PullingTopology:
		return "PULLING_TOPOLOGY"
	case ReadyToSend:
		return "READY_TO_SEND"
	default:
		return "UNKNOWN"
	}
}

// State returns the node's current lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the node's lifecycle state.
func (s *Store) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// New returns an empty topology store.
func New() *Store {
	return &Store{
		neighbors:  make(map[packet.NodeID]struct{}),
		takenIDs:   make(map[packet.NodeID]struct{}),
		linkStates: make(map[packet.NodeID]LinkState),
	}
}

// SelfID returns the node's own id, 0 before assignment completes.
func (s *Store) SelfID() packet.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// SetSelfID assigns the node's own id and seeds its link state at sequence
// 0 with the neighbors already known. Mirrors NodeLinkState's setNodeId.
func (s *Store) SetSelfID(id packet.NodeID) {
	s.mu.Lock()
	s.selfID = id
	neighbors := s.neighborSliceUnsafe()
	s.mu.Unlock()

	s.lsMu.Lock()
	s.linkStates[id] = newLinkState(id, 0, neighbors)
	s.lsMu.Unlock()
}

// AddNeighbor records a one-hop neighbor. It reports whether the neighbor
// was newly observed (the caller uses this to decide whether the topology
// changed and a link-state update is owed).
func (s *Store) AddNeighbor(id packet.NodeID) bool {
	if id == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.neighbors[id]; ok {
		return false
	}
	s.neighbors[id] = struct{}{}
	return true
}

// RemoveNeighbors drops the given ids from the neighbor set.
func (s *Store) RemoveNeighbors(ids map[packet.NodeID]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range ids {
		delete(s.neighbors, id)
	}
}

// Neighbors returns a snapshot of the one-hop neighbor set.
func (s *Store) Neighbors() map[packet.NodeID]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyIDSet(s.neighbors)
}

// MarkTaken records id as occupied somewhere in the network.
func (s *Store) MarkTaken(id packet.NodeID) {
	if id == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.takenIDs[id] = struct{}{}
}

// TakenIDs returns a snapshot of every id known to be occupied.
func (s *Store) TakenIDs() map[packet.NodeID]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyIDSet(s.takenIDs)
}

// LinkState returns a copy of the stored link state for id, and whether one
// is known at all.
func (s *Store) LinkState(id packet.NodeID) (LinkState, bool) {
	s.lsMu.RLock()
	defer s.lsMu.RUnlock()

	ls, ok := s.linkStates[id]
	if !ok {
		return LinkState{}, false
	}
	return ls.copy(), true
}

// LinkStates returns a copy of the entire link-state map, safe for the
// broadcast planner to iterate without coordinating with the controller.
func (s *Store) LinkStates() map[packet.NodeID]LinkState {
	s.lsMu.RLock()
	defer s.lsMu.RUnlock()

	out := make(map[packet.NodeID]LinkState, len(s.linkStates))
	for id, ls := range s.linkStates {
		out[id] = ls.copy()
	}
	return out
}

// HasFullTopology reports whether every taken id has a known link state.
func (s *Store) HasFullTopology() bool {
	s.mu.Lock()
	taken := copyIDSet(s.takenIDs)
	s.mu.Unlock()

	s.lsMu.RLock()
	defer s.lsMu.RUnlock()

	for id := range taken {
		if _, ok := s.linkStates[id]; !ok {
			return false
		}
	}
	return true
}

// UpdateLinkState applies an incoming link state following LinkStateProtocol's
// updateLinkState: it is only accepted if there is no stored state for the
// source, or the new one has a strictly greater sequence and a different
// neighbor set. Accepting the update also fixes up every other stored link
// state's membership of sourceID as a neighbor, and adds this node's own id
// to the incoming neighbor set if this node already has sourceID as a
// one-hop neighbor.
// Returns whether the update was accepted.
func (s *Store) UpdateLinkState(incoming LinkState) bool {
	s.mu.Lock()
	selfID := s.selfID
	_, selfHasAsNeighbor := s.neighbors[incoming.NodeID]
	s.mu.Unlock()

	s.lsMu.Lock()
	defer s.lsMu.Unlock()

	old, hadOld := s.linkStates[incoming.NodeID]
	if hadOld {
		sameNeighbors := sameNeighborSet(old.NeighborIDs, incoming.NeighborIDs)
		newerSequence := sequenceGreater(old.Sequence, incoming.Sequence)
		if sameNeighbors || !newerSequence {
			return false
		}
	}

	incoming = incoming.copy()
	if selfHasAsNeighbor && selfID > 0 {
		incoming.NeighborIDs[selfID] = struct{}{}
	}

	for id, ls := range s.linkStates {
		if id == incoming.NodeID {
			continue
		}
		if _, member := incoming.NeighborIDs[ls.NodeID]; member {
			ls.NeighborIDs[incoming.NodeID] = struct{}{}
		} else {
			delete(ls.NeighborIDs, incoming.NodeID)
		}
		s.linkStates[id] = ls
	}

	s.linkStates[incoming.NodeID] = incoming
	return true
}

// BumpOwnSequence increments and returns the node's own link state sequence,
// first syncing its neighbor set from the live Neighbors().
func (s *Store) BumpOwnSequence() LinkState {
	s.mu.Lock()
	selfID := s.selfID
	neighbors := s.neighborSliceUnsafe()
	s.mu.Unlock()

	s.lsMu.Lock()
	defer s.lsMu.Unlock()

	ls := s.linkStates[selfID]
	ls.Sequence++
	ls.NeighborIDs = make(map[packet.NodeID]struct{}, len(neighbors))
	for _, n := range neighbors {
		ls.NeighborIDs[n] = struct{}{}
	}
	ls.NodeID = selfID
	s.linkStates[selfID] = ls
	return ls.copy()
}

func (s *Store) neighborSliceUnsafe() []packet.NodeID {
	out := make([]packet.NodeID, 0, len(s.neighbors))
	for n := range s.neighbors {
		out = append(out, n)
	}
	return out
}

func copyIDSet(in map[packet.NodeID]struct{}) map[packet.NodeID]struct{} {
	out := make(map[packet.NodeID]struct{}, len(in))
	for id := range in {
		out[id] = struct{}{}
	}
	return out
}

func sameNeighborSet(a, b map[packet.NodeID]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

// sequenceGreater compares two mod-256 sequence counters, treating a wrap as
// strictly greater than the value it wrapped from (the link state protocol
// only ever increments by one at a time, so a one-step-back reading always
// means wraparound rather than a stale out-of-order delivery).
func sequenceGreater(oldSeq, newSeq uint8) bool {
	return uint8(newSeq-oldSeq) != 0 && uint8(newSeq-oldSeq) < 128
}

// DisplayGraph writes the known network as a graphviz digraph: one edge per
// neighbor relationship in every stored link state, or this node's own
// one-hop neighbors when no link state is stored at all.
func (s *Store) DisplayGraph(out io.Writer) {
	s.mu.Lock()
	selfID := s.selfID
	neighbors := s.neighborSliceUnsafe()
	s.mu.Unlock()

	linkStates := s.LinkStates()

	fmt.Fprint(out, "digraph topology {\n")
	fmt.Fprintf(out, "labelloc=\"t\";\nlabel = <Network topology as seen by node %d <font point-size='10'><br/>(generated %s)</font>>;\n\n",
		selfID, time.Now().Format("2 Jan 06 - 15:04:05"))
	fmt.Fprint(out, "graph [fontname = \"helvetica\"];\nnode [fontname = \"helvetica\"];\nedge [fontname = \"helvetica\"];\n\n")

	if len(linkStates) == 0 {
		for _, n := range neighbors {
			fmt.Fprintf(out, "\"%d\" -> \"%d\";\n", selfID, n)
		}
	}

	for _, ls := range linkStates {
		for _, n := range ls.NeighborList() {
			fmt.Fprintf(out, "\"%d\" -> \"%d\";\n", ls.NodeID, n)
		}
	}

	fmt.Fprint(out, "}\n")
}

func sortNodeIDs(ids []packet.NodeID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
