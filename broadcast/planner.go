// Package broadcast computes, for a given source and topology snapshot,
// which nodes should forward a flood and to whom — a greedy minimum
// forwarder set cover over the known link states.
package broadcast

import (
	"sort"

	"github.com/meshchat/node/packet"
	"github.com/meshchat/node/topology"
)

// GetTransmitters returns a mapping forwarder -> set of receivers that,
// together, deliver a message originated by source to every other node
// present in linkStates. It is a pure function of its inputs.
//
// The algorithm is a greedy set cover: at each step it picks, among the
// current candidate transmitters, the one whose neighbor set intersects the
// still-uncovered receivers the most, breaking ties by the higher NodeId.
// The result is deterministic but not guaranteed minimum.
func GetTransmitters(linkStates map[packet.NodeID]topology.LinkState, source packet.NodeID) map[packet.NodeID]map[packet.NodeID]struct{} {
	transmitters := make(map[packet.NodeID]map[packet.NodeID]struct{})

	leftReceivers := make(map[packet.NodeID]struct{}, len(linkStates))
	for id := range linkStates {
		if id != source {
			leftReceivers[id] = struct{}{}
		}
	}

	candidates := map[packet.NodeID]struct{}{source: {}}

	for len(leftReceivers) > 0 {
		winner, receivers, found := bestTransmitter(linkStates, candidates, leftReceivers)
		if !found || len(receivers) == 0 {
			// Either no remaining candidate has a known link state, or
			// every candidate that does is already exhausted of overlap
			// with leftReceivers: the rest is unreachable from what we've
			// discovered so far, so there's nothing more to cover.
			break
		}
		ls := linkStates[winner]

		transmitters[winner] = receivers
		for r := range receivers {
			delete(leftReceivers, r)
		}

		for neighbor := range ls.NeighborIDs {
			if _, already := transmitters[neighbor]; !already {
				candidates[neighbor] = struct{}{}
			}
		}
	}

	return transmitters
}

// bestTransmitter finds, among candidates, the one whose neighbor set
// intersects leftReceivers the most, breaking ties by higher NodeId. A
// candidate with no known link state is skipped; if no candidate has one,
// the third result is false and no transmitter is returned.
func bestTransmitter(
	linkStates map[packet.NodeID]topology.LinkState,
	candidates map[packet.NodeID]struct{},
	leftReceivers map[packet.NodeID]struct{},
) (packet.NodeID, map[packet.NodeID]struct{}, bool) {
	ordered := make([]packet.NodeID, 0, len(candidates))
	for c := range candidates {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	var best packet.NodeID
	var bestReceivers map[packet.NodeID]struct{}
	found := false

	for _, candidate := range ordered {
		ls, ok := linkStates[candidate]
		if !ok {
			continue
		}

		receivers := make(map[packet.NodeID]struct{})
		for n := range ls.NeighborIDs {
			if _, wanted := leftReceivers[n]; wanted {
				receivers[n] = struct{}{}
			}
		}

		if !found || len(receivers) > len(bestReceivers) || (len(receivers) == len(bestReceivers) && candidate > best) {
			best = candidate
			bestReceivers = receivers
			found = true
		}
	}

	if !found {
		return 0, nil, false
	}
	return best, bestReceivers, true
}
