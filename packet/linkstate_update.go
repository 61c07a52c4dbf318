package packet

import "fmt"

// LinkStateUpdate carries one node's neighbor list, flooded through the
// network to let every node build a view of the topology. Forwarders
// decrement TTL and rewrite SenderID as they relay it; SourceID and Sequence
// never change in flight.
type LinkStateUpdate struct {
	SenderID    NodeID
	SourceID    NodeID
	Sequence    uint8
	TTL         uint8
	NeighborIDs []NodeID
}

var _ Packet = LinkStateUpdate{}

func (p LinkStateUpdate) Kind() Kind     { return KindLinkStateUpdate }
func (p LinkStateUpdate) Sender() NodeID { return p.SenderID }

func (p LinkStateUpdate) String() string {
	return fmt.Sprintf("LINK_STATE_UPDATE; Sender ID: %d; Source ID: %d; SEQ: %d; NEIGHBORS: %v",
		p.SenderID, p.SourceID, p.Sequence, p.NeighborIDs)
}

func (p LinkStateUpdate) Encode() []byte {
	buf := make([]byte, LongFrame)
	buf[0] = toByte(uint8(KindLinkStateUpdate), 0)
	buf[1] = toByte(uint8(p.SenderID), uint8(p.SourceID))
	buf[2] = toByte(p.Sequence, p.TTL)

	for i, off := 0, 3; i < len(p.NeighborIDs); i += 2 {
		var hi, lo uint8
		hi = uint8(p.NeighborIDs[i])
		if i+1 < len(p.NeighborIDs) {
			lo = uint8(p.NeighborIDs[i+1])
		}
		buf[off] = toByte(hi, lo)
		off++
	}
	return buf
}

func (p LinkStateUpdate) IsAckOf(other Packet) bool {
	o, ok := other.(LinkStateUpdate)
	if !ok {
		return false
	}
	return o.Sequence == p.Sequence && o.SourceID == p.SourceID
}

func decodeLinkStateUpdate(buf []byte) (Packet, error) {
	if err := requireLen(buf, LongFrame, KindLinkStateUpdate); err != nil {
		return nil, err
	}

	senderID, sourceID := splitByte(buf[1])
	sequence, ttl := splitByte(buf[2])

	var neighbors []NodeID
	for i := 3; i < LongFrame; i++ {
		hi, lo := splitByte(buf[i])
		if hi == 0 {
			break
		}
		neighbors = append(neighbors, NodeID(hi))
		if lo == 0 {
			break
		}
		neighbors = append(neighbors, NodeID(lo))
	}

	return LinkStateUpdate{
		SenderID:    NodeID(senderID),
		SourceID:    NodeID(sourceID),
		Sequence:    sequence,
		TTL:         ttl,
		NeighborIDs: neighbors,
	}, nil
}
