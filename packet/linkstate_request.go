package packet

import "fmt"

// LinkStateRequest asks a specific neighbor to resend the link state it
// holds for a given source node. It carries no sender id of its own; it is
// satisfied by a LinkStateUpdate whose Sender matches DestinationID.
type LinkStateRequest struct {
	DestinationID NodeID
	SourceID      NodeID
}

var _ Packet = LinkStateRequest{}

func (p LinkStateRequest) Kind() Kind     { return KindLinkStateRequest }
func (p LinkStateRequest) Sender() NodeID { return 0 }

func (p LinkStateRequest) String() string {
	return fmt.Sprintf("LINK_STATE_REQUEST; Source ID: %d; Destination ID: %d", p.SourceID, p.DestinationID)
}

func (p LinkStateRequest) Encode() []byte {
	buf := make([]byte, ShortFrame)
	buf[0] = toByte(uint8(KindLinkStateRequest), 0)
	buf[1] = toByte(uint8(p.DestinationID), uint8(p.SourceID))
	return buf
}

func (p LinkStateRequest) IsAckOf(other Packet) bool {
	o, ok := other.(LinkStateUpdate)
	if !ok {
		return false
	}
	return o.SourceID == p.SourceID && o.SenderID == p.DestinationID
}

func decodeLinkStateRequest(buf []byte) (Packet, error) {
	if err := requireLen(buf, ShortFrame, KindLinkStateRequest); err != nil {
		return nil, err
	}
	dest, source := splitByte(buf[1])
	return LinkStateRequest{DestinationID: NodeID(dest), SourceID: NodeID(source)}, nil
}
