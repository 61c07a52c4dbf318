package packet

import "fmt"

// DataAck confirms receipt of one DATA packet, identified by its (source,
// sequence) pair. Unlike every other kind, its sender id is packed into the
// low nibble of byte 0 rather than byte 1 — preserved here even though it
// looks irregular, because it is part of the wire format.
type DataAck struct {
	SenderID NodeID
	SourceID NodeID
	Sequence uint8
}

var _ Packet = DataAck{}

func (p DataAck) Kind() Kind     { return KindDataAck }
func (p DataAck) Sender() NodeID { return p.SenderID }

func (p DataAck) String() string {
	return fmt.Sprintf("DATA_ACK; Sender ID: %d; Source ID: %d; SEQ: %d", p.SenderID, p.SourceID, p.Sequence)
}

func (p DataAck) Encode() []byte {
	buf := make([]byte, ShortFrame)
	buf[0] = toByte(uint8(KindDataAck), uint8(p.SenderID))
	buf[1] = toByte(uint8(p.SourceID), p.Sequence)
	return buf
}

// IsAckOf is always false: DataAck is itself the acknowledgement, it never
// awaits one.
func (p DataAck) IsAckOf(other Packet) bool { return false }

func decodeDataAck(buf []byte) (Packet, error) {
	if err := requireLen(buf, ShortFrame, KindDataAck); err != nil {
		return nil, err
	}
	_, senderID := splitByte(buf[0])
	sourceID, sequence := splitByte(buf[1])
	return DataAck{SenderID: NodeID(senderID), SourceID: NodeID(sourceID), Sequence: sequence}, nil
}
