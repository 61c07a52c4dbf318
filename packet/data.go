package packet

import "fmt"

// PayloadSize is the number of payload bytes a single DATA packet carries:
// the 32-byte frame minus its 3-byte header.
const PayloadSize = LongFrame - 3

// Data carries one chunk of a longer message. DestinationID names the next
// hop expected to acknowledge it (0 for a flood with no single acker);
// SourceID is the session originator and never changes across hops.
type Data struct {
	DestinationID NodeID
	SenderID      NodeID
	SourceID      NodeID
	Sequence      uint8
	Payload       [PayloadSize]byte
}

var _ Packet = Data{}

func (p Data) Kind() Kind     { return KindData }
func (p Data) Sender() NodeID { return p.SenderID }

func (p Data) String() string {
	return fmt.Sprintf("DATA; Sender ID: %d; Source ID: %d; SEQ: %d; Destination ID: %d",
		p.SenderID, p.SourceID, p.Sequence, p.DestinationID)
}

func (p Data) Encode() []byte {
	buf := make([]byte, LongFrame)
	buf[0] = toByte(uint8(KindData), 0)
	buf[1] = toByte(uint8(p.SenderID), uint8(p.SourceID))
	buf[2] = toByte(uint8(p.DestinationID), p.Sequence)
	copy(buf[3:], p.Payload[:])
	return buf
}

func (p Data) IsAckOf(other Packet) bool {
	o, ok := other.(DataAck)
	if !ok {
		return false
	}
	return o.SourceID == p.SourceID && o.Sequence == p.Sequence
}

func decodeData(buf []byte) (Packet, error) {
	if err := requireLen(buf, LongFrame, KindData); err != nil {
		return nil, err
	}
	sender, source := splitByte(buf[1])
	dest, sequence := splitByte(buf[2])

	var payload [PayloadSize]byte
	copy(payload[:], buf[3:LongFrame])

	return Data{
		DestinationID: NodeID(dest),
		SenderID:      NodeID(sender),
		SourceID:      NodeID(source),
		Sequence:      sequence,
		Payload:       payload,
	}, nil
}
