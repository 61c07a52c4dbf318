package packet

import "fmt"

// SessionUpdate opens (or re-announces) a multi-packet transmission session.
// It is relayed hop by hop exactly like DATA, with SenderID rewritten at each
// forwarder while SourceID names the session's originator.
type SessionUpdate struct {
	SenderID    NodeID
	SourceID    NodeID
	PacketCount uint8
}

var _ Packet = SessionUpdate{}

func (p SessionUpdate) Kind() Kind     { return KindSessionUpdate }
func (p SessionUpdate) Sender() NodeID { return p.SenderID }

func (p SessionUpdate) String() string {
	return fmt.Sprintf("SESSION_UPDATE; Sender ID: %d; Source ID: %d; Packet count: %d",
		p.SenderID, p.SourceID, p.PacketCount)
}

func (p SessionUpdate) Encode() []byte {
	buf := make([]byte, ShortFrame)
	buf[0] = toByte(uint8(KindSessionUpdate), p.PacketCount)
	buf[1] = toByte(uint8(p.SenderID), uint8(p.SourceID))
	return buf
}

func (p SessionUpdate) IsAckOf(other Packet) bool {
	o, ok := other.(SessionUpdate)
	if !ok {
		return false
	}
	return o.SourceID == p.SourceID
}

func decodeSessionUpdate(buf []byte) (Packet, error) {
	if err := requireLen(buf, ShortFrame, KindSessionUpdate); err != nil {
		return nil, err
	}
	_, count := splitByte(buf[0])
	sender, source := splitByte(buf[1])
	return SessionUpdate{SenderID: NodeID(sender), SourceID: NodeID(source), PacketCount: count}, nil
}
