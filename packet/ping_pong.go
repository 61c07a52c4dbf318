package packet

import "fmt"

// PingPong probes whether a node is within transmission range. A PING with
// Pong false invites a PONG (Pong true) from anyone who hears it; either
// direction satisfies any outstanding liveness check, hence IsAckOf always
// returns true.
type PingPong struct {
	SenderID NodeID
	Pong     bool
}

var _ Packet = PingPong{}

func (p PingPong) Kind() Kind     { return KindPingPong }
func (p PingPong) Sender() NodeID { return p.SenderID }

func (p PingPong) String() string {
	verb := "PING"
	if p.Pong {
		verb = "PONG"
	}
	return fmt.Sprintf("%s; Source ID: %d", verb, p.SenderID)
}

func (p PingPong) Encode() []byte {
	var flags uint8
	if p.Pong {
		flags = 1
	}
	buf := make([]byte, ShortFrame)
	buf[0] = toByte(uint8(KindPingPong), flags)
	buf[1] = toByte(uint8(p.SenderID), 0)
	return buf
}

func (p PingPong) IsAckOf(other Packet) bool {
	return true
}

func decodePingPong(buf []byte, flags uint8) (Packet, error) {
	if err := requireLen(buf, ShortFrame, KindPingPong); err != nil {
		return nil, err
	}
	sender, _ := splitByte(buf[1])
	return PingPong{SenderID: NodeID(sender), Pong: flags&1 == 1}, nil
}
