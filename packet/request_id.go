package packet

import "fmt"

// RequestID is broadcast by a node with no NodeID yet, asking a specific
// neighbor (already addressed) to issue one. Timestamp is the 24-bit
// millisecond-resolution clock reading at the moment of the request; it lets
// the issuer de-duplicate near-simultaneous requests from the same node.
type RequestID struct {
	DestinationID NodeID
	Timestamp     uint32 // low 24 bits significant
}

var _ Packet = RequestID{}

func (p RequestID) Kind() Kind     { return KindRequestID }
func (p RequestID) Sender() NodeID { return 0 }

func (p RequestID) String() string {
	return fmt.Sprintf("REQUEST_ID; Destination ID: %d; Timestamp: %d", p.DestinationID, p.Timestamp)
}

func (p RequestID) Encode() []byte {
	buf := make([]byte, LongFrame)
	buf[0] = toByte(uint8(KindRequestID), 0)
	buf[1] = toByte(uint8(p.DestinationID), 0)
	putTimestamp24(buf[2:5], p.Timestamp)
	return buf
}

func (p RequestID) IsAckOf(other Packet) bool {
	o, ok := other.(IssueID)
	if !ok {
		return false
	}
	return o.SenderID == p.DestinationID
}

func decodeRequestID(buf []byte) (Packet, error) {
	if err := requireLen(buf, LongFrame, KindRequestID); err != nil {
		return nil, err
	}
	dest, _ := splitByte(buf[1])
	return RequestID{DestinationID: NodeID(dest), Timestamp: getTimestamp24(buf[2:5])}, nil
}

// putTimestamp24 writes the low 24 bits of ts into dst (3 bytes, big-endian),
// mirroring the original Java packet's raw byte-array timestamp field.
func putTimestamp24(dst []byte, ts uint32) {
	dst[0] = byte(ts >> 16)
	dst[1] = byte(ts >> 8)
	dst[2] = byte(ts)
}

func getTimestamp24(src []byte) uint32 {
	return uint32(src[0])<<16 | uint32(src[1])<<8 | uint32(src[2])
}
