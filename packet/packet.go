// Package packet implements the bit-layout pack/unpack of the eight wire
// packet kinds exchanged between chat nodes, and the text<->DATA-packet
// chunking used by the session layer.
package packet

import (
	"fmt"

	"golang.org/x/xerrors"
)

// NodeID is a 4-bit node identifier in [1..15]. 0 means "unknown/broadcast".
type NodeID uint8

// Kind is the 4-bit high-nibble tag of byte 0 that identifies a packet's wire
// format.
type Kind uint8

const (
	KindLinkStateUpdate  Kind = 1
	KindLinkStateRequest Kind = 2
	KindSessionUpdate    Kind = 3
	KindRequestID        Kind = 4
	KindPingPong         Kind = 5
	KindDataAck          Kind = 6
	KindData             Kind = 7
	KindIssueID          Kind = 8
)

func (k Kind) String() string {
	switch k {
	case KindLinkStateUpdate:
		return "LINK_STATE_UPDATE"
	case KindLinkStateRequest:
		return "LINK_STATE_REQUEST"
	case KindSessionUpdate:
		return "SESSION_UPDATE"
	case KindRequestID:
		return "REQUEST_ID"
	case KindPingPong:
		return "PING_PONG"
	case KindDataAck:
		return "DATA_ACK"
	case KindData:
		return "DATA"
	case KindIssueID:
		return "ISSUE_ID"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// ShortFrame is the wire size, in bytes, of the 2-byte packet kinds. LongFrame
// is the wire size of the 32-byte kinds.
const (
	ShortFrame = 2
	LongFrame  = 32
)

// Packet is implemented by every decoded wire packet. It carries no mutable
// state of its own; fields that the protocol rewrites while forwarding
// (sender id, ttl) are exported fields of the concrete struct, which a
// forwarder sets on its own copy, not through this interface.
type Packet interface {
	// Kind returns the packet's wire-format tag.
	Kind() Kind

	// Sender returns the node that put this packet on the medium most
	// recently. It is 0 for packets that carry no forwarder concept
	// (REQUEST_ID, LINK_STATE_REQUEST).
	Sender() NodeID

	// Encode returns the wire representation of the packet.
	Encode() []byte

	// IsAckOf reports whether other satisfies this packet as defined by the
	// §4.B isAckOf relation. The relation is asymmetric and is always
	// evaluated from the perspective of the packet awaiting acknowledgement.
	IsAckOf(other Packet) bool

	String() string
}

// toByte merges two nibbles into one byte, high nibble first.
func toByte(hi, lo uint8) byte {
	return byte((hi&0x0f)<<4 | (lo & 0x0f))
}

// splitByte splits a byte into its high and low nibble.
func splitByte(b byte) (hi, lo uint8) {
	return uint8(b>>4) & 0x0f, uint8(b) & 0x0f
}

// Decode inspects the high nibble of buf[0] and dispatches to the matching
// kind's decoder. An unknown tag or a buffer shorter than the kind's minimum
// size returns a typed error; callers (the dispatcher) are expected to log
// and drop on error rather than propagate it across a session boundary.
func Decode(buf []byte) (Packet, error) {
	if len(buf) == 0 {
		return nil, xerrors.Errorf("decode: empty buffer")
	}

	tag, flags := splitByte(buf[0])

	switch Kind(tag) {
	case KindLinkStateUpdate:
		return decodeLinkStateUpdate(buf)
	case KindLinkStateRequest:
		return decodeLinkStateRequest(buf)
	case KindSessionUpdate:
		return decodeSessionUpdate(buf)
	case KindRequestID:
		return decodeRequestID(buf)
	case KindPingPong:
		return decodePingPong(buf, flags)
	case KindDataAck:
		return decodeDataAck(buf)
	case KindData:
		return decodeData(buf)
	case KindIssueID:
		return decodeIssueID(buf)
	default:
		return nil, xerrors.Errorf("decode: unknown packet tag %d", tag)
	}
}

func requireLen(buf []byte, n int, kind Kind) error {
	if len(buf) < n {
		return xerrors.Errorf("decode %s: buffer too short: got %d want >= %d", kind, len(buf), n)
	}
	return nil
}
