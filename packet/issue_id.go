package packet

import "fmt"

// IssueID answers a RequestID (or re-announces a previously issued one) with
// a suggested NodeID and the set of ids already known to be taken, so the
// requester can immediately reject a colliding suggestion from another
// issuer without a further round trip.
type IssueID struct {
	SenderID     NodeID // the issuing node, packed where RequestAddress's sender would be
	SuggestedID  NodeID
	Timestamp    uint32 // echoes the RequestID's timestamp this answers
	AlreadyTaken []NodeID
}

var _ Packet = IssueID{}

func (p IssueID) Kind() Kind     { return KindIssueID }
func (p IssueID) Sender() NodeID { return p.SenderID }

func (p IssueID) String() string {
	return fmt.Sprintf("ISSUE_ID; Sender ID: %d; Suggested ID: %d; Taken: %v", p.SenderID, p.SuggestedID, p.AlreadyTaken)
}

func (p IssueID) Encode() []byte {
	buf := make([]byte, LongFrame)
	buf[0] = toByte(uint8(KindIssueID), 0)
	buf[1] = toByte(uint8(p.SenderID), uint8(p.SuggestedID))
	putTimestamp24(buf[2:5], p.Timestamp)

	for i, off := 0, 5; i < len(p.AlreadyTaken); i += 2 {
		var hi, lo uint8
		hi = uint8(p.AlreadyTaken[i])
		if i+1 < len(p.AlreadyTaken) {
			lo = uint8(p.AlreadyTaken[i+1])
		}
		buf[off] = toByte(hi, lo)
		off++
	}
	return buf
}

// IsAckOf is always false: IssueID is itself satisfies a RequestID, it never
// awaits one.
func (p IssueID) IsAckOf(other Packet) bool { return false }

func decodeIssueID(buf []byte) (Packet, error) {
	if err := requireLen(buf, LongFrame, KindIssueID); err != nil {
		return nil, err
	}

	sender, suggested := splitByte(buf[1])
	ts := getTimestamp24(buf[2:5])

	var taken []NodeID
	for i := 5; i < LongFrame; i++ {
		hi, lo := splitByte(buf[i])
		if hi == 0 {
			break
		}
		taken = append(taken, NodeID(hi))
		if lo == 0 {
			break
		}
		taken = append(taken, NodeID(lo))
	}

	return IssueID{
		SenderID:     NodeID(sender),
		SuggestedID:  NodeID(suggested),
		Timestamp:    ts,
		AlreadyTaken: taken,
	}, nil
}
