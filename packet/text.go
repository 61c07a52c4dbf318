package packet

// SequenceModulus is the modulus sequence numbers wrap at; it is 16 because
// sequence occupies a single nibble on the wire.
const SequenceModulus = 16

// SplitText chunks a UTF-8 string into DATA packets addressed to destination
// and stamped with senderID/sourceID, padding the final chunk with zero
// bytes. Sequence numbers wrap modulo SequenceModulus.
func SplitText(text string, destinationID, senderID, sourceID NodeID) []Data {
	raw := []byte(text)
	count := (len(raw) + PayloadSize - 1) / PayloadSize
	if count == 0 {
		count = 1
	}

	packets := make([]Data, count)
	var sequence uint8
	for i := 0; i < count; i++ {
		var payload [PayloadSize]byte
		start := i * PayloadSize
		end := start + PayloadSize
		if end > len(raw) {
			end = len(raw)
		}
		copy(payload[:], raw[start:end])

		packets[i] = Data{
			DestinationID: destinationID,
			SenderID:      senderID,
			SourceID:      sourceID,
			Sequence:      sequence,
			Payload:       payload,
		}
		sequence = uint8((int(sequence) + 1) % SequenceModulus)
	}
	return packets
}

// JoinText reassembles a complete, in-order run of DATA packets back into
// text. The final packet's trailing zero bytes are treated as padding and
// stripped; a real payload containing an embedded NUL would be truncated
// there too, matching the original chunker's padding convention.
func JoinText(packets []Data) string {
	if len(packets) == 0 {
		return ""
	}

	last := packets[len(packets)-1].Payload
	lastLen := len(last)
	for i, b := range last {
		if b == 0 {
			lastLen = i
			break
		}
	}

	out := make([]byte, 0, PayloadSize*(len(packets)-1)+lastLen)
	for _, p := range packets[:len(packets)-1] {
		out = append(out, p.Payload[:]...)
	}
	out = append(out, last[:lastLen]...)

	return string(out)
}
