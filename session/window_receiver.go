// Package session implements the sliding-window, ack-driven transmission of
// a chunked text message, plus the handshake that sets one up.
package session

import (
	"github.com/meshchat/node/packet"
)

// SeqCount is the size of the modular sequence space DATA packets number
// against.
const SeqCount = 16

// ReceiveWindowSize is the default number of in-flight sequence numbers a
// receiver will buffer ahead of the next expected one.
const ReceiveWindowSize = 4

// SendWindowSize is the default number of unacknowledged sequence numbers a
// transmitter will keep outstanding at once.
const SendWindowSize = 4

// WindowReceiver reassembles a chunked message delivered out of order within
// a bounded window, over a modular sequence space of size seqCount.
type WindowReceiver struct {
	windowSize int
	seqCount   int

	packets []packet.Data
	stored  []bool

	awaitedSeqs map[int]struct{}

	firstAcceptableIndex int
	largestAcceptableSeq int
	lastSeqReceived       int
}

// NewWindowReceiver returns a receiver expecting packetCount total packets,
// with the default window and sequence-space sizes.
func NewWindowReceiver(packetCount uint8) *WindowReceiver {
	return NewWindowReceiverWithWindow(packetCount, ReceiveWindowSize, SeqCount)
}

// NewWindowReceiverWithWindow is NewWindowReceiver with an explicit window
// and sequence-space size, for tests that exercise boundary behavior at
// smaller windows than the package default.
func NewWindowReceiverWithWindow(packetCount uint8, windowSize, seqCount int) *WindowReceiver {
	r := &WindowReceiver{
		windowSize:           windowSize,
		seqCount:             seqCount,
		packets:              make([]packet.Data, packetCount),
		stored:               make([]bool, packetCount),
		awaitedSeqs:          make(map[int]struct{}, windowSize),
		largestAcceptableSeq: windowSize - 1,
		lastSeqReceived:      -1,
	}
	for seq := 0; seq < windowSize; seq++ {
		r.awaitedSeqs[seq] = struct{}{}
	}
	return r
}

// Receive handles one arriving DATA packet, storing it at its window slot if
// it falls within the current receive window. It reports whether the packet
// was stored.
func (r *WindowReceiver) Receive(p packet.Data) bool {
	seq := int(p.Sequence)
	gap := r.gap(seq)
	if gap >= r.windowSize {
		return false
	}

	idx := r.firstAcceptableIndex + gap
	if idx >= len(r.packets) {
		return false
	}

	r.packets[idx] = p
	r.stored[idx] = true
	r.slideOn(seq)
	return true
}

// HasAllPackets reports whether every expected slot has been filled.
func (r *WindowReceiver) HasAllPackets() bool {
	for _, ok := range r.stored {
		if !ok {
			return false
		}
	}
	return true
}

// Packets returns the packets received so far, in arrival-slot order.
func (r *WindowReceiver) Packets() []packet.Data {
	return r.packets
}

// gap returns the distance of seq ahead of the last sequence accepted,
// wrapping through the modular sequence space.
func (r *WindowReceiver) gap(seq int) int {
	gap := seq - r.lastSeqReceived - 1
	if r.lastSeqReceived > seq {
		gap += r.seqCount
	}
	return gap
}

func (r *WindowReceiver) slideOn(receivedSeq int) {
	delete(r.awaitedSeqs, receivedSeq)
	if receivedSeq != r.firstAwaitedSeq() {
		return
	}

	for r.lastSeqReceived != r.largestAcceptableSeq {
		seq := r.firstAwaitedSeq()
		if _, stillAwaited := r.awaitedSeqs[seq]; stillAwaited {
			break
		}
		r.lastSeqReceived = seq
		r.awaitedSeqs[(seq+r.windowSize)%r.seqCount] = struct{}{}
		r.firstAcceptableIndex++
	}
	r.largestAcceptableSeq = (r.lastSeqReceived + r.windowSize) % r.seqCount
}

func (r *WindowReceiver) firstAwaitedSeq() int {
	return (r.lastSeqReceived + 1) % r.seqCount
}
