package session

import (
	"context"
	"sync"
	"time"

	"github.com/meshchat/node/packet"
)

// RetransmissionAttempts is how many times, first send included, a single
// DATA packet is sent to receivers that haven't acked it yet.
const RetransmissionAttempts = 2

// TimeoutPerReceiver scales the per-packet reliable-send timeout by the
// number of receivers still owed an ack.
const TimeoutPerReceiver = 1000 * time.Millisecond

// ReliableSender is the subset of channel-arbiter behavior a transmitter
// needs: a synchronous reliable send that reports which receivers never
// acknowledged.
type ReliableSender interface {
	SendReliableAndWait(ctx context.Context, pkt packet.Packet, minDelay, maxDelay time.Duration, attempts int, timeout time.Duration, expectedAcks map[packet.NodeID]struct{}) map[packet.NodeID]struct{}
}

// WindowTransmitter drives one node's outgoing side of a chunked message,
// keeping SendWindowSize packets in flight and retransmitting to receivers
// that fail to acknowledge.
type WindowTransmitter struct {
	sender ReliableSender

	mu               sync.Mutex
	freeSendWindow   *sync.Cond
	receivedAllAcks  *sync.Cond

	seqCount int

	awaitedAcks     map[uint8]map[packet.NodeID]struct{}
	leftReceivers   map[packet.NodeID]struct{}
	sentAllPackets  bool
	lastAckReceived int
	lastSequenceSent int

	wg sync.WaitGroup
}

// NewWindowTransmitter returns a transmitter that will send to receivers
// using sender.
func NewWindowTransmitter(sender ReliableSender, receivers map[packet.NodeID]struct{}) *WindowTransmitter {
	t := &WindowTransmitter{
		sender:          sender,
		seqCount:        SeqCount,
		awaitedAcks:     make(map[uint8]map[packet.NodeID]struct{}),
		leftReceivers:   copyReceivers(receivers),
		lastAckReceived: SeqCount - 1,
	}
	t.freeSendWindow = sync.NewCond(&t.mu)
	t.receivedAllAcks = sync.NewCond(&t.mu)
	return t
}

// Transmit sends every packet in order, respecting the send window, and
// blocks until every outstanding ack is resolved or a 5 second grace period
// elapses. It returns once transmission is complete or has stalled.
func (t *WindowTransmitter) Transmit(ctx context.Context, packets []packet.Data) {
	for _, p := range packets {
		if !t.awaitFreeWindowSpace(ctx) {
			return
		}
		t.sendDataPacket(ctx, p)
	}

	t.mu.Lock()
	t.sentAllPackets = true
	t.mu.Unlock()

	t.awaitLastAcks()
	t.wg.Wait()
}

func (t *WindowTransmitter) awaitLastAcks() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.awaitedAcks) == 0 {
		return
	}

	done := make(chan struct{})
	go func() {
		t.mu.Lock()
		for len(t.awaitedAcks) > 0 {
			t.receivedAllAcks.Wait()
		}
		t.mu.Unlock()
		close(done)
	}()

	t.mu.Unlock()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	t.mu.Lock()
}

func (t *WindowTransmitter) sendDataPacket(ctx context.Context, p packet.Data) {
	t.mu.Lock()
	t.awaitedAcks[p.Sequence] = copyReceivers(t.leftReceivers)
	t.lastSequenceSent = int(p.Sequence)
	receivers := copyReceivers(t.leftReceivers)
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		timeout := TimeoutPerReceiver * time.Duration(len(receivers))
		lost := t.sender.SendReliableAndWait(ctx, p, 500*time.Millisecond, 1000*time.Millisecond,
			RetransmissionAttempts, timeout, receivers)
		if len(lost) == 0 {
			return
		}

		t.mu.Lock()
		for id := range lost {
			delete(t.leftReceivers, id)
		}
		t.mu.Unlock()
		t.handleDataAck(p.Sequence) // forcefully acknowledge a packet nobody left will ack
	}()
}

// ReceiveAck records an ack from senderID for sequence seq. Once every
// currently-left receiver has acked it, the sequence is resolved.
func (t *WindowTransmitter) ReceiveAck(senderID packet.NodeID, seq uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()

	left, ok := t.awaitedAcks[seq]
	if !ok {
		return
	}
	delete(left, senderID)
	if len(left) == 0 {
		t.handleDataAckLocked(seq)
	}
}

func (t *WindowTransmitter) handleDataAck(seq uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handleDataAckLocked(seq)
}

func (t *WindowTransmitter) handleDataAckLocked(seq uint8) {
	delete(t.awaitedAcks, seq)
	if t.sentAllPackets && len(t.awaitedAcks) == 0 {
		t.receivedAllAcks.Broadcast()
		return
	}
	if int(seq) == (t.lastAckReceived+1)%t.seqCount {
		t.advanceLastAckReceivedLocked()
		t.freeSendWindow.Broadcast()
	}
}

func (t *WindowTransmitter) advanceLastAckReceivedLocked() {
	for t.lastAckReceived != t.lastSequenceSent {
		seq := (t.lastAckReceived + 1) % t.seqCount
		if _, stillAwaited := t.awaitedAcks[uint8(seq)]; stillAwaited {
			break
		}
		t.lastAckReceived = seq
	}
}

// awaitFreeWindowSpace blocks until fewer than SendWindowSize sequences are
// outstanding, or gives up after 20 seconds (matching awaitFreeWindowSpace's
// timed Condition.await in the original transmitter).
func (t *WindowTransmitter) awaitFreeWindowSpace(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.awaitingAckCountLocked() < SendWindowSize {
		return true
	}

	timedOut := false
	timer := time.AfterFunc(20*time.Second, func() {
		t.mu.Lock()
		timedOut = true
		t.freeSendWindow.Broadcast()
		t.mu.Unlock()
	})
	defer timer.Stop()

	for t.awaitingAckCountLocked() >= SendWindowSize && !timedOut {
		t.freeSendWindow.Wait()
	}
	return !timedOut
}

func (t *WindowTransmitter) awaitingAckCountLocked() int {
	return (t.lastSequenceSent - t.lastAckReceived + t.seqCount) % t.seqCount
}

func copyReceivers(receivers map[packet.NodeID]struct{}) map[packet.NodeID]struct{} {
	out := make(map[packet.NodeID]struct{}, len(receivers))
	for id := range receivers {
		out[id] = struct{}{}
	}
	return out
}
