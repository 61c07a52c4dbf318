package session

import (
	"context"
	"sync"
	"time"

	"github.com/meshchat/node/broadcast"
	"github.com/meshchat/node/packet"
	"github.com/meshchat/node/topology"
	"github.com/rs/zerolog"
)

// sessionAckTimeout is how long StartSession waits for every neighbor to
// echo the SESSION_UPDATE handshake before proceeding best-effort.
const sessionAckTimeout = 5 * time.Second

// transmitDelay lets relays wake up before the sender starts pushing DATA
// packets.
const transmitDelay = 500 * time.Millisecond

// Sender is everything the session protocol needs from the channel arbiter:
// best-effort scheduling and both flavors of reliable send.
type Sender interface {
	Schedule(pkt packet.Packet, minDelay, maxDelay time.Duration)
	SendReliable(ctx context.Context, pkt packet.Packet, minDelay, maxDelay time.Duration, attempts int, timeout time.Duration, expectedAcks map[packet.NodeID]struct{})
	ReliableSender
}

// Protocol handles at most one outgoing session at a time (additional
// requests queue FIFO) and demultiplexes incoming DATA/DATA_ACK/SESSION_UPDATE
// traffic to the right receiver or transmitter.
type Protocol struct {
	topology *topology.Store
	sender   Sender
	logger   zerolog.Logger

	mu              sync.Mutex
	hasSessionAcks  *sync.Cond
	sessionAcks     map[packet.NodeID]struct{}
	inSession       bool
	sendingQueue    [][]packet.Data
	dataReceivers   map[packet.NodeID]*WindowReceiver
	transmitter     *WindowTransmitter
}

// New returns a session protocol bound to store and sender.
func New(store *topology.Store, sender Sender, logger zerolog.Logger) *Protocol {
	p := &Protocol{
		topology:      store,
		sender:        sender,
		logger:        logger,
		sessionAcks:   make(map[packet.NodeID]struct{}),
		dataReceivers: make(map[packet.NodeID]*WindowReceiver),
	}
	p.hasSessionAcks = sync.NewCond(&p.mu)
	return p
}

// HandleUpdate processes an incoming SESSION_UPDATE: a foreign session
// starts a new receiver and relays the handshake onward; an echo of self's
// own session records the acking neighbor.
func (p *Protocol) HandleUpdate(self packet.NodeID, update packet.SessionUpdate) {
	p.mu.Lock()
	foreign := update.SourceID != self
	if foreign {
		p.dataReceivers[update.SourceID] = NewWindowReceiver(update.PacketCount)
	} else if p.inSession {
		p.sessionAcks[update.SenderID] = struct{}{}
		if p.hasAllNeighborAcksLocked() {
			p.hasSessionAcks.Broadcast()
		}
	}
	p.mu.Unlock()

	if foreign {
		p.replyToForeignSession(self, update)
	}
}

func (p *Protocol) hasAllNeighborAcksLocked() bool {
	for id := range p.topology.Neighbors() {
		if _, ok := p.sessionAcks[id]; !ok {
			return false
		}
	}
	return true
}

// SendPackets starts (or queues, if a session is already active) sending
// packets to receivers. When handshake is true a SESSION_UPDATE round trip
// precedes transmission; forwarded multi-hop relays skip it since the
// receivers already know the session is underway.
func (p *Protocol) SendPackets(ctx context.Context, self packet.NodeID, packets []packet.Data, receivers map[packet.NodeID]struct{}, handshake bool) {
	if len(packets) == 0 || len(receivers) == 0 {
		return
	}

	p.mu.Lock()
	if p.inSession {
		p.sendingQueue = append(p.sendingQueue, packets)
		p.mu.Unlock()
		return
	}
	p.inSession = true
	p.mu.Unlock()

	go func() {
		if handshake {
			if !p.startSession(ctx, self, uint8(len(packets)), receivers) {
				p.logger.Warn().Msg("session handshake failed, aborting send")
				p.closeSession()
				return
			}
		}
		p.transmitAfterDelay(ctx, self, packets, receivers)
	}()
}

// HandleDataPacket redirects an incoming DATA packet to the receiver
// tracking its source, schedules a staggered ack, and — once every packet
// has arrived — reassembles, relays onward if this node is a forwarder, and
// returns the reassembled packets to the caller for text decoding.
func (p *Protocol) HandleDataPacket(ctx context.Context, self packet.NodeID, data packet.Data) []packet.Data {
	p.mu.Lock()
	receiver, ok := p.dataReceivers[data.SourceID]
	p.mu.Unlock()
	if !ok || !receiver.Receive(data) {
		return nil
	}

	transmitters := broadcast.GetTransmitters(p.topology.LinkStates(), data.SourceID)
	peers := transmitters[data.SenderID]
	order := 0
	for id := range peers {
		if id < self {
			order++
		}
	}
	delay := time.Duration(order) * 100 * time.Millisecond
	p.sender.Schedule(packet.DataAck{SenderID: self, SourceID: data.SourceID, Sequence: data.Sequence},
		delay, delay+100*time.Millisecond)

	if !receiver.HasAllPackets() {
		return nil
	}

	packets := receiver.Packets()
	p.mu.Lock()
	delete(p.dataReceivers, data.SourceID)
	p.mu.Unlock()

	if forwardTo := transmitters[self]; len(forwardTo) > 0 {
		p.SendPackets(ctx, self, packets, forwardTo, false)
	}
	return packets
}

// HandleDataAck forwards an ack to the active transmitter, if this node is
// the source of the session it acknowledges.
func (p *Protocol) HandleDataAck(self packet.NodeID, ack packet.DataAck) {
	p.mu.Lock()
	transmitter := p.transmitter
	inSession := p.inSession
	p.mu.Unlock()

	if ack.SourceID == self && inSession && transmitter != nil {
		transmitter.ReceiveAck(ack.SenderID, ack.Sequence)
	}
}

func (p *Protocol) startSession(ctx context.Context, self packet.NodeID, packetCount uint8, receivers map[packet.NodeID]struct{}) bool {
	update := packet.SessionUpdate{SenderID: self, SourceID: self, PacketCount: packetCount}
	timeout := time.Duration(len(p.topology.Neighbors())) * time.Second
	p.sender.SendReliable(ctx, update, 200*time.Millisecond, 500*time.Millisecond, 2, timeout, receivers)

	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		for !p.hasAllNeighborAcksLocked() {
			p.hasSessionAcks.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(sessionAckTimeout):
	case <-ctx.Done():
	}

	p.mu.Lock()
	p.sessionAcks = make(map[packet.NodeID]struct{})
	p.mu.Unlock()
	return true
}

func (p *Protocol) transmitAfterDelay(ctx context.Context, self packet.NodeID, packets []packet.Data, receivers map[packet.NodeID]struct{}) {
	select {
	case <-time.After(transmitDelay):
	case <-ctx.Done():
		p.closeSession()
		return
	}

	transmitter := NewWindowTransmitter(p.sender, receivers)
	p.mu.Lock()
	p.transmitter = transmitter
	p.mu.Unlock()

	transmitter.Transmit(ctx, packets)
	p.closeSession()

	next := p.dequeue()
	if next != nil {
		p.SendPackets(ctx, self, next, receivers, true)
	}
}

func (p *Protocol) dequeue() []packet.Data {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sendingQueue) == 0 {
		return nil
	}
	next := p.sendingQueue[0]
	p.sendingQueue = p.sendingQueue[1:]
	return next
}

func (p *Protocol) closeSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inSession = false
	p.transmitter = nil
}

// replyToForeignSession decides whether this node should acknowledge and
// relay a session it did not originate, based on the broadcast planner's
// forwarder assignment for the update's sender.
func (p *Protocol) replyToForeignSession(self packet.NodeID, update packet.SessionUpdate) {
	transmitters := broadcast.GetTransmitters(p.topology.LinkStates(), update.SourceID)
	responders, ok := transmitters[update.SenderID]
	if !ok {
		return
	}
	if _, isResponder := responders[self]; !isResponder {
		return
	}

	update.SenderID = self
	if receivers, forwards := transmitters[self]; forwards && len(receivers) > 0 {
		p.sender.SendReliable(context.Background(), update, 200*time.Millisecond, 500*time.Millisecond, 2, time.Second, receivers)
	} else {
		p.sender.Schedule(update, 200*time.Millisecond, 500*time.Millisecond)
	}
}
