// Package impl implements node.Node: the controller that ties the
// addressing, link-state, and session protocols together behind a single
// dispatch loop and a single chat-facing API.
package impl

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/meshchat/node/addressing"
	"github.com/meshchat/node/arbiter"
	"github.com/meshchat/node/dispatch"
	"github.com/meshchat/node/linkstate"
	"github.com/meshchat/node/node"
	"github.com/meshchat/node/packet"
	"github.com/meshchat/node/pktlog"
	"github.com/meshchat/node/session"
	"github.com/meshchat/node/topology"
	"github.com/meshchat/node/transport"
)

const (
	retransmissionTimeout = 1000 * time.Millisecond
	reliablePingSequence  = 2
	maxDataPackets        = 16
)

// NewNode returns a node.Node wired up per conf. You can change the content
// and location of this function but must not change its signature.
func NewNode(conf node.Configuration) node.Node {
	store := topology.New()
	log := pktlog.New()
	ar := arbiter.New(conf.Socket, log, conf.Logger)

	n := &controller{
		conf:         conf,
		topology:     store,
		log:          log,
		arbiter:      ar,
		addressing:   addressing.New(store, uint32(time.Now().UnixMilli())&0xFFFFFF),
		linkstate:    linkstate.New(store, log, ar, conf.Logger),
		session:      session.New(store, ar, conf.Logger),
		dispatch:     dispatch.New(),
		chatMessages: make(chan node.ChatMessage, 64),
		ready:        make(chan struct{}),
	}
	n.registerHandlers()

	return n
}

// controller implements node.Node.
//
// - implements node.Service
// - implements node.Messenger
type controller struct {
	conf       node.Configuration
	topology   *topology.Store
	log        *pktlog.Log
	arbiter    *arbiter.Arbiter
	addressing *addressing.Protocol
	linkstate  *linkstate.Protocol
	session    *session.Protocol
	dispatch   *dispatch.Registry

	mu           sync.Mutex
	pingSequence int

	ready        chan struct{}
	readyOnce    sync.Once
	chatMessages chan node.ChatMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start implements node.Service.
func (n *controller) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	n.ctx = ctx
	n.cancel = cancel

	n.wg.Add(1)
	go n.recvLoop(ctx)

	n.findNeighborNodes()

	return nil
}

// Stop implements node.Service.
func (n *controller) Stop() error {
	n.cancel()
	n.wg.Wait()
	return n.conf.Socket.Close()
}

func (n *controller) recvLoop(ctx context.Context) {
	defer n.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := n.conf.Socket.Recv(time.Second)
		if errors.Is(err, transport.TimeoutError(0)) {
			continue
		}
		if err != nil {
			n.conf.Logger.Warn().Err(err).Msg("recv failed")
			continue
		}

		n.handleFrame(frame)
	}
}

// handleFrame classifies an inbound frame by its kind and either updates the
// arbiter's view of the medium or decodes and dispatches a packet.
func (n *controller) handleFrame(frame transport.Frame) {
	switch frame.Kind {
	case transport.Free:
		n.arbiter.SetNetworkState(false)
	case transport.Busy, transport.Sending:
		n.arbiter.SetNetworkState(true)
	case transport.DoneSending:
		n.handleFinishSending()
	case transport.Hello, transport.End:
		// medium lifecycle notifications the core has no behavior for.
	case transport.Data, transport.DataShort:
		n.handlePayload(frame.Payload)
	}
}

func (n *controller) handlePayload(payload []byte) {
	pkt, err := packet.Decode(payload)
	if err != nil {
		n.conf.Logger.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	self := n.topology.SelfID()
	if err := n.dispatch.Dispatch(self, pkt); err != nil {
		n.conf.Logger.Warn().Err(err).Msg("dispatch failed")
	}
}

// registerHandlers wires every packet kind to its handler, mirroring
// initPacketHandlers's table.
func (n *controller) registerHandlers() {
	n.dispatch.RegisterHandler(packet.KindLinkStateUpdate, n.handleLinkStateUpdate)
	n.dispatch.RegisterHandler(packet.KindLinkStateRequest, n.handleLinkStateRequest)
	n.dispatch.RegisterHandler(packet.KindSessionUpdate, n.handleSessionUpdate)
	n.dispatch.RegisterHandler(packet.KindRequestID, n.handleRequestID)
	n.dispatch.RegisterHandler(packet.KindIssueID, n.handleIssueID)
	n.dispatch.RegisterHandler(packet.KindPingPong, n.handlePingPong)
	n.dispatch.RegisterHandler(packet.KindDataAck, n.handleDataAck)
	n.dispatch.RegisterHandler(packet.KindData, n.handleData)
	n.dispatch.RegisterNotify(func(pkt packet.Packet) { n.log.Record(pkt) })
}

func (n *controller) handleLinkStateUpdate(self packet.NodeID, pkt packet.Packet) error {
	update := pkt.(packet.LinkStateUpdate)
	n.linkstate.HandleUpdate(self, update)

	if n.topology.State() == topology.PullingTopology && n.linkstate.HasFullTopology() {
		n.setState(topology.ReadyToSend)
		n.linkstate.SendUpdate()
	}

	return nil
}

func (n *controller) handleLinkStateRequest(self packet.NodeID, pkt packet.Packet) error {
	n.linkstate.HandleRequest(self, pkt.(packet.LinkStateRequest))
	return nil
}

func (n *controller) handleSessionUpdate(self packet.NodeID, pkt packet.Packet) error {
	n.session.HandleUpdate(self, pkt.(packet.SessionUpdate))
	return nil
}

func (n *controller) handleRequestID(self packet.NodeID, pkt packet.Packet) error {
	issue, ok := n.addressing.HandleRequestID(self, pkt.(packet.RequestID))
	if !ok {
		return nil
	}
	n.arbiter.Schedule(issue, 200*time.Millisecond, 500*time.Millisecond)
	return nil
}

func (n *controller) handleIssueID(self packet.NodeID, pkt packet.Packet) error {
	accepted := n.addressing.HandleIssueID(pkt.(packet.IssueID))
	if !accepted {
		return nil
	}

	n.setState(topology.PullingTopology)
	provider := n.addressing.IDProvider()
	n.linkstate.PushNetworkTopology(n.topology.SelfID())
	go n.linkstate.PullNetworkTopology(context.Background(), provider)
	go n.awaitFullTopology()

	return nil
}

func (n *controller) handlePingPong(self packet.NodeID, pkt packet.Packet) error {
	ping := pkt.(packet.PingPong)
	n.linkstate.HandleNeighborActivity(ping.SenderID)

	if self != 0 && n.topology.State() == topology.ReadyToSend && !ping.Pong {
		pong := packet.PingPong{SenderID: self, Pong: true}
		n.arbiter.Schedule(pong, 200*time.Millisecond, 500*time.Millisecond)
	}

	return nil
}

func (n *controller) handleDataAck(self packet.NodeID, pkt packet.Packet) error {
	n.session.HandleDataAck(self, pkt.(packet.DataAck))
	return nil
}

func (n *controller) handleData(self packet.NodeID, pkt packet.Packet) error {
	data := pkt.(packet.Data)
	packets := n.session.HandleDataPacket(context.Background(), self, data)
	if packets == nil {
		return nil
	}

	text := packet.JoinText(packets)
	n.chatMessages <- node.ChatMessage{Text: text, SenderID: data.SourceID, Timestamp: time.Now()}

	return nil
}

// handleFinishSending notifies the arbiter a send completed and, if this
// node is still finding neighbors, counts its reliable ping toward the
// handoff into ASSIGNING_ID.
func (n *controller) handleFinishSending() {
	n.arbiter.FinishSending()

	n.mu.Lock()
	findingNeighbors := n.topology.State() == topology.FindingNeighbors
	if findingNeighbors {
		n.pingSequence++
	}
	shouldAssign := findingNeighbors && n.pingSequence == reliablePingSequence
	if shouldAssign {
		n.pingSequence = 0
	}
	n.mu.Unlock()

	if shouldAssign {
		time.AfterFunc(retransmissionTimeout, n.assignNodeID)
	}
}

func (n *controller) findNeighborNodes() {
	n.setState(topology.FindingNeighbors)
	ping := packet.PingPong{SenderID: n.topology.SelfID(), Pong: false}
	n.arbiter.RepeatSend(ping, retransmissionTimeout, reliablePingSequence)
}

func (n *controller) assignNodeID() {
	n.setState(topology.AssigningID)

	req, hasNeighbors := n.addressing.StartAddressing(n.topology.Neighbors())
	if !hasNeighbors {
		n.setState(topology.ReadyToSend)
		n.linkstate.SendUpdate()
		return
	}

	provider := n.addressing.IDProvider()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		missing := n.arbiter.SendReliableAndWait(ctx, req, 200*time.Millisecond, 400*time.Millisecond,
			addressing.RequestAttempts, 3*time.Second, map[packet.NodeID]struct{}{provider: {}})
		if len(missing) > 0 && !n.addressing.IsConfirmed() {
			n.addressing.FallbackToDefault()
			n.setState(topology.ReadyToSend)
			n.linkstate.SendUpdate()
		}
	}()
}

func (n *controller) awaitFullTopology() {
	for {
		if n.linkstate.HasFullTopology() {
			n.setState(topology.ReadyToSend)
			n.linkstate.SendUpdate()
			return
		}
		time.Sleep(500 * time.Millisecond)
		if n.topology.State() != topology.PullingTopology {
			return
		}
	}
}

func (n *controller) setState(state topology.State) {
	n.mu.Lock()
	n.topology.SetState(state)
	n.conf.Logger.Info().Stringer("state", state).Msg("state transition")
	if state == topology.ReadyToSend {
		n.readyOnce.Do(func() { close(n.ready) })
		n.linkstate.RunLiveness(n.ctx, n.topology.SelfID())
	}
	n.mu.Unlock()
}

// SendChatMessage implements node.Messenger.
func (n *controller) SendChatMessage(text string) bool {
	self := n.topology.SelfID()
	packets := packet.SplitText(text, 0, self, self)
	if len(packets) > maxDataPackets {
		return false
	}

	n.chatMessages <- node.ChatMessage{Text: text, SenderID: self, Timestamp: time.Now()}
	n.session.SendPackets(context.Background(), self, packets, n.topology.Neighbors(), true)

	return true
}

// AwaitReadyToSend implements node.Messenger.
func (n *controller) AwaitReadyToSend(ctx context.Context) {
	select {
	case <-n.ready:
	case <-ctx.Done():
	}
}

// ChatMessages implements node.Messenger.
func (n *controller) ChatMessages() <-chan node.ChatMessage {
	return n.chatMessages
}

// UserID implements node.Messenger.
func (n *controller) UserID() packet.NodeID {
	return n.topology.SelfID()
}

// Topology implements node.Messenger.
func (n *controller) Topology() *topology.Store {
	return n.topology
}
