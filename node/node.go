// Package node defines the interface a chat node exposes to whatever
// drives it — a CLI, a demo harness, or a test.
package node

import (
	"context"
	"time"

	"github.com/meshchat/node/packet"
	"github.com/meshchat/node/topology"
	"github.com/meshchat/node/transport"
	"github.com/rs/zerolog"
)

// Node is a fully addressed, routed chat participant on the shared medium.
type Node interface {
	Service
	Messenger
}

// Factory creates a new Node instance from its configuration.
type Factory func(Configuration) Node

// Configuration holds everything a Node needs to attach to the medium and
// run. This struct will evolve.
type Configuration struct {
	Socket transport.ClosableSocket
	Logger zerolog.Logger
}

// Service defines the lifecycle operations of a node.
type Service interface {
	// Start begins listening on the socket and joining the network: finding
	// neighbors, then obtaining a NodeId, then pulling the rest of the
	// topology.
	Start() error

	// Stop cancels this node's background work, blocks until its receive
	// loop has exited, then closes the socket.
	Stop() error
}

// ChatMessage is a fully reassembled, delivered message.
type ChatMessage struct {
	Text      string
	SenderID  packet.NodeID
	Timestamp time.Time
}

// Messenger defines the user-facing chat surface.
type Messenger interface {
	// SendChatMessage starts a transmission session for text to every
	// current neighbor. Returns false without sending if text would need
	// more than 16 DATA packets.
	SendChatMessage(text string) bool

	// AwaitReadyToSend blocks until this node has a confirmed NodeId and a
	// complete view of the network topology, or ctx is cancelled.
	AwaitReadyToSend(ctx context.Context)

	// ChatMessages returns the channel onto which every fully reassembled
	// incoming message is delivered, in delivery order.
	ChatMessages() <-chan ChatMessage

	// UserID returns this node's NodeId, or 0 if not yet assigned.
	UserID() packet.NodeID

	// Topology returns the node's current view of the network.
	Topology() *topology.Store
}
