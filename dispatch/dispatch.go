// Package dispatch routes decoded packets to the handler registered for
// their kind, and fans each processed packet out to any registered
// notification hooks (used by the controller to drive its state machine and
// by pktlog-style observers).
package dispatch

import (
	"time"

	"github.com/meshchat/node/packet"
	"golang.org/x/xerrors"
)

const notifyTimeout = 20 * time.Second

// Handler processes one decoded packet addressed to or overheard by self.
type Handler func(self packet.NodeID, pkt packet.Packet) error

// Notify observes every packet that was successfully dispatched, after its
// handler has returned.
type Notify func(pkt packet.Packet)

// Registry maps packet kinds to handlers, the way the controller wires up
// its eight packet kinds at startup.
type Registry struct {
	handlers map[packet.Kind]Handler
	notify   []Notify
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{handlers: make(map[packet.Kind]Handler)}
}

// RegisterHandler wires kind to h. Registering the same kind twice replaces
// the previous handler.
func (r *Registry) RegisterHandler(kind packet.Kind, h Handler) {
	r.handlers[kind] = h
}

// RegisterNotify adds f to the list of hooks run after every successfully
// dispatched packet.
func (r *Registry) RegisterNotify(f Notify) {
	r.notify = append(r.notify, f)
}

// Dispatch runs pkt's registered handler, then every notification hook. A
// handler panic is recovered and reported as an error rather than taking
// down the controller's receive loop.
func (r *Registry) Dispatch(self packet.NodeID, pkt packet.Packet) error {
	h, ok := r.handlers[pkt.Kind()]
	if !ok {
		return xerrors.Errorf("no handler registered for %s", pkt.Kind())
	}

	if err := r.runHandler(h, self, pkt); err != nil {
		return err
	}

	r.runNotify(pkt)

	return nil
}

func (r *Registry) runHandler(h Handler, self packet.NodeID, pkt packet.Packet) error {
	result := make(chan error, 1)

	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				result <- xerrors.Errorf("handler panicked: %v", recovered)
			}
		}()
		result <- h(self, pkt)
	}()

	return <-result
}

func (r *Registry) runNotify(pkt packet.Packet) {
	done := make(chan struct{})

	go func() {
		for _, f := range r.notify {
			f(pkt)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(notifyTimeout):
	}
}
