// Package channel implements the shared broadcast medium in-process, for
// tests and for the simnet demo. Every Send reaches every socket currently
// attached to the Transport except the sender's own.
package channel

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshchat/node/transport"
)

var counter uint32 // initialized by default to 0

// NewTransport returns a channel-based shared medium.
func NewTransport() transport.Transport {
	return &Transport{
		incomings: make(map[string]chan transport.Frame),
	}
}

// Transport is a shared broadcast medium implemented with channels.
//
// - implements transport.Transport
type Transport struct {
	sync.RWMutex
	incomings map[string]chan transport.Frame
}

// CreateSocket implements transport.Transport.
func (t *Transport) CreateSocket(address string) (transport.ClosableSocket, error) {
	t.Lock()
	if strings.HasSuffix(address, ":0") {
		address = address[:len(address)-2]
		port := atomic.AddUint32(&counter, 1)
		address = fmt.Sprintf("%s:%d", address, port)
	}
	t.incomings[address] = make(chan transport.Frame, 100)
	t.Unlock()

	return &Socket{
		Transport: t,
		myAddr:    address,

		ins:  frames{},
		outs: frames{},
	}, nil
}

// MustCreate returns a socket and panics if something goes wrong. Mostly
// useful in tests.
func (t *Transport) MustCreate(address string) transport.ClosableSocket {
	socket, err := t.CreateSocket(address)
	if err != nil {
		panic("failed to create socket: " + err.Error())
	}

	return socket
}

// Socket attaches one node to the shared medium.
//
// - implements transport.Socket
type Socket struct {
	*Transport
	myAddr string

	ins  frames
	outs frames
}

// Close implements transport.Socket.
func (s *Socket) Close() error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.incomings[s.myAddr]; !ok {
		return fmt.Errorf("socket %s already closed", s.myAddr)
	}
	delete(s.incomings, s.myAddr)

	return nil
}

// Send implements transport.Socket. The frame is delivered to every other
// socket currently attached to the medium; a socket slow to drain its
// incoming channel can make a broadcast time out without affecting delivery
// to the others already served.
func (s *Socket) Send(frame transport.Frame, timeout time.Duration) error {
	frame.RelayedBy = s.myAddr

	s.RLock()
	recipients := make(map[string]chan transport.Frame, len(s.incomings))
	for addr, ch := range s.incomings {
		if addr == s.myAddr {
			continue
		}
		recipients[addr] = ch
	}
	s.RUnlock()

	if timeout == 0 {
		timeout = math.MaxInt64
	}

	for _, ch := range recipients {
		select {
		case ch <- frame.Copy():
		case <-time.After(timeout):
			return transport.TimeoutError(timeout)
		}
	}

	s.outs.add(frame)

	return nil
}

// Recv implements transport.Socket.
func (s *Socket) Recv(timeout time.Duration) (transport.Frame, error) {
	s.RLock()
	myChan := s.incomings[s.myAddr]
	s.RUnlock()

	if timeout == 0 {
		timeout = math.MaxInt64
	}

	select {
	case <-time.After(timeout):
		return transport.Frame{}, transport.TimeoutError(timeout)
	case frame := <-myChan:
		s.ins.add(frame)
		return frame, nil
	}
}

// GetAddress implements transport.Socket.
func (s *Socket) GetAddress() string {
	return s.myAddr
}

// GetIns implements transport.Socket.
func (s *Socket) GetIns() []transport.Frame {
	return s.ins.getAll()
}

// GetOuts implements transport.Socket.
func (s *Socket) GetOuts() []transport.Frame {
	return s.outs.getAll()
}

type frames struct {
	sync.Mutex
	data []transport.Frame
}

func (f *frames) add(frame transport.Frame) {
	f.Lock()
	f.data = append(f.data, frame.Copy())
	f.Unlock()
}

func (f *frames) getAll() []transport.Frame {
	f.Lock()
	defer f.Unlock()

	res := make([]transport.Frame, len(f.data))
	for i, frame := range f.data {
		res[i] = frame.Copy()
	}

	return res
}
