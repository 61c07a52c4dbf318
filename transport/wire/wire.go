// Package wire implements a transport.Socket over a TCP byte stream to an
// external medium emulator. Every frame on the wire starts with a one-byte
// kind tag; DATA carries a fixed 32-byte payload, DATA_SHORT a fixed 2-byte
// payload, and every other kind carries none.
package wire

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/meshchat/node/transport"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Config holds the emulator connection parameters. Frequency is an
// emulator-side tuning knob passed through unexamined.
type Config struct {
	Host      string
	Port      int
	Frequency time.Duration
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewTransport returns a transport.Transport that dials the emulator at cfg
// on every CreateSocket call; address is ignored since the wire has exactly
// one counterpart.
func NewTransport(cfg Config, logger zerolog.Logger) transport.Transport {
	return &Transport{cfg: cfg, logger: logger}
}

// Transport implements transport.Transport over a TCP connection to an
// external medium emulator.
type Transport struct {
	cfg    Config
	logger zerolog.Logger
}

// CreateSocket implements transport.Transport.
func (t *Transport) CreateSocket(address string) (transport.ClosableSocket, error) {
	conn, err := net.DialTimeout("tcp", t.cfg.addr(), 5*time.Second)
	if err != nil {
		return nil, xerrors.Errorf("failed to dial emulator at %s: %v", t.cfg.addr(), err)
	}

	if t.cfg.Frequency > 0 {
		t.logger.Debug().Dur("frequency", t.cfg.Frequency).Msg("connected to emulator")
	}

	return &Socket{
		conn:    conn,
		r:       bufio.NewReader(conn),
		address: address,
		logger:  t.logger,
	}, nil
}

// Socket implements transport.Socket over a TCP connection carrying framed
// bytes to and from the emulator.
type Socket struct {
	conn    net.Conn
	r       *bufio.Reader
	address string
	logger  zerolog.Logger

	mu   sync.Mutex
	ins  []transport.Frame
	outs []transport.Frame
}

// Close implements transport.Socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// Send implements transport.Socket. It writes the kind tag followed by the
// kind's fixed-size payload, if any.
func (s *Socket) Send(frame transport.Frame, timeout time.Duration) error {
	buf, err := encode(frame)
	if err != nil {
		return err
	}

	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	} else {
		_ = s.conn.SetWriteDeadline(time.Time{})
	}

	_, err = s.conn.Write(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return transport.TimeoutError(timeout)
		}
		return xerrors.Errorf("failed to write frame: %v", err)
	}

	s.mu.Lock()
	s.outs = append(s.outs, frame.Copy())
	s.mu.Unlock()

	s.logger.Debug().Stringer("frame", frame).Msg("sent")

	return nil
}

// Recv implements transport.Socket.
func (s *Socket) Recv(timeout time.Duration) (transport.Frame, error) {
	if timeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}

	frame, err := decode(s.r)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return transport.Frame{}, transport.TimeoutError(timeout)
		}
		return transport.Frame{}, xerrors.Errorf("failed to read frame: %v", err)
	}

	s.mu.Lock()
	s.ins = append(s.ins, frame.Copy())
	s.mu.Unlock()

	s.logger.Debug().Stringer("frame", frame).Msg("received")

	return frame, nil
}

// GetAddress implements transport.Socket.
func (s *Socket) GetAddress() string {
	return s.address
}

// GetIns implements transport.Socket.
func (s *Socket) GetIns() []transport.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]transport.Frame{}, s.ins...)
}

// GetOuts implements transport.Socket.
func (s *Socket) GetOuts() []transport.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]transport.Frame{}, s.outs...)
}

func payloadSize(k transport.Kind) int {
	switch k {
	case transport.Data:
		return 32
	case transport.DataShort:
		return 2
	default:
		return 0
	}
}

func encode(frame transport.Frame) ([]byte, error) {
	size := payloadSize(frame.Kind)
	if len(frame.Payload) != size {
		return nil, xerrors.Errorf("%s frame needs a %d-byte payload, got %d", frame.Kind, size, len(frame.Payload))
	}

	buf := make([]byte, 1+size)
	buf[0] = byte(frame.Kind)
	copy(buf[1:], frame.Payload)

	return buf, nil
}

func decode(r *bufio.Reader) (transport.Frame, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return transport.Frame{}, err
	}

	kind := transport.Kind(kindByte)
	size := payloadSize(kind)
	if size == 0 {
		return transport.Frame{Kind: kind}, nil
	}

	payload := make([]byte, size)
	_, err = readFull(r, payload)
	if err != nil {
		return transport.Frame{}, err
	}

	return transport.Frame{Kind: kind, Payload: payload}, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		k, err := r.Read(buf[n:])
		n += k
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
