// Package disrupted wraps a transport.Transport to inject controlled frame
// loss, for exercising the arbiter's retry/missing-ack path under conditions
// a clean in-memory medium never produces on its own.
package disrupted

import (
	"math/rand"

	"github.com/meshchat/node/transport"
	"golang.org/x/xerrors"
)

// Transport implements a transport layer wrapper simulating network glitches.
//
// - implements transport.Transport
type Transport struct {
	transport.Transport
	options []Option
	randGen *rand.Rand
}

// NewDisrupted returns a new disrupted transport implementation.
func NewDisrupted(t transport.Transport, o ...Option) *Transport {
	return &Transport{t, o, rand.New(rand.NewSource(0))}
}

// SetRandomGenSeed changes the seed of the random generator.
func (t *Transport) SetRandomGenSeed(seed int64) {
	t.randGen.Seed(seed)
}

// CreateSocket implements transport.Transport.
func (t *Transport) CreateSocket(address string) (transport.ClosableSocket, error) {
	s, err := t.Transport.CreateSocket(address)
	if err != nil {
		return nil, xerrors.Errorf("failed to create underlying socket: %v", err)
	}
	for _, opt := range t.options {
		s = opt(s, t.randGen)
	}
	return s, nil
}
