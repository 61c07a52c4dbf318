package disrupted

import (
	"math/rand"
	"time"

	"github.com/meshchat/node/transport"
)

// lossSocket drops incoming frames with a fixed probability (dropRate, in
// [0,1]) instead of handing them to the caller.
type lossSocket struct {
	transport.ClosableSocket
	dropRate float64
	randGen  *rand.Rand
}

func (s *lossSocket) Recv(timeout time.Duration) (transport.Frame, error) {
	f, err := s.ClosableSocket.Recv(timeout)
	if err != nil {
		return transport.Frame{}, err
	}

	if s.randGen.Float64() < s.dropRate {
		return s.Recv(timeout)
	}

	return f, nil
}
