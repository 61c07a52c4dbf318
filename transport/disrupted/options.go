package disrupted

import (
	"math/rand"

	"github.com/meshchat/node/transport"
)

// Option wraps a freshly created Socket to apply a disruption.
type Option func(transport.ClosableSocket, *rand.Rand) transport.ClosableSocket

// WithLossSocket drops received frames with probability dropRate.
func WithLossSocket(dropRate float64) Option {
	return func(rawSocket transport.ClosableSocket, r *rand.Rand) transport.ClosableSocket {
		return &lossSocket{rawSocket, dropRate, r}
	}
}
