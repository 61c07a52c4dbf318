// Package arbiter serializes every frame a node puts onto the shared
// broadcast medium, enforcing the channel's half-duplex discipline: never
// transmit while the medium is marked busy, and back off on a detected
// collision instead of blindly retrying into the same window.
package arbiter

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/meshchat/node/packet"
	"github.com/meshchat/node/pktlog"
	"github.com/meshchat/node/transport"
	"github.com/rs/zerolog"
)

const finishSendingWait = 10 * time.Second

// Socket is the narrow transport surface the arbiter needs: putting a frame
// on the medium. The controller owns Recv and feeds FREE/BUSY/SENDING/
// DONE_SENDING notifications back in via SetNetworkState/FinishSending.
type Socket interface {
	Send(frame transport.Frame, timeout time.Duration) error
}

type buffered struct {
	frame transport.Frame
	delay time.Duration
}

// Arbiter is the channel arbiter described as the "packet sender" — every
// outgoing frame from this node passes through it.
//
// - implements session.Sender
// - implements linkstate.Sender
type Arbiter struct {
	socket Socket
	log    *pktlog.Log
	logger zerolog.Logger

	mu              sync.Mutex
	freeChannel     *sync.Cond
	finishedSending *sync.Cond
	busy            bool
	lastFreeAt      time.Time
	lastBusyAt      time.Time
	buffer          []buffered
}

// New returns an arbiter that puts frames on socket and records every send
// in log for later missing-ack queries.
func New(socket Socket, log *pktlog.Log, logger zerolog.Logger) *Arbiter {
	a := &Arbiter{socket: socket, log: log, logger: logger}
	a.freeChannel = sync.NewCond(&a.mu)
	a.finishedSending = sync.NewCond(&a.mu)
	return a
}

// SetNetworkState flips the arbiter's view of the medium. On a busy→free
// transition it wakes everyone waiting to send.
func (a *Arbiter) SetNetworkState(isBusy bool) {
	a.mu.Lock()
	a.busy = isBusy
	now := time.Now()
	if !isBusy {
		a.lastFreeAt = now
		a.freeChannel.Broadcast()
	} else {
		a.lastBusyAt = now
	}
	a.mu.Unlock()
}

// FinishSending records that this node just finished putting a frame on the
// medium and wakes anyone waiting on awaitMissingAcks. If a buffered repeat
// is queued, it starts sending the next one.
func (a *Arbiter) FinishSending() {
	a.mu.Lock()
	a.log.RecordSend()
	var next *buffered
	if len(a.buffer) > 0 {
		head := a.buffer[0]
		a.buffer = a.buffer[1:]
		next = &head
	}
	a.finishedSending.Broadcast()
	a.mu.Unlock()

	if next != nil {
		go a.sendSafe(next.frame, next.delay)
	}
}

// Schedule enqueues pkt for collision-avoided sending after a uniformly
// random delay in [minDelay, maxDelay).
func (a *Arbiter) Schedule(pkt packet.Packet, minDelay, maxDelay time.Duration) {
	go a.sendSafe(toFrame(pkt), randomDelay(minDelay, maxDelay))
}

// RepeatSend emits pkt once immediately (with a short fixed delay) and
// queues n-1 further copies, spaced delay apart, drained one per
// FinishSending call.
func (a *Arbiter) RepeatSend(pkt packet.Packet, delay time.Duration, n int) {
	frame := toFrame(pkt)
	go a.sendSafe(frame, 200*time.Millisecond)

	if n <= 1 {
		return
	}

	a.mu.Lock()
	for i := 0; i < n-1; i++ {
		a.buffer = append(a.buffer, buffered{frame: frame, delay: delay})
	}
	a.mu.Unlock()
}

// SendReliable schedules pkt and, on a background task, retransmits to
// whichever of expectedAcks have not acknowledged within timeout, up to
// attempts times. It does not block the caller.
func (a *Arbiter) SendReliable(ctx context.Context, pkt packet.Packet, minDelay, maxDelay time.Duration, attempts int, timeout time.Duration, expectedAcks map[packet.NodeID]struct{}) {
	if attempts == 0 {
		return
	}

	a.Schedule(pkt, minDelay, maxDelay)

	go func() {
		missing := a.awaitMissingAcks(ctx, pkt, expectedAcks, timeout)
		if len(missing) > 0 {
			a.SendReliable(ctx, pkt, minDelay, maxDelay, attempts-1, timeout, missing)
		}
	}()
}

// SendReliableAndWait is SendReliable's synchronous sibling: it blocks
// through every retry round and returns whichever of expectedAcks never
// acknowledged once attempts are exhausted.
func (a *Arbiter) SendReliableAndWait(ctx context.Context, pkt packet.Packet, minDelay, maxDelay time.Duration, attempts int, timeout time.Duration, expectedAcks map[packet.NodeID]struct{}) map[packet.NodeID]struct{} {
	if attempts == 0 {
		return expectedAcks
	}

	a.Schedule(pkt, minDelay, maxDelay)

	missing := a.awaitMissingAcks(ctx, pkt, expectedAcks, timeout)
	if len(missing) == 0 {
		return map[packet.NodeID]struct{}{}
	}

	return a.SendReliableAndWait(ctx, pkt, minDelay, maxDelay, attempts-1, timeout, missing)
}

// awaitMissingAcks waits for the in-flight send to finish, sleeps timeout,
// waits for the channel to settle, and reports which of expected never
// acknowledged pkt within the elapsed window.
func (a *Arbiter) awaitMissingAcks(ctx context.Context, pkt packet.Packet, expected map[packet.NodeID]struct{}, timeout time.Duration) map[packet.NodeID]struct{} {
	if !a.awaitFinishedSending() {
		a.logger.Warn().Stringer("kind", pkt.Kind()).Msg("timed out waiting to finish sending")
		return nil
	}

	sentAt := time.Now()

	select {
	case <-time.After(timeout):
	case <-ctx.Done():
		return nil
	}

	a.mu.Lock()
	for a.busy {
		a.freeChannel.Wait()
	}
	a.mu.Unlock()

	return a.log.MissingAcks(pkt, expected, time.Since(sentAt))
}

// awaitFinishedSending blocks until FinishSending is called, or the 10s cap
// elapses, whichever comes first. Returns false on the timeout.
func (a *Arbiter) awaitFinishedSending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	timedOut := false
	timer := time.AfterFunc(finishSendingWait, func() {
		a.mu.Lock()
		timedOut = true
		a.finishedSending.Broadcast()
		a.mu.Unlock()
	})
	defer timer.Stop()

	if !timedOut {
		a.finishedSending.Wait()
	}
	return !timedOut
}

// sendSafe is the collision-avoidance send loop: wait for a free channel,
// wait out the delay, then send unless a collision window was just crossed
// or the put itself fails — in either case, retry the whole sequence.
func (a *Arbiter) sendSafe(frame transport.Frame, delay time.Duration) {
	a.awaitFreeChannel()
	time.Sleep(delay)

	a.mu.Lock()
	interrupted := a.isInterruptedLocked(delay)
	a.mu.Unlock()

	if interrupted || !a.trySend(frame) {
		a.sendSafe(frame, delay)
	}
}

func (a *Arbiter) awaitFreeChannel() {
	a.mu.Lock()
	for a.busy {
		a.freeChannel.Wait()
	}
	a.mu.Unlock()
}

// isInterruptedLocked reports whether both a free->busy and a busy->free
// transition happened within the last delay — a collision window just
// passed through the channel.
func (a *Arbiter) isInterruptedLocked(delay time.Duration) bool {
	now := time.Now()
	freedRecently := !a.lastFreeAt.IsZero() && now.Sub(a.lastFreeAt) < delay
	busiedRecently := !a.lastBusyAt.IsZero() && now.Sub(a.lastBusyAt) < delay
	return freedRecently && busiedRecently
}

// trySend puts frame on the medium if it is still free at this instant.
func (a *Arbiter) trySend(frame transport.Frame) bool {
	a.mu.Lock()
	if a.busy {
		a.mu.Unlock()
		return false
	}
	a.mu.Unlock()

	if err := a.socket.Send(frame, 0); err != nil {
		a.logger.Warn().Err(err).Msg("failed to put frame on medium")
		return false
	}
	return true
}

func randomDelay(minDelay, maxDelay time.Duration) time.Duration {
	if maxDelay <= minDelay {
		return minDelay
	}
	return minDelay + time.Duration(rand.Int63n(int64(maxDelay-minDelay)))
}

func toFrame(pkt packet.Packet) transport.Frame {
	payload := pkt.Encode()
	kind := transport.Data
	if len(payload) == packet.ShortFrame {
		kind = transport.DataShort
	}
	return transport.Frame{Kind: kind, Payload: payload}
}
