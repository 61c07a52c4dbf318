package arbiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meshchat/node/packet"
	"github.com/meshchat/node/pktlog"
	"github.com/meshchat/node/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeSocket struct {
	mu   sync.Mutex
	sent []transport.Frame
	fail bool
}

func (s *fakeSocket) Send(frame transport.Frame, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		s.fail = false
		return transport.TimeoutError(timeout)
	}
	s.sent = append(s.sent, frame)
	return nil
}

func (s *fakeSocket) all() []transport.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Frame{}, s.sent...)
}

func TestScheduleSendsOnceChannelIsFree(t *testing.T) {
	socket := &fakeSocket{}
	a := New(socket, pktlog.New(), zerolog.Nop())

	a.Schedule(packet.PingPong{SenderID: 2}, 0, time.Millisecond)

	require.Eventually(t, func() bool { return len(socket.all()) == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, transport.DataShort, socket.all()[0].Kind)
}

func TestScheduleWaitsForFreeChannel(t *testing.T) {
	socket := &fakeSocket{}
	a := New(socket, pktlog.New(), zerolog.Nop())

	a.SetNetworkState(true)
	a.Schedule(packet.PingPong{SenderID: 2}, 0, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, socket.all())

	a.SetNetworkState(false)
	require.Eventually(t, func() bool { return len(socket.all()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestFinishSendingDrainsBufferedRepeat(t *testing.T) {
	socket := &fakeSocket{}
	a := New(socket, pktlog.New(), zerolog.Nop())

	a.RepeatSend(packet.PingPong{SenderID: 2}, 10*time.Millisecond, 2)

	require.Eventually(t, func() bool { return len(socket.all()) == 1 }, time.Second, 5*time.Millisecond)

	a.FinishSending()

	require.Eventually(t, func() bool { return len(socket.all()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestSendReliableAndWaitStopsOnceAcked(t *testing.T) {
	socket := &fakeSocket{}
	log := pktlog.New()
	a := New(socket, log, zerolog.Nop())

	pkt := packet.Data{SourceID: 1, SenderID: 1, Sequence: 0}
	expected := map[packet.NodeID]struct{}{2: {}}

	go func() {
		time.Sleep(30 * time.Millisecond)
		a.FinishSending()
		log.Record(packet.DataAck{SenderID: 2, SourceID: 1, Sequence: 0})
	}()

	missing := a.SendReliableAndWait(context.Background(), pkt, 0, time.Millisecond, 2, 50*time.Millisecond, expected)
	require.Empty(t, missing)
}

func TestSendReliableAndWaitReportsStillMissingAfterAttempts(t *testing.T) {
	socket := &fakeSocket{}
	log := pktlog.New()
	a := New(socket, log, zerolog.Nop())

	pkt := packet.Data{SourceID: 1, SenderID: 1, Sequence: 0}
	expected := map[packet.NodeID]struct{}{2: {}}

	go func() {
		for i := 0; i < 2; i++ {
			time.Sleep(20 * time.Millisecond)
			a.FinishSending()
		}
	}()

	missing := a.SendReliableAndWait(context.Background(), pkt, 0, time.Millisecond, 2, 20*time.Millisecond, expected)
	require.Equal(t, expected, missing)
}

func TestIsInterruptedDetectsCollisionWindow(t *testing.T) {
	socket := &fakeSocket{}
	a := New(socket, pktlog.New(), zerolog.Nop())

	a.SetNetworkState(true)
	a.SetNetworkState(false)

	a.mu.Lock()
	interrupted := a.isInterruptedLocked(time.Second)
	a.mu.Unlock()

	require.True(t, interrupted)
}
