// Package pktlog keeps an append-only record of packets this node has seen
// and sent, and answers the acknowledgement-tracking queries the session and
// link-state protocols need.
package pktlog

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/meshchat/node/packet"
	"github.com/rs/xid"
)

// Log is a per-node append-only packet record. It is safe for concurrent
// use.
//
// The record grows without bound for the lifetime of the process; callers
// only ever query a recent window, so old entries are harmless dead weight
// rather than a correctness problem. A node's session lifetime is short
// enough in practice that this has never needed trimming.
type Log struct {
	mu sync.Mutex

	records         []record
	lastSendTime    time.Time
	hasSentAnything bool
}

type record struct {
	id      xid.ID
	pkt     packet.Packet
	arrived time.Time
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// Record appends pkt with the current time as its arrival time, tagging the
// entry with a sortable id a human can quote when asking "which record was
// that" without pasting the whole packet back.
func (l *Log) Record(pkt packet.Packet) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, record{id: xid.New(), pkt: pkt, arrived: time.Now()})
}

// RecordSend marks now as the most recent time this node put a packet on the
// medium, for HasTrafficWithin.
func (l *Log) RecordSend() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastSendTime = time.Now()
	l.hasSentAnything = true
}

// HasTrafficWithin reports whether this node sent any packet within the
// last timeout.
func (l *Log) HasTrafficWithin(timeout time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hasSentAnything {
		return false
	}
	return time.Since(l.lastSendTime) < timeout
}

// MissingAcks returns the subset of expected that has not, within timeout,
// sent a packet satisfying original.IsAckOf. Senders with id 0 (no concept
// of sender, e.g. REQUEST_ID) never count as an acknowledger.
func (l *Log) MissingAcks(original packet.Packet, expected map[packet.NodeID]struct{}, timeout time.Duration) map[packet.NodeID]struct{} {
	acked := make(map[packet.NodeID]struct{})

	l.mu.Lock()
	now := time.Now()
	for _, r := range l.records {
		if now.Sub(r.arrived) > timeout {
			continue
		}
		sender := r.pkt.Sender()
		if sender == 0 {
			continue
		}
		if original.IsAckOf(r.pkt) {
			acked[sender] = struct{}{}
		}
	}
	l.mu.Unlock()

	missing := make(map[packet.NodeID]struct{}, len(expected))
	for id := range expected {
		if _, ok := acked[id]; !ok {
			missing[id] = struct{}{}
		}
	}
	return missing
}

// SaveGraph writes the log as a graphviz digraph: one node per record, named
// by its xid so two runs never collide, with an edge in from whichever peer
// sent it.
func (l *Log) SaveGraph(out io.Writer) {
	l.mu.Lock()
	records := make([]record, len(l.records))
	copy(records, l.records)
	l.mu.Unlock()

	fmt.Fprint(out, "digraph packet_log {\n")
	fmt.Fprintf(out, "labelloc=\"t\";\nlabel=\"packet log, %d entries\";\n", len(records))
	fmt.Fprint(out, "graph [fontname = \"helvetica\"];\nnode [fontname = \"helvetica\"];\nedge [fontname = \"helvetica\"];\n\n")

	for _, r := range records {
		fmt.Fprintf(out, "\"%d\" -> \"%s\" [label=\"%s @ %s\"];\n",
			r.pkt.Sender(), r.id.String(), r.pkt.Kind(), r.arrived.Format("15:04:05.000"))
	}

	fmt.Fprint(out, "}\n")
}
