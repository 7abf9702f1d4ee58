// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package fleet

import (
	"time"

	"github.com/tomtom215/fleetkeeper/internal/envelope"
	"github.com/tomtom215/fleetkeeper/internal/metrics"
)

// pendingEntry is one in-flight message tracked against a worker type.
type pendingEntry struct {
	messageID  string
	env        envelope.Envelope
	enqueuedAt time.Time
}

// PendingTable is the supervisor's sole durable state during a run: a
// mapping from worker type to the ordered list of messages sent to that
// type and not yet acknowledged. It supports append-if-new, remove-by-id,
// and a non-mutating drain snapshot, per spec.md §4.3.
//
// Like Registry, PendingTable is owned by the supervisor's single-consumer
// goroutine and takes no lock of its own.
type PendingTable struct {
	byType map[Type][]pendingEntry
}

// NewPendingTable returns an empty pending-message table.
func NewPendingTable() *PendingTable {
	return &PendingTable{byType: make(map[Type][]pendingEntry)}
}

// Track appends env to t's list unless an entry with the same MessageID is
// already present. De-duplication is by MessageID alone (spec.md §4.3).
func (p *PendingTable) Track(t Type, env envelope.Envelope) {
	for _, e := range p.byType[t] {
		if e.messageID == env.MessageID {
			return
		}
	}
	p.byType[t] = append(p.byType[t], pendingEntry{
		messageID:  env.MessageID,
		env:        env,
		enqueuedAt: time.Now(),
	})
	metrics.PendingMessages.WithLabelValues(string(t)).Set(float64(len(p.byType[t])))
}

// Remove deletes the entry for messageID from t's list, if present. It is
// not an error for the entry to be absent.
func (p *PendingTable) Remove(t Type, messageID string) {
	list := p.byType[t]
	for i, e := range list {
		if e.messageID == messageID {
			p.byType[t] = append(list[:i], list[i+1:]...)
			metrics.PendingMessages.WithLabelValues(string(t)).Set(float64(len(p.byType[t])))
			return
		}
	}
}

// RemoveAny deletes the entry for messageID from whichever type bucket
// holds it. A completed ack's own Destination is typically just
// ["supervisor"] — it does not name the worker type the original request
// was tracked under — so acking requires searching every bucket rather than
// keying off the ack's own destination (spec.md §9's open question on ack
// matching).
func (p *PendingTable) RemoveAny(messageID string) {
	for t, list := range p.byType {
		for i, e := range list {
			if e.messageID == messageID {
				p.byType[t] = append(list[:i], list[i+1:]...)
				metrics.PendingMessages.WithLabelValues(string(t)).Set(float64(len(p.byType[t])))
				break
			}
		}
	}
}

// Drain returns a snapshot of t's pending envelopes in insertion order. It
// does not mutate the table; removal is driven only by completion acks
// (Remove), per spec.md §4.1's drainPending contract.
func (p *PendingTable) Drain(t Type) []envelope.Envelope {
	list := p.byType[t]
	out := make([]envelope.Envelope, len(list))
	for i, e := range list {
		out[i] = e.env
	}
	return out
}

// Len returns the number of pending entries tracked for t.
func (p *PendingTable) Len(t Type) int {
	return len(p.byType[t])
}
