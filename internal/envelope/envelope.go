// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package envelope defines the wire record exchanged between the supervisor
// and every worker process, and the destination grammar used to route it.
package envelope

import (
	"errors"
	"strings"

	"github.com/goccy/go-json"
)

// Status is the outcome a worker (or the supervisor) attaches to an Envelope.
type Status string

const (
	// StatusCompleted marks a successful reply, or an ack when Destination
	// targets the supervisor.
	StatusCompleted Status = "completed"
	// StatusFailed marks a recoverable rejection, e.g. SERVER_BUSY.
	StatusFailed Status = "failed"
	// StatusError marks a non-recoverable worker failure; the worker is
	// expected to exit after emitting it.
	StatusError Status = "error"
	// StatusHealthy marks a periodic liveness heartbeat.
	StatusHealthy Status = "healthy"
)

// ReasonServerBusy is the Reason a worker attaches to a StatusFailed reply
// when it declines a message because it is already processing one.
const ReasonServerBusy = "SERVER_BUSY"

// ReasonNoData is a free Reason code a worker may attach when a lookup found
// nothing to return.
const ReasonNoData = "NO_DATA"

// Supervisor is the literal destination string that routes to the
// coordinator itself rather than to a peer worker.
const Supervisor = "supervisor"

var (
	// ErrEmptyMessageID is returned by Validate when MessageID is empty.
	ErrEmptyMessageID = errors.New("envelope: messageId must not be empty")
	// ErrHealthyWithDestination is returned by Validate when a healthy
	// envelope targets anything other than the supervisor.
	ErrHealthyWithDestination = errors.New("envelope: status healthy must target only supervisor")
)

// Envelope is the single in-transit record carrying a message between a
// worker and the supervisor, in either direction.
type Envelope struct {
	MessageID   string      `json:"messageId"`
	Status      Status      `json:"status"`
	Reason      string      `json:"reason,omitempty"`
	Destination []string    `json:"destination"`
	Data        interface{} `json:"data,omitempty"`
}

// Validate checks the invariants spec.md §3 places on an envelope.
// It does not check that Destination is non-empty for routable messages;
// callers that require routing call RequireDestination explicitly.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.MessageID) == "" {
		return ErrEmptyMessageID
	}
	if e.Status == StatusHealthy {
		if len(e.Destination) > 1 {
			return ErrHealthyWithDestination
		}
		if len(e.Destination) == 1 && e.Destination[0] != Supervisor {
			return ErrHealthyWithDestination
		}
	}
	return nil
}

// IsAckForSupervisor reports whether this envelope is a terminal completion
// ack addressed (at least in part) at the supervisor itself.
func (e Envelope) IsAckForSupervisor() bool {
	if e.Status != StatusCompleted {
		return false
	}
	for _, d := range e.Destination {
		if WorkerType(d) == Supervisor {
			return true
		}
	}
	return false
}

// WithDestination returns a shallow copy of e targeting only the given
// single destination string. Used by the router to fan a multi-destination
// envelope out into independent single-destination copies.
func (e Envelope) WithDestination(dest string) Envelope {
	copyOf := e
	copyOf.Destination = []string{dest}
	return copyOf
}

// WorkerType extracts the routing key from a destination string: the
// substring before the first '/', or the whole string if there is none.
func WorkerType(destination string) string {
	if idx := strings.IndexByte(destination, '/'); idx >= 0 {
		return destination[:idx]
	}
	return destination
}

// MethodAndArg splits the opaque remainder of a destination string (after
// the worker type) into a method name and an optional argument. Both are
// empty if the destination carries no path segments beyond the type.
func MethodAndArg(destination string) (method, arg string) {
	idx := strings.IndexByte(destination, '/')
	if idx < 0 {
		return "", ""
	}
	rest := destination[idx+1:]
	m, a, _ := strings.Cut(rest, "/")
	return m, a
}

// Marshal serializes e using the fast goccy/go-json codec shared by every
// component that touches the wire format.
func Marshal(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal deserializes b into an Envelope.
func Unmarshal(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
