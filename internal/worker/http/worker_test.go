// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package http

import (
	"context"
	"testing"

	"github.com/tomtom215/fleetkeeper/internal/envelope"
)

type fakeEmitter struct {
	sent []envelope.Envelope
}

func (f *fakeEmitter) Emit(env envelope.Envelope) error {
	f.sent = append(f.sent, env)
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeEmitter) {
	t.Helper()
	validator, err := NewJWTValidator("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("NewJWTValidator: %v", err)
	}
	emitter := &fakeEmitter{}
	return NewServer(emitter, validator, nil), emitter
}

// TestOnProcessedMessageResolvesByMessageID exercises the onProcessedMessage
// handler NewRuntime registers, confirming it correlates the reply using
// env.MessageID rather than the envelope's destination argument.
func TestOnProcessedMessageResolvesByMessageID(t *testing.T) {
	server, _ := newTestServer(t)
	rt := NewRuntime(server)

	waiter := server.pending.register("msg-1")
	defer server.pending.forget("msg-1")

	handler := rt.Handlers["onProcessedMessage"]
	if handler == nil {
		t.Fatal("expected onProcessedMessage handler to be registered")
	}

	env := envelope.Envelope{
		MessageID:   "msg-1",
		Destination: []string{"HttpWorker/onProcessedMessage/ignored-arg"},
		Data:        map[string]string{"id": "project-123"},
	}
	if _, err := handler(context.Background(), "ignored-arg", env); err != nil {
		t.Fatalf("handler: %v", err)
	}

	select {
	case result := <-waiter:
		if result.projectID != "project-123" {
			t.Fatalf("expected projectID project-123, got %q", result.projectID)
		}
	default:
		t.Fatal("expected pending reply to be resolved")
	}
}

// TestOnProcessedMessageUnknownMessageIDIsANoop ensures a reply for a
// request the server no longer has a waiter for (e.g. it already timed out)
// does not panic or block.
func TestOnProcessedMessageUnknownMessageIDIsANoop(t *testing.T) {
	server, _ := newTestServer(t)
	rt := NewRuntime(server)

	env := envelope.Envelope{
		MessageID: "unknown",
		Data:      map[string]string{"id": "project-999"},
	}
	if _, err := rt.Handlers["onProcessedMessage"](context.Background(), "", env); err != nil {
		t.Fatalf("handler: %v", err)
	}
}
