// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package workerkit

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/tomtom215/fleetkeeper/internal/envelope"
	"github.com/tomtom215/fleetkeeper/internal/fleet"
)

// pipeHarness wires a Runtime's stdin/stdout to in-process pipes so a test
// can play the supervisor's side of the duplex channel directly.
type pipeHarness struct {
	toWorker   *io.PipeWriter
	fromWorker *io.PipeReader
	out        *fleet.FrameWriter
	in         *fleet.FrameReader
}

func newHarness(t fleet.Type, handlers map[string]Handler) (*Runtime, *pipeHarness) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	r := NewWithIO(t, handlers, inR, outW)
	return r, &pipeHarness{
		toWorker:   inW,
		fromWorker: outR,
		out:        fleet.NewFrameWriter(inW),
		in:         fleet.NewFrameReader(outR),
	}
}

func TestDispatchSuccessRepliesCompleted(t *testing.T) {
	r, h := newHarness(fleet.TypeDatabase, map[string]Handler{
		"createNewData": func(ctx context.Context, arg string, env envelope.Envelope) (Reply, error) {
			return Reply{Data: map[string]string{"id": "abc"}, Destination: []string{"HttpWorker/onProcessedMessage", "QueueWorker/produceMessage"}}, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = r.Run(ctx) }()

	req := envelope.Envelope{MessageID: "m1", Status: envelope.StatusCompleted, Destination: []string{"DatabaseWorker/createNewData"}}
	if err := h.out.WriteEnvelope(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	reply, err := h.in.ReadEnvelope()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Status != envelope.StatusCompleted || reply.MessageID != "m1" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	wantDest := []string{"HttpWorker/onProcessedMessage", "QueueWorker/produceMessage"}
	if len(reply.Destination) != len(wantDest) || reply.Destination[0] != wantDest[0] || reply.Destination[1] != wantDest[1] {
		t.Fatalf("expected reply addressed to handler's next-hop destination %v, got %v", wantDest, reply.Destination)
	}
}

func TestHandleBusyRejectsConcurrentMessage(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	r, h := newHarness(fleet.TypeDatabase, map[string]Handler{
		"slow": func(ctx context.Context, arg string, env envelope.Envelope) (Reply, error) {
			started <- struct{}{}
			<-release
			return Reply{Destination: []string{envelope.Supervisor}}, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = r.Run(ctx) }()

	first := envelope.Envelope{MessageID: "slow-1", Status: envelope.StatusCompleted, Destination: []string{"DatabaseWorker/slow"}}
	if err := h.out.WriteEnvelope(first); err != nil {
		t.Fatalf("write first: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	second := envelope.Envelope{MessageID: "slow-2", Status: envelope.StatusCompleted, Destination: []string{"DatabaseWorker/slow"}}
	if err := h.out.WriteEnvelope(second); err != nil {
		t.Fatalf("write second: %v", err)
	}

	busyReply, err := h.in.ReadEnvelope()
	if err != nil {
		t.Fatalf("read busy reply: %v", err)
	}
	if busyReply.MessageID != "slow-2" || busyReply.Status != envelope.StatusFailed || busyReply.Reason != envelope.ReasonServerBusy {
		t.Fatalf("expected SERVER_BUSY reply for slow-2, got %+v", busyReply)
	}

	close(release)
	completedReply, err := h.in.ReadEnvelope()
	if err != nil {
		t.Fatalf("read completed reply: %v", err)
	}
	if completedReply.MessageID != "slow-1" || completedReply.Status != envelope.StatusCompleted {
		t.Fatalf("expected slow-1 to complete after release, got %+v", completedReply)
	}
}

// TestHeartbeatLoopDoesNotBlockDispatch checks that starting the (real,
// 10s-cadence) heartbeat goroutine alongside Run never delays a normal
// request/reply round trip; the cadence itself is a fleet package constant
// and is not re-asserted here.
func TestHeartbeatLoopDoesNotBlockDispatch(t *testing.T) {
	r, h := newHarness(fleet.TypeDatabase, map[string]Handler{
		"createNewData": func(ctx context.Context, arg string, env envelope.Envelope) (Reply, error) {
			return Reply{Destination: []string{envelope.Supervisor}}, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = r.Run(ctx) }()

	req := envelope.Envelope{MessageID: "m1", Status: envelope.StatusCompleted, Destination: []string{"DatabaseWorker/createNewData"}}
	if err := h.out.WriteEnvelope(req); err != nil {
		t.Fatalf("write request: %v", err)
	}
	reply, err := h.in.ReadEnvelope()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.MessageID != "m1" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}
