// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/fleetkeeper/internal/envelope"
	"github.com/tomtom215/fleetkeeper/internal/liveness"
)

const testTimeout = 2 * time.Second

// newTestSupervisor returns a Supervisor wired to a fakeLauncher and a
// deterministic liveness probe, with its single-consumer loop already
// running. Callers must spawn any initial workers with CreateWorker before
// relying on routing.
func newTestSupervisor(t *testing.T) (*Supervisor, *fakeLauncher) {
	t.Helper()
	fl := newFakeLauncher()
	s := New(nil, fl)
	s.prober = &liveness.Prober{OS: alwaysIdleProbe{}}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = s.Run(ctx) }()

	return s, fl
}

func TestRoundTripAckRemovesPending(t *testing.T) {
	s, fl := newTestSupervisor(t)
	if err := s.CreateWorker(TypeDatabase, 1, nil); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}

	req := envelope.Envelope{MessageID: "m1", Status: envelope.StatusCompleted, Destination: []string{"DatabaseWorker/createNewData"}}
	s.postMessage(999, req)

	sentToDB := fl.sent(1)
	if sentToDB.MessageID != "m1" {
		t.Fatalf("expected forwarded message m1, got %+v", sentToDB)
	}
	if s.pending.Len(TypeDatabase) != 1 {
		t.Fatalf("expected 1 pending entry, got %d", s.pending.Len(TypeDatabase))
	}

	// The DB worker (pid 1) replies the way a real DatabaseWorker
	// createNewData handler does: addressed to its own next-hop workers,
	// not to "supervisor" (see workerkit.Reply / database.onCreatedDestination).
	ack := envelope.Envelope{MessageID: "m1", Status: envelope.StatusCompleted, Destination: []string{"HttpWorker/onProcessedMessage", "QueueWorker/produceMessage"}}
	fl.reply(1, ack)

	waitUntil(t, func() bool { return s.pending.Len(TypeDatabase) == 0 })

	// A genuine next-hop reply fans out to both named worker types, spawning
	// them on absence, rather than looping back to DatabaseWorker.
	toHTTP := fl.sent(2)
	if toHTTP.MessageID != "m1" {
		t.Fatalf("expected ack forwarded to HttpWorker, got %+v", toHTTP)
	}
	toQueue := fl.sent(3)
	if toQueue.MessageID != "m1" {
		t.Fatalf("expected ack forwarded to QueueWorker, got %+v", toQueue)
	}
}

func TestNoLossUnderRestart(t *testing.T) {
	s, fl := newTestSupervisor(t)
	if err := s.CreateWorker(TypeDatabase, 1, nil); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}

	req := envelope.Envelope{MessageID: "m2", Status: envelope.StatusCompleted, Destination: []string{"DatabaseWorker/getDataById/X"}}
	s.postMessage(999, req)
	_ = fl.sent(1) // the original worker received it but will now "crash"

	fl.crash(1)

	// Wait for the replacement to register (pid 2) and be sent the replay.
	replacement := waitForSecondSpawn(t, fl)
	got := fl.sent(replacement)
	if got.MessageID != "m2" {
		t.Fatalf("expected replay of m2 to replacement, got %+v", got)
	}
}

func TestDedupTrackAcrossForwards(t *testing.T) {
	s, _ := newTestSupervisor(t)
	if err := s.CreateWorker(TypeDatabase, 1, nil); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}

	req := envelope.Envelope{MessageID: "m3", Status: envelope.StatusCompleted, Destination: []string{"DatabaseWorker/createNewData"}}
	s.postMessage(999, req)
	s.postMessage(999, req)

	waitUntil(t, func() bool { return s.pending.Len(TypeDatabase) == 1 })
}

func TestBackpressureServerBusyReroutes(t *testing.T) {
	s, fl := newTestSupervisor(t)
	if err := s.CreateWorker(TypeDatabase, 2, nil); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}

	req := envelope.Envelope{MessageID: "m4", Status: envelope.StatusCompleted, Destination: []string{"DatabaseWorker/createNewData"}}
	s.postMessage(999, req)
	_ = fl.sent(1)

	busy := envelope.Envelope{MessageID: "m4", Status: envelope.StatusFailed, Reason: envelope.ReasonServerBusy, Destination: []string{"DatabaseWorker/createNewData"}}
	fl.reply(1, busy)

	got := fl.sent(2)
	if got.MessageID != "m4" {
		t.Fatalf("expected m4 rerouted to worker 2, got %+v", got)
	}
}

func TestBackpressureAllBusySchedulesRetry(t *testing.T) {
	s, fl := newTestSupervisor(t)
	if err := s.CreateWorker(TypeDatabase, 1, nil); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}

	req := envelope.Envelope{MessageID: "m5", Status: envelope.StatusCompleted, Destination: []string{"DatabaseWorker/createNewData"}}
	s.postMessage(999, req)
	_ = fl.sent(1)

	busy := envelope.Envelope{MessageID: "m5", Status: envelope.StatusFailed, Reason: envelope.ReasonServerBusy, Destination: []string{"DatabaseWorker/createNewData"}}

	start := time.Now()
	fl.reply(1, busy)

	got := fl.sent(1) // the only worker; retry must re-deliver to it after the backoff
	elapsed := time.Since(start)
	if got.MessageID != "m5" {
		t.Fatalf("expected retried m5, got %+v", got)
	}
	if elapsed < RetryDelay {
		t.Fatalf("retry fired too early: %v < %v", elapsed, RetryDelay)
	}
}

func TestNoRevivalDeadWorkerNeverSelected(t *testing.T) {
	s, fl := newTestSupervisor(t)
	if err := s.CreateWorker(TypeDatabase, 1, nil); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}
	fl.crash(1)
	waitForSecondSpawn(t, fl)

	req := envelope.Envelope{MessageID: "m6", Status: envelope.StatusCompleted, Destination: []string{"DatabaseWorker/createNewData"}}
	s.postMessage(999, req)

	got := fl.sent(2)
	if got.MessageID != "m6" {
		t.Fatalf("expected message routed to the live replacement, got %+v", got)
	}
}

func TestSpawnOnAbsence(t *testing.T) {
	s, fl := newTestSupervisor(t)

	req := envelope.Envelope{MessageID: "m7", Status: envelope.StatusCompleted, Destination: []string{"DatabaseWorker/createNewData"}}
	s.postMessage(999, req)

	pid := waitForFirstSpawn(t, fl)
	if pid == 0 {
		t.Fatal("expected a worker to be spawned on absence")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func waitForSecondSpawn(t *testing.T, fl *fakeLauncher) int {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if fl.handle(2) != nil {
			return 2
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("replacement worker was never spawned")
	return 0
}

func waitForFirstSpawn(t *testing.T, fl *fakeLauncher) int {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if fl.handle(1) != nil {
			return 1
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("worker was never spawned")
	return 0
}
