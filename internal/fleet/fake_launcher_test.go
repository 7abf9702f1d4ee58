// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package fleet

import (
	"context"
	"sync"

	"github.com/tomtom215/fleetkeeper/internal/envelope"
	"github.com/tomtom215/fleetkeeper/internal/liveness"
)

// alwaysIdleProbe makes liveness deterministic in tests: every PID is
// reported idle (eligible), regardless of what the real OS process table
// says about the test binary's own PID space.
type alwaysIdleProbe struct{}

func (alwaysIdleProbe) State(ctx context.Context, pid int) liveness.SchedState {
	return liveness.StateIdle
}

// fakeLauncher is an in-memory Launcher used by the supervisor tests. It
// replaces real OS subprocesses with goroutine-free channel pairs, the
// shape spec.md §9's design notes call out as the natural Go translation of
// the duplex parent-child channel.
type fakeLauncher struct {
	mu      sync.Mutex
	nextPID int
	handles map[int]*fakeHandle
}

// fakeHandle is the test's remote control for one fake worker: send on
// toSupervisor to simulate the worker replying; send on the Worker's
// exitSignal (via the helper methods below) to simulate a crash.
type fakeHandle struct {
	worker       *Worker
	toSupervisor chan envelope.Envelope
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{handles: make(map[int]*fakeHandle)}
}

func (f *fakeLauncher) Launch(ctx context.Context, t Type, cfg map[string]string) (*Worker, <-chan envelope.Envelope, error) {
	f.mu.Lock()
	f.nextPID++
	pid := f.nextPID
	f.mu.Unlock()

	toSupervisor := make(chan envelope.Envelope, 16)
	w := &Worker{
		pid:        pid,
		workerType: t,
		outbox:     make(chan envelope.Envelope, 16),
		exitSignal: make(chan int, 1),
	}

	f.mu.Lock()
	f.handles[pid] = &fakeHandle{worker: w, toSupervisor: toSupervisor}
	f.mu.Unlock()

	return w, toSupervisor, nil
}

// handle returns the fake remote control for pid, for test assertions.
func (f *fakeLauncher) handle(pid int) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[pid]
}

// reply simulates the fake worker at pid sending env back to the supervisor.
func (f *fakeLauncher) reply(pid int, env envelope.Envelope) {
	f.handle(pid).toSupervisor <- env
}

// crash simulates the fake worker at pid exiting unexpectedly.
func (f *fakeLauncher) crash(pid int) {
	h := f.handle(pid)
	select {
	case h.worker.exitSignal <- 1:
	default:
	}
}

// sent returns the next envelope the supervisor sent to the worker at pid,
// blocking the caller until one arrives.
func (f *fakeLauncher) sent(pid int) envelope.Envelope {
	return <-f.handle(pid).worker.outbox
}
