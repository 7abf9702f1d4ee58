// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package fleet

import (
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/fleetkeeper/internal/envelope"
)

// Worker is the supervisor's record of one live child process: its PID, its
// declared type, and the handles needed to talk to and tear it down. It is
// created when the spawn engine starts a process, mutated only by the exit
// handler and Kill, and removed from the Registry once it has exited.
type Worker struct {
	pid        int
	seq        uint64
	workerType Type
	spawnedAt  time.Time

	cmd    *exec.Cmd
	outbox chan envelope.Envelope // supervisor -> worker

	// exitSignal, when non-nil, lets a fake Launcher (tests) drive the
	// exit path without a real *exec.Cmd: sending an exit code on this
	// channel simulates the process dying.
	exitSignal chan int

	mu       sync.Mutex
	exited   bool
	exitCode int
	killed   bool
}

// PID returns the child's process ID. Implements liveness.Checkable.
func (w *Worker) PID() int { return w.pid }

// Type returns the worker's declared type.
func (w *Worker) Type() Type { return w.workerType }

// SpawnedAt returns when the spawn engine started this process.
func (w *Worker) SpawnedAt() time.Time { return w.spawnedAt }

// Exited reports whether the process has exited. Implements liveness.Checkable.
func (w *Worker) Exited() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exited
}

// Killed reports whether the supervisor sent this worker a kill signal.
// Implements liveness.Checkable.
func (w *Worker) Killed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.killed
}

// markExited records the process's exit, in a form Exited/Killed can read
// without racing the exit-handler goroutine.
func (w *Worker) markExited(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.exited = true
	w.exitCode = code
}

// markKilled records that the supervisor (not the OS) ended this worker.
func (w *Worker) markKilled() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.killed = true
}

// Send writes env onto the worker's inbound channel. It never blocks the
// caller indefinitely: callers are expected to select against ctx.Done() or
// rely on the channel having buffer, per spec.md §5 ("channel writes to
// children are non-blocking with an optional error return").
func (w *Worker) Send(env envelope.Envelope) error {
	select {
	case w.outbox <- env:
		return nil
	default:
		return ErrWorkerChannelFull
	}
}

// Registry is the supervisor's set of live children, labeled with worker
// type and PID. It is exclusively owned by the supervisor's single-consumer
// goroutine (spec.md §3/§5); callers outside that goroutine must not touch
// it directly, which is why every exported method here assumes single-
// threaded access rather than taking its own lock.
type Registry struct {
	byPID   map[int]*Worker
	nextSeq uint64
}

// NewRegistry returns an empty worker registry.
func NewRegistry() *Registry {
	return &Registry{byPID: make(map[int]*Worker)}
}

// Add registers w under its PID, stamping it with the next insertion
// sequence number so ByType can return a deterministic, insertion-ordered
// result (spec.md §4.4.g: "Select the first candidate, deterministic,
// insertion order").
func (r *Registry) Add(w *Worker) {
	r.nextSeq++
	w.seq = r.nextSeq
	r.byPID[w.pid] = w
}

// Remove deletes the worker with the given PID, if present.
func (r *Registry) Remove(pid int) {
	delete(r.byPID, pid)
}

// Get returns the worker with the given PID, if present.
func (r *Registry) Get(pid int) (*Worker, bool) {
	w, ok := r.byPID[pid]
	return w, ok
}

// ByType returns every registered worker of the given type, sorted by
// insertion order (the sequence number Add stamps), so the first element is
// the deterministic forwarding choice (spec.md §4.4.g).
func (r *Registry) ByType(t Type) []*Worker {
	var out []*Worker
	for _, w := range r.byPID {
		if w.workerType == t {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	return len(r.byPID)
}
