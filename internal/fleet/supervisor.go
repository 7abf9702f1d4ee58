// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package fleet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
	"github.com/tomtom215/fleetkeeper/internal/envelope"
	"github.com/tomtom215/fleetkeeper/internal/liveness"
	"github.com/tomtom215/fleetkeeper/internal/logging"
)

// RetryDelay is the fixed back-off the router schedules when every peer of
// a type is busy (spec.md §4.4.f).
const RetryDelay = 5 * time.Second

// HeartbeatInterval is how often a worker is expected to emit a healthy
// beat (spec.md §4.5).
const HeartbeatInterval = 10 * time.Second

// HeartbeatTimeout is the watchdog threshold spec.md §9's open question asks
// an implementer to adopt and state explicitly: 2.5x the beat interval,
// enough margin to absorb one missed tick without flapping a healthy worker.
const HeartbeatTimeout = 25 * time.Second

// serviceFunc adapts a plain func(ctx) error to suture.Service, the same
// shape the teacher's internal/supervisor/services package uses for its
// lightweight services (see services/doc.go).
type serviceFunc func(ctx context.Context) error

func (f serviceFunc) Serve(ctx context.Context) error { return f(ctx) }

type eventKind int

const (
	evMessage eventKind = iota
	evExit
	evRetry
)

// event is the single shape fed into the supervisor's inbox channel, the
// one serialization point for every mutation of the registry and pending
// table (spec.md §5).
type event struct {
	kind       eventKind
	pid        int
	env        envelope.Envelope
	workerType Type
}

// Supervisor is the process-fleet coordinator: it owns the worker registry
// and the pending-message table, and is the sole actor that mutates them
// (spec.md §3, §5).
type Supervisor struct {
	registry    *Registry
	pending     *PendingTable
	prober      *liveness.Prober
	launcher    Launcher
	descriptors map[Type]Descriptor

	inbox chan event

	heartbeatsMu sync.Mutex
	heartbeats   map[int]time.Time

	tree *suture.Supervisor

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Supervisor with the given worker-type descriptors and
// process launcher. Call Run to spawn the declared fleet and begin routing.
func New(descriptors []Descriptor, launcher Launcher) *Supervisor {
	descByType := make(map[Type]Descriptor, len(descriptors))
	for _, d := range descriptors {
		descByType[d.Name] = d
	}
	ctx, cancel := context.WithCancel(context.Background())

	// Unlike the teacher's tree, which supervises domain services, this
	// tree supervises only the supervisor's own health watchdog; the
	// per-child pump goroutines are started directly by the spawn engine,
	// and the worker fleet itself is managed by the spawn/restart engine
	// below, not by suture.
	slogHandler := &sutureslog.Handler{Logger: slog.New(logging.NewSlogHandler())}
	tree := suture.New("fleetkeeper-internal", suture.Spec{EventHook: slogHandler.MustHook()})

	return &Supervisor{
		registry:    NewRegistry(),
		pending:     NewPendingTable(),
		prober:      liveness.New(),
		launcher:    launcher,
		descriptors: descByType,
		inbox:       make(chan event, 64),
		heartbeats:  make(map[int]time.Time),
		tree:        tree,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run spawns Count workers of each declared worker type, starts the health watchdog,
// and blocks processing the single-consumer event loop until ctx is
// canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.cancel()
	}()

	for _, d := range s.descriptors {
		if err := s.CreateWorker(d.Name, d.Count, d.Config); err != nil {
			logging.Error().Str("workerType", string(d.Name)).Err(err).Msg("initial spawn failed")
		}
	}

	s.tree.Add(serviceFunc(s.watchdogLoop))
	go s.tree.ServeBackground(s.ctx) //nolint:errcheck // errors surface via the event hook

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case evt := <-s.inbox:
			s.dispatch(evt)
		}
	}
}

func (s *Supervisor) dispatch(evt event) {
	switch evt.kind {
	case evMessage:
		s.onWorkerMessage(evt.env, evt.pid)
	case evExit:
		s.handleExit(evt.pid, evt.workerType)
	case evRetry:
		s.forwardToPeer(0, evt.env, evt.workerType)
	}
}

// watchdogLoop restarts any worker whose last heartbeat is older than
// HeartbeatTimeout. This is the watchdog spec.md §9 says the source
// sketches but leaves disabled in one branch; this implementation adopts it.
func (s *Supervisor) watchdogLoop(ctx context.Context) error {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.checkHeartbeats()
		}
	}
}

func (s *Supervisor) checkHeartbeats() {
	now := time.Now()
	var stale []int

	s.heartbeatsMu.Lock()
	for pid, last := range s.heartbeats {
		if now.Sub(last) > HeartbeatTimeout {
			stale = append(stale, pid)
		}
	}
	s.heartbeatsMu.Unlock()

	for _, pid := range stale {
		w, ok := s.registry.Get(pid)
		if !ok {
			continue
		}
		logging.Warn().Int("pid", pid).Str("workerType", string(w.Type())).Msg("heartbeat watchdog: restarting stale worker")
		s.RestartWorker(w)
	}
}

func (s *Supervisor) recordHeartbeat(pid int) {
	s.heartbeatsMu.Lock()
	s.heartbeats[pid] = time.Now()
	s.heartbeatsMu.Unlock()
}

// postMessage enqueues an inbound worker message for the single-consumer
// loop. It is the only entry point callers outside the loop (the per-worker
// stdout pump goroutines) may use.
func (s *Supervisor) postMessage(pid int, env envelope.Envelope) {
	select {
	case s.inbox <- event{kind: evMessage, pid: pid, env: env}:
	case <-s.ctx.Done():
	}
}

func (s *Supervisor) postExit(pid int, t Type) {
	select {
	case s.inbox <- event{kind: evExit, pid: pid, workerType: t}:
	case <-s.ctx.Done():
	}
}

func (s *Supervisor) scheduleRetry(t Type, env envelope.Envelope) {
	retryEnv := env
	retryEnv.Status = envelope.StatusCompleted
	time.AfterFunc(RetryDelay, func() {
		select {
		case s.inbox <- event{kind: evRetry, env: retryEnv, workerType: t}:
		case <-s.ctx.Done():
		}
	})
}

// Registry exposes the live worker registry for read-only inspection
// (health endpoints, tests). Mutating it outside the supervisor's own
// goroutine is not safe.
func (s *Supervisor) Registry() *Registry { return s.registry }

// Pending exposes the pending-message table for read-only inspection.
func (s *Supervisor) Pending() *PendingTable { return s.pending }
