// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package fleet

import (
	"time"

	"github.com/tomtom215/fleetkeeper/internal/envelope"
	"github.com/tomtom215/fleetkeeper/internal/logging"
	"github.com/tomtom215/fleetkeeper/internal/metrics"
)

// spawnRetryBackoff is the short pause before the engine's single retry of
// a failed spawn (spec.md §4.1: "the engine retries once after a short
// backoff").
const spawnRetryBackoff = 200 * time.Millisecond

// CreateWorker launches count child processes of the given worker type,
// registers each in the registry, and wires its message channel into the
// supervisor's single-consumer event loop. count must be >= 1.
//
// Spawn failure for a slot is retried once after spawnRetryBackoff; if the
// retry also fails, the slot is abandoned, the failure is logged, and
// CreateWorker returns ErrSpawnFailed. No error envelope is emitted.
func (s *Supervisor) CreateWorker(t Type, count int, cfg map[string]string) error {
	if count < 1 {
		return ErrInvalidCount
	}
	if _, known := KnownTypes[t]; !known {
		return ErrUnknownWorkerType
	}

	var lastErr error
	for i := 0; i < count; i++ {
		if err := s.spawnOne(t, cfg); err != nil {
			time.Sleep(spawnRetryBackoff)
			if err := s.spawnOne(t, cfg); err != nil {
				metrics.WorkerSpawnsTotal.WithLabelValues(string(t), "failed").Inc()
				logging.Error().Str("workerType", string(t)).Err(err).Msg("spawn failed after retry")
				lastErr = ErrSpawnFailed
				continue
			}
		}
		metrics.WorkerSpawnsTotal.WithLabelValues(string(t), "succeeded").Inc()
		metrics.LiveWorkers.WithLabelValues(string(t)).Inc()
	}
	return lastErr
}

func (s *Supervisor) spawnOne(t Type, cfg map[string]string) error {
	w, inbound, err := s.launcher.Launch(s.ctx, t, cfg)
	if err != nil {
		return err
	}

	s.registry.Add(w)
	s.recordHeartbeat(w.PID())
	logging.Info().Str("workerType", string(t)).Int("pid", w.PID()).Msg("worker spawned")

	go s.pumpWorkerInbound(w, inbound)
	go s.waitForExit(w)

	return nil
}

// pumpWorkerInbound republishes every envelope a worker sends into the
// supervisor's single-consumer inbox, tagged with the sending PID so the
// router can identify the originating child (spec.md §4.1: "registers a
// message handler that forwards each inbound envelope to the router tagged
// with the source PID").
func (s *Supervisor) pumpWorkerInbound(w *Worker, inbound <-chan envelope.Envelope) {
	for env := range inbound {
		s.postMessage(w.PID(), env)
	}
}

// waitForExit blocks until the underlying process exits (naturally or via
// Kill) and posts the exit event into the single-consumer loop, where
// handleExit removes the worker, replaces it, and drains its pending work.
func (s *Supervisor) waitForExit(w *Worker) {
	var exitCode int
	switch {
	case w.cmd != nil:
		err := w.cmd.Wait()
		if exitErr, ok := err.(interface{ ExitCode() int }); ok {
			exitCode = exitErr.ExitCode()
		} else if err != nil {
			exitCode = -1
		}
	case w.exitSignal != nil:
		exitCode = <-w.exitSignal
	default:
		// No process and no test hook: this worker never exits on its own.
		select {}
	}
	w.markExited(exitCode)
	close(w.outbox)
	s.postExit(w.PID(), w.Type())
}

// handleExit implements the exit handler's four steps from spec.md §4.1:
// remove from the registry, log, replace, then drain pending work to the
// replacement. It runs only on the single-consumer goroutine.
func (s *Supervisor) handleExit(pid int, t Type) {
	s.registry.Remove(pid)
	s.heartbeatsMu.Lock()
	delete(s.heartbeats, pid)
	s.heartbeatsMu.Unlock()
	metrics.LiveWorkers.WithLabelValues(string(t)).Dec()
	metrics.WorkerRestartsTotal.WithLabelValues(string(t)).Inc()

	logging.Warn().Int("pid", pid).Str("workerType", string(t)).Msg("worker exited; replacing")

	cfg := s.descriptors[t].Config
	if err := s.CreateWorker(t, 1, cfg); err != nil {
		logging.Error().Str("workerType", string(t)).Err(err).Msg("replacement spawn failed")
		return
	}
	s.drainPending(t)
}

// RestartWorker kills w and lets the exit handler replace it and drain its
// pending messages, per spec.md §4.1: "identical effect as an unexpected
// exit, but initiated by the router."
func (s *Supervisor) RestartWorker(w *Worker) {
	w.markKilled()
	switch {
	case w.cmd != nil && w.cmd.Process != nil:
		_ = w.cmd.Process.Kill()
	case w.exitSignal != nil:
		select {
		case w.exitSignal <- -1:
		default:
		}
	}
}

// drainPending replays type t's pending list, in insertion order, to the
// first alive worker of that type. If none is alive, it logs and returns —
// the messages remain in the table for the next drain (spec.md §4.1).
func (s *Supervisor) drainPending(t Type) {
	candidates := s.registry.ByType(t)
	var target *Worker
	for _, w := range candidates {
		if s.prober.IsAlive(w) {
			target = w
			break
		}
	}
	if target == nil {
		logging.Info().Str("workerType", string(t)).Msg("drainPending: no live worker, messages remain pending")
		return
	}

	for _, env := range s.pending.Drain(t) {
		if err := target.Send(env); err != nil {
			logging.Error().Str("workerType", string(t)).Str("messageId", env.MessageID).Err(err).Msg("drainPending: send failed")
			continue
		}
		logging.Info().Str("workerType", string(t)).Str("messageId", env.MessageID).Msg("drainPending: replayed")
	}
}
