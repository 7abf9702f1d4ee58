// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package fleet

import (
	"github.com/tomtom215/fleetkeeper/internal/envelope"
	"github.com/tomtom215/fleetkeeper/internal/logging"
	"github.com/tomtom215/fleetkeeper/internal/metrics"
)

// onWorkerMessage is the router's entry point (spec.md §4.4): it iterates
// every destination in env and dispatches each independently, either
// handling it locally (the literal "supervisor" destination) or forwarding
// it to a peer worker.
func (s *Supervisor) onWorkerMessage(env envelope.Envelope, fromPID int) {
	if err := env.Validate(); err != nil {
		logging.Error().Int("fromPid", fromPID).Err(err).Msg("router: dropping invalid envelope")
		return
	}

	// An ack for the pending table: per SPEC_FULL.md §9's open-question
	// resolution, a completed envelope acks its messageId regardless of
	// which worker type it names in Destination (typically just
	// "supervisor", which does not identify the original bucket), so the
	// pending table is searched by MessageID alone.
	if env.Status == envelope.StatusCompleted {
		s.pending.RemoveAny(env.MessageID)
	}

	for _, dest := range env.Destination {
		workerType := envelope.WorkerType(dest)

		if workerType == envelope.Supervisor {
			s.handleSupervisorDestination(env, fromPID)
			continue
		}

		single := env.WithDestination(dest)
		s.forwardToPeer(fromPID, single, Type(workerType))
	}
}

// handleSupervisorDestination implements spec.md §4.4 step 2: a destination
// literally addressed to "supervisor" is a terminal signal to the
// coordinator rather than something to forward.
func (s *Supervisor) handleSupervisorDestination(env envelope.Envelope, fromPID int) {
	switch env.Status {
	case envelope.StatusHealthy:
		s.recordHeartbeat(fromPID)
	case envelope.StatusCompleted:
		// Acks for every originally-addressed type were already processed
		// in onWorkerMessage above; nothing further to do here.
	default:
		logging.Info().Int("fromPid", fromPID).Str("status", string(env.Status)).Msg("router: dropping unsupervised status targeting supervisor")
	}
}

// forwardToPeer implements spec.md §4.4's forwardToPeer(fromPid, env, type):
// track, handle error/busy statuses, select a live eligible peer, and send.
func (s *Supervisor) forwardToPeer(fromPID int, env envelope.Envelope, t Type) {
	// a. Track intent before sending so a crash cannot lose the message.
	s.pending.Track(t, env)

	// b. An error status restarts the sender; the message stays pending
	// for the replacement to pick up via drainPending.
	if env.Status == envelope.StatusError {
		logging.Error().Int("fromPid", fromPID).Str("messageId", env.MessageID).Str("reason", env.Reason).Msg("router: worker reported error, restarting it")
		if w, ok := s.registry.Get(fromPID); ok {
			s.RestartWorker(w)
		}
		return
	}

	// c. Compute eligible candidates: alive, not killed, not currently R.
	candidates := s.eligibleCandidates(t)

	// d. No candidates at all: spawn capacity and return; the drain after
	// spawn registers will pick the message up.
	if len(candidates) == 0 {
		if err := s.CreateWorker(t, 1, s.descriptors[t].Config); err != nil {
			logging.Error().Str("workerType", string(t)).Err(err).Msg("router: spawn-on-absence failed")
			return
		}
		s.drainPending(t)
		return
	}

	// e. SERVER_BUSY: the sender told us it is saturated, exclude it.
	if env.Status == envelope.StatusFailed && env.Reason == envelope.ReasonServerBusy {
		metrics.BusyRejectionsTotal.WithLabelValues(string(t)).Inc()
		candidates = excludePID(candidates, fromPID)
	}

	// f. Still nothing eligible: back off and re-enter routing later.
	if len(candidates) == 0 {
		s.scheduleRetry(t, env)
		return
	}

	// g. Deterministic selection: first candidate in insertion order.
	target := candidates[0]
	if !s.prober.IsAlive(target) {
		logging.Error().Str("workerType", string(t)).Int("pid", target.PID()).Msg("router: send to dead worker")
		return
	}
	if err := target.Send(env); err != nil {
		metrics.MessagesRoutedTotal.WithLabelValues(string(t), "send_failed").Inc()
		logging.Error().Str("workerType", string(t)).Int("pid", target.PID()).Err(err).Msg("router: send failed")
		return
	}
	metrics.MessagesRoutedTotal.WithLabelValues(string(t), "forwarded").Inc()
	logging.Info().Str("workerType", string(t)).Int("pid", target.PID()).Str("messageId", env.MessageID).Msg("router: forwarded")
}

func (s *Supervisor) eligibleCandidates(t Type) []*Worker {
	all := s.registry.ByType(t)
	out := make([]*Worker, 0, len(all))
	for _, w := range all {
		if s.prober.Eligible(s.ctx, w) {
			out = append(out, w)
		}
	}
	return out
}

func excludePID(workers []*Worker, pid int) []*Worker {
	out := make([]*Worker, 0, len(workers))
	for _, w := range workers {
		if w.PID() != pid {
			out = append(out, w)
		}
	}
	return out
}
