// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package workerkit is the process-side half of the supervisor/worker
// contract shared by every worker type: stdin/stdout framing, the periodic
// health heartbeat, and a handler table keyed by method name, per
// SPEC_FULL.md §4.7. Individual worker packages (internal/worker/*) supply
// only their Handlers map and domain dependencies.
package workerkit

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tomtom215/fleetkeeper/internal/envelope"
	"github.com/tomtom215/fleetkeeper/internal/fleet"
	"github.com/tomtom215/fleetkeeper/internal/logging"
)

// Reply is what a Handler returns on success: the payload to carry in the
// completed envelope's Data field, and the next-hop Destination(s) to route
// it to. The worker, not the router, knows where its own pipeline goes next
// (spec.md §4.5: "emit a reply envelope with status: completed, the result
// in data, and destination set to the next-hop worker(s)") — the inbound
// envelope's own Destination named this worker, not the next one, so it can
// never simply be echoed back.
type Reply struct {
	Data        interface{}
	Destination []string
}

// Handler processes one method call routed to this worker and returns the
// reply payload and its next-hop destination. It receives the full inbound
// envelope (not just its Data field) because some handlers — notably a
// front-end worker's onProcessedMessage — must correlate the reply against
// the MessageID an earlier Emit used, per SPEC_FULL.md §9's design note
// preferring a typed (arg, envelope) -> reply signature over an untyped
// payload. A non-nil error becomes a StatusError envelope, after which the
// runtime exits the process — spec.md's "worker is expected to exit after
// emitting" an error status.
type Handler func(ctx context.Context, arg string, env envelope.Envelope) (Reply, error)

// Runtime frames stdin/stdout, runs the heartbeat, and dispatches each
// inbound envelope to the registered Handler by method name.
type Runtime struct {
	WorkerType fleet.Type
	Handlers   map[string]Handler

	in  *fleet.FrameReader
	out *fleet.FrameWriter

	busy int32 // atomic: 0 idle, 1 processing one message
}

// New builds a Runtime reading/writing the process's own stdin/stdout, the
// duplex channel the supervisor's ProcessLauncher wires up on the other end.
func New(t fleet.Type, handlers map[string]Handler) *Runtime {
	return NewWithIO(t, handlers, os.Stdin, os.Stdout)
}

// NewWithIO builds a Runtime over arbitrary in/out streams. Production code
// always goes through New; tests use this to drive the runtime over an
// io.Pipe instead of the real process stdin/stdout.
func NewWithIO(t fleet.Type, handlers map[string]Handler, in io.Reader, out io.Writer) *Runtime {
	return &Runtime{
		WorkerType: t,
		Handlers:   handlers,
		in:         fleet.NewFrameReader(in),
		out:        fleet.NewFrameWriter(out),
	}
}

// Run starts the heartbeat loop and blocks reading framed envelopes until
// stdin closes (the supervisor killed or never replaced this process) or
// ctx is canceled. ctx is checked before each read; a read already waiting
// on stdin is not interrupted by cancellation.
func (r *Runtime) Run(ctx context.Context) error {
	instanceID := uuid.New().String()
	logging.Info().Str("workerType", string(r.WorkerType)).Str("instanceId", instanceID).Msg("worker starting")

	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.heartbeatLoop(hbCtx)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		env, err := r.in.ReadEnvelope()
		if err != nil {
			logging.Info().Str("workerType", string(r.WorkerType)).Err(err).Msg("worker stdin closed, exiting")
			return err
		}
		r.handle(ctx, env)
	}
}

// heartbeatLoop emits a StatusHealthy envelope addressed to the supervisor
// every fleet.HeartbeatInterval, the beat the watchdog relies on to decide
// a worker is still alive (spec.md §4.5).
func (r *Runtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(fleet.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat := envelope.Envelope{
				MessageID:   uuid.New().String(),
				Status:      envelope.StatusHealthy,
				Destination: []string{envelope.Supervisor},
			}
			if err := r.out.WriteEnvelope(beat); err != nil {
				logging.Error().Err(err).Msg("workerkit: heartbeat write failed")
			}
		}
	}
}

// handle implements the single-threaded busy protocol: a message that
// arrives while another is still being processed is rejected immediately
// with SERVER_BUSY rather than queued, letting the router's backpressure
// step (spec.md §4.4.e) pick a different peer.
func (r *Runtime) handle(ctx context.Context, env envelope.Envelope) {
	if !atomic.CompareAndSwapInt32(&r.busy, 0, 1) {
		r.reply(env, envelope.StatusFailed, envelope.ReasonServerBusy, nil, env.Destination)
		return
	}
	go func() {
		defer atomic.StoreInt32(&r.busy, 0)
		r.dispatch(ctx, env)
	}()
}

// dispatch resolves each destination's method against the handler table and
// replies per spec.md §4.4.b: a handler error (including an unknown method)
// emits StatusError and terminates the process, since a worker is not
// expected to continue past a non-recoverable failure. A successful
// handler's reply is addressed to whatever Destination it returned, not the
// inbound one — this worker's method has finished, so the inbound
// destination (this worker) is no longer where the envelope belongs.
func (r *Runtime) dispatch(ctx context.Context, env envelope.Envelope) {
	for _, dest := range env.Destination {
		method, arg := envelope.MethodAndArg(dest)
		handler, ok := r.Handlers[method]
		if !ok {
			logging.Error().Str("method", method).Msg("workerkit: no handler registered")
			r.reply(env, envelope.StatusError, "unknown method: "+method, nil, env.Destination)
			os.Exit(1)
		}

		result, err := handler(ctx, arg, env)
		if err != nil {
			logging.Error().Str("method", method).Err(err).Msg("workerkit: handler error")
			r.reply(env, envelope.StatusError, err.Error(), nil, env.Destination)
			os.Exit(1)
		}
		r.reply(env, envelope.StatusCompleted, "", result.Data, result.Destination)
	}
}

// Emit sends a spontaneous envelope that is not a reply to any inbound
// message — e.g. a front-end worker translating a fresh external request
// into a "DatabaseWorker/createNewData" envelope, or QueueWorker forwarding
// a consumed broker message into the fleet. Callers supply their own
// MessageID.
func (r *Runtime) Emit(env envelope.Envelope) error {
	if err := r.out.WriteEnvelope(env); err != nil {
		logging.Error().Err(err).Msg("workerkit: emit failed")
		return err
	}
	return nil
}

func (r *Runtime) reply(orig envelope.Envelope, status envelope.Status, reason string, data interface{}, destination []string) {
	out := envelope.Envelope{
		MessageID:   orig.MessageID,
		Status:      status,
		Reason:      reason,
		Destination: destination,
		Data:        data,
	}
	if err := r.out.WriteEnvelope(out); err != nil {
		logging.Error().Err(err).Msg("workerkit: reply write failed")
	}
}
