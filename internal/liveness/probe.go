// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package liveness decides whether a worker process can currently receive a
// message: not exited, not killed, and OS-schedulable. The check is
// advisory — a send chosen on the strength of it can still fail if the
// channel closes between the check and the send.
package liveness

import (
	"context"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/tomtom215/fleetkeeper/internal/logging"
)

// SchedState is the coarse OS scheduler state of a process, abstracted
// behind a platform-independent enum per spec.md §9's open question on the
// Linux-specific `ps -o state=` probe.
type SchedState int

const (
	// StateUnknown is returned when the platform probe is unsupported or
	// fails; it is treated the same as "not Running" by the router.
	StateUnknown SchedState = iota
	StateIdle
	StateRunnable
	StateRunning
)

// Checkable is the minimal worker-record surface the probe needs. It is
// satisfied by *fleet.Worker without this package importing fleet, avoiding
// the cyclic supervisor<->worker reference spec.md §9 flags.
type Checkable interface {
	PID() int
	Exited() bool
	Killed() bool
}

// StateProbe looks up the OS scheduler state of a PID. Production code uses
// GopsutilProbe; tests substitute a fake.
type StateProbe interface {
	State(ctx context.Context, pid int) SchedState
}

// GopsutilProbe queries /proc (or the platform equivalent) via gopsutil.
type GopsutilProbe struct{}

// State implements StateProbe. It returns StateUnknown, logged at debug, if
// the process cannot be inspected — a worker that has already exited is a
// normal race with the exit handler, not a fault worth escalating.
func (GopsutilProbe) State(ctx context.Context, pid int) SchedState {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		logging.Debug().Int("pid", pid).Err(err).Msg("liveness: process lookup failed")
		return StateUnknown
	}
	statuses, err := proc.StatusWithContext(ctx)
	if err != nil || len(statuses) == 0 {
		logging.Debug().Int("pid", pid).Err(err).Msg("liveness: status lookup failed")
		return StateUnknown
	}
	switch statuses[0] {
	case process.Running:
		return StateRunning
	case process.Sleep, process.Idle, process.Wait, process.Stop, process.Lock:
		return StateIdle
	default:
		return StateUnknown
	}
}

// Prober combines exit/kill bookkeeping with an OS scheduler-state lookup
// into the single isAlive/eligible decision spec.md §4.2 describes.
type Prober struct {
	OS StateProbe
}

// New returns a Prober backed by the real OS scheduler-state probe.
func New() *Prober {
	return &Prober{OS: GopsutilProbe{}}
}

// IsAlive reports whether w has neither exited nor been killed. This alone
// is not sufficient to select w as a forwarding target — see Eligible.
func (p *Prober) IsAlive(w Checkable) bool {
	return !w.Exited() && !w.Killed()
}

// Eligible reports whether w is alive and not currently `R` (running) per
// spec.md §4.2: a peer already running is treated as possibly busy on
// earlier work, so the router prefers an idle sibling when one exists. A
// probe failure (StateUnknown) degrades to "eligible" so a single
// unsupported-platform or transient lookup failure never starves routing.
func (p *Prober) Eligible(ctx context.Context, w Checkable) bool {
	if !p.IsAlive(w) {
		return false
	}
	state := p.OS.State(ctx, w.PID())
	return state != StateRunning
}
