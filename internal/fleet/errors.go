// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package fleet

import "errors"

var (
	// ErrInvalidCount is returned by CreateWorker when count < 1.
	ErrInvalidCount = errors.New("fleet: count must be >= 1")
	// ErrWorkerChannelFull is returned by Worker.Send when the inbound
	// channel buffer is saturated; the caller (forwardToPeer) treats this
	// the same as a send to a dead worker.
	ErrWorkerChannelFull = errors.New("fleet: worker channel is full")
	// ErrUnknownWorkerType is returned by CreateWorker when the worker type
	// is not in KnownTypes (spec.md §9).
	ErrUnknownWorkerType = errors.New("fleet: unknown worker type")
	// ErrSpawnFailed is returned when a worker process could not be
	// launched after the one-retry backoff spec.md §4.1 allows.
	ErrSpawnFailed = errors.New("fleet: spawn failed after retry")
)
