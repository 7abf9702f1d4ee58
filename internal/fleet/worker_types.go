// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package fleet implements the supervisor-side coordination core: the spawn
// and restart engine, the worker registry, the pending-message table, and
// the envelope router. Workers themselves live under internal/worker/*.
package fleet

// Type is a closed enum of the declared worker types, per spec.md §9's
// design note preferring a tagged variant over a bare string in the
// implementation language, with the string form reserved for the wire
// destination grammar.
type Type string

const (
	TypeDatabase Type = "DatabaseWorker"
	TypeHTTP     Type = "HttpWorker"
	TypeQueue    Type = "QueueWorker"
	TypeGraphQL  Type = "GraphQLWorker"
)

// KnownTypes lists every worker type this binary knows how to spawn. A
// destination whose WorkerType is not in this set is an ErrUnknownWorkerType
// on the wire rather than a panic, per spec.md §9.
var KnownTypes = map[Type]struct{}{
	TypeDatabase: {},
	TypeHTTP:     {},
	TypeQueue:    {},
	TypeGraphQL:  {},
}

// Descriptor is the static configuration for a declared worker type: name,
// desired count, and an opaque environment config. Descriptors are loaded at
// supervisor init and are immutable during the run (spec.md §3).
type Descriptor struct {
	Name   Type
	Count  int
	Config map[string]string
}
