// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package envelope

import (
	"errors"
	"regexp"
)

// ErrInvalidWorkerType is returned by ParseDestination when the worker-type
// prefix does not match the destination grammar in spec.md §6.
var ErrInvalidWorkerType = errors.New("envelope: worker type must match [A-Za-z][A-Za-z0-9]*")

var workerTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// Destination is a parsed `WorkerType[/method[/arg]]` or the literal
// "supervisor" string.
type Destination struct {
	WorkerType string
	Method     string
	Arg        string
	Raw        string
}

// ParseDestination parses a single destination string per the grammar in
// spec.md §6:
//
//	destination := "supervisor" | WorkerType ("/" Segment)*
//
// It rejects a WorkerType prefix that is not a valid identifier; it does not
// validate Method/Arg, which are opaque to the router.
func ParseDestination(raw string) (Destination, error) {
	wt := WorkerType(raw)
	if wt != Supervisor && !workerTypePattern.MatchString(wt) {
		return Destination{}, ErrInvalidWorkerType
	}
	method, arg := MethodAndArg(raw)
	return Destination{WorkerType: wt, Method: method, Arg: arg, Raw: raw}, nil
}
