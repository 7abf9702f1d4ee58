// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package database

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/tomtom215/fleetkeeper/internal/envelope"
	"github.com/tomtom215/fleetkeeper/internal/fleet"
	"github.com/tomtom215/fleetkeeper/internal/workerkit"
)

// onCreatedDestination is where a completed createNewData reply goes next:
// the front-end worker waiting on its HTTP response, and the QueueWorker
// that fans the new project out to the crawl-trigger topic (spec.md §8
// scenario (a)).
var onCreatedDestination = []string{"HttpWorker/onProcessedMessage", "QueueWorker/produceMessage"}

// onGetByIdDestination is where a completed getDataById reply goes next:
// only GraphQLWorker calls this method today, resolving a federated
// reference (spec.md §8 scenario (f)).
var onGetByIdDestination = []string{"GraphQLWorker/onProcessedMessage"}

// NewRuntime builds the DatabaseWorker's workerkit.Runtime, wiring the
// createNewData/getDataById/updateData methods SPEC_FULL.md §4.7 names onto
// Store's CRUD surface.
func NewRuntime(store *Store) *workerkit.Runtime {
	return workerkit.New(fleet.TypeDatabase, map[string]workerkit.Handler{
		"createNewData": func(ctx context.Context, arg string, env envelope.Envelope) (workerkit.Reply, error) {
			var p Project
			if err := decodeInto(env.Data, &p); err != nil {
				return workerkit.Reply{}, err
			}
			created, err := store.CreateNewData(ctx, p)
			if err != nil {
				return workerkit.Reply{}, err
			}
			return workerkit.Reply{Data: created, Destination: onCreatedDestination}, nil
		},
		"getDataById": func(ctx context.Context, arg string, env envelope.Envelope) (workerkit.Reply, error) {
			p, err := store.GetDataByID(ctx, arg)
			if err != nil {
				return workerkit.Reply{}, err
			}
			return workerkit.Reply{Data: p, Destination: onGetByIdDestination}, nil
		},
		"updateData": func(ctx context.Context, arg string, env envelope.Envelope) (workerkit.Reply, error) {
			var p Project
			if err := decodeInto(env.Data, &p); err != nil {
				return workerkit.Reply{}, err
			}
			updated, err := store.UpdateData(ctx, arg, p.Keyword, p.StartDateCrawl, p.EndDateCrawl)
			if err != nil {
				return workerkit.Reply{}, err
			}
			return workerkit.Reply{Data: updated, Destination: []string{envelope.Supervisor}}, nil
		},
	})
}

// decodeInto round-trips an envelope's already-unmarshaled Data field (a
// map[string]interface{} from goccy/go-json's generic decode) back through
// JSON into a concrete struct.
func decodeInto(data interface{}, dst interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("database: re-encode envelope data: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("database: decode envelope data: %w", err)
	}
	return nil
}
