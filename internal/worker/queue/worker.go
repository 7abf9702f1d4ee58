// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package queue

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/tomtom215/fleetkeeper/internal/envelope"
	"github.com/tomtom215/fleetkeeper/internal/fleet"
	"github.com/tomtom215/fleetkeeper/internal/workerkit"
)

// Producer is the subset of Publisher NewRuntime depends on, narrowed so
// tests can substitute a fake instead of a live NATS connection.
type Producer interface {
	ProduceMessage(ctx context.Context, event CrawlTrigger) error
}

// NewRuntime builds the QueueWorker's workerkit.Runtime, wiring the
// produceMessage destination from spec.md §8 scenario (a) onto Publisher.
func NewRuntime(pub Producer) *workerkit.Runtime {
	return workerkit.New(fleet.TypeQueue, map[string]workerkit.Handler{
		"produceMessage": func(ctx context.Context, arg string, env envelope.Envelope) (workerkit.Reply, error) {
			var event CrawlTrigger
			raw, err := json.Marshal(env.Data)
			if err != nil {
				return workerkit.Reply{}, fmt.Errorf("queue: re-encode envelope data: %w", err)
			}
			if err := json.Unmarshal(raw, &event); err != nil {
				return workerkit.Reply{}, fmt.Errorf("queue: decode crawl trigger: %w", err)
			}
			if err := pub.ProduceMessage(ctx, event); err != nil {
				return workerkit.Reply{}, err
			}
			// Terminal: nothing downstream waits on a crawl trigger being
			// published, so the reply just acks back to the supervisor.
			return workerkit.Reply{Destination: []string{envelope.Supervisor}}, nil
		},
	})
}
