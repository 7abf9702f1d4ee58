// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package graphql

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tomtom215/fleetkeeper/internal/envelope"
	"github.com/tomtom215/fleetkeeper/internal/fleet"
	"github.com/tomtom215/fleetkeeper/internal/workerkit"
)

// NewRuntime builds the GraphQLWorker's workerkit.Runtime, wiring the
// onProcessedMessage destination DatabaseWorker's getDataById reply
// addresses back to (spec.md §8 scenario (f)).
func NewRuntime(server *Server) *workerkit.Runtime {
	return workerkit.New(fleet.TypeGraphQL, map[string]workerkit.Handler{
		"onProcessedMessage": func(ctx context.Context, arg string, env envelope.Envelope) (workerkit.Reply, error) {
			server.OnProcessedMessage(env.MessageID, env.Data)
			// Terminal: the waiting resolver has been resolved, just ack.
			return workerkit.Reply{Destination: []string{envelope.Supervisor}}, nil
		},
	})
}

// Serve starts the GraphQLWorker's HTTP listener on addr until ctx is
// canceled.
func Serve(ctx context.Context, addr string, server *Server) error {
	httpServer := &http.Server{Addr: addr, Handler: server.Router()}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("graphql: listen and serve: %w", err)
	}
	return nil
}
