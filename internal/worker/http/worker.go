// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/tomtom215/fleetkeeper/internal/envelope"
	"github.com/tomtom215/fleetkeeper/internal/fleet"
	"github.com/tomtom215/fleetkeeper/internal/workerkit"
)

// NewRuntime builds the HttpWorker's workerkit.Runtime, wiring the
// onProcessedMessage destination DatabaseWorker's reply fan-out targets
// (spec.md §8 scenario (a)) onto Server.OnProcessedMessage. The reply is
// correlated by env.MessageID, the same ID CreateProject emitted the
// original createNewData envelope under.
func NewRuntime(server *Server) *workerkit.Runtime {
	return workerkit.New(fleet.TypeHTTP, map[string]workerkit.Handler{
		"onProcessedMessage": func(ctx context.Context, arg string, env envelope.Envelope) (workerkit.Reply, error) {
			raw, err := json.Marshal(env.Data)
			if err != nil {
				return workerkit.Reply{}, fmt.Errorf("http: re-encode envelope data: %w", err)
			}
			var project struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(raw, &project); err != nil {
				return workerkit.Reply{}, fmt.Errorf("http: decode project reply: %w", err)
			}
			server.OnProcessedMessage(env.MessageID, project.ID, env.Data)
			// Terminal: the waiting HTTP request has been resolved, just ack.
			return workerkit.Reply{Destination: []string{envelope.Supervisor}}, nil
		},
	})
}

// Serve starts the HTTP listener on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, server *Server) error {
	httpServer := &http.Server{Addr: addr, Handler: server.Router()}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http: listen and serve: %w", err)
	}
	return nil
}
