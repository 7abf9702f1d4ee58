// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package main is the entry point for fleetkeeper.
//
// # Application Architecture
//
// This single binary runs in one of two modes, selected by the presence of
// FLEETKEEPER_WORKER_TYPE in its environment (SPEC_FULL.md §5):
//
//   - Absent: supervisor mode. Loads FleetConfig, spawns each declared
//     worker type's configured count of child processes by re-executing this same binary with
//     FLEETKEEPER_WORKER_TYPE set, and runs the envelope router until a
//     shutdown signal arrives.
//   - Present: worker mode. Runs the named worker type's main loop
//     (workerkit.Runtime) against the inherited stdin/stdout duplex
//     channel, until that channel closes or the process is killed.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables prefixed FLEETKEEPER_, an optional
// YAML file, then built-in defaults.
//
// # Signal Handling
//
// Supervisor mode handles graceful shutdown on SIGINT and SIGTERM by
// canceling the context the spawn engine and router run under; worker
// processes are started under that context and are killed when it is
// canceled.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/fleetkeeper/internal/config"
	"github.com/tomtom215/fleetkeeper/internal/envelope"
	"github.com/tomtom215/fleetkeeper/internal/fleet"
	"github.com/tomtom215/fleetkeeper/internal/idempotency"
	"github.com/tomtom215/fleetkeeper/internal/logging"
	"github.com/tomtom215/fleetkeeper/internal/worker/database"
	"github.com/tomtom215/fleetkeeper/internal/worker/graphql"
	"github.com/tomtom215/fleetkeeper/internal/worker/http"
	"github.com/tomtom215/fleetkeeper/internal/worker/queue"
	"github.com/tomtom215/fleetkeeper/internal/workerkit"
)

// runtimeEmitter bridges a front-end worker's Server (built before its
// workerkit.Runtime exists) to that Runtime's Emit method, breaking the
// construction cycle between the two without a partially-built Runtime.
type runtimeEmitter struct {
	rt *workerkit.Runtime
}

func (e *runtimeEmitter) Emit(env envelope.Envelope) error {
	return e.rt.Emit(env)
}

func main() {
	logging.Init(logging.Config{Level: "info", Format: "console", Caller: false})

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	if t := os.Getenv(fleet.WorkerTypeEnv); t != "" {
		runWorker(fleet.Type(t), cfg)
		return
	}
	runSupervisor(cfg)
}

// runSupervisor implements spec.md §4.1's startup contract: spawn each
// declared worker type's configured count, then run the single-actor router until a
// shutdown signal arrives.
func runSupervisor(cfg *config.FleetConfig) {
	logging.Info().Msg("starting fleetkeeper supervisor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	sup := fleet.New(cfg.Descriptors(), fleet.ProcessLauncher{})

	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor exited with error")
	}
	logging.Info().Msg("supervisor stopped")
}

// runWorker implements spec.md §4.6's worker main-loop contract: construct
// the named worker type's domain dependencies and block on its
// workerkit.Runtime until stdin closes.
func runWorker(t fleet.Type, cfg *config.FleetConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	switch t {
	case fleet.TypeDatabase:
		runDatabaseWorker(ctx, cfg)
	case fleet.TypeQueue:
		runQueueWorker(ctx, cfg)
	case fleet.TypeHTTP:
		runHTTPWorker(ctx, cfg)
	case fleet.TypeGraphQL:
		runGraphQLWorker(ctx, cfg)
	default:
		logging.Fatal().Str("workerType", string(t)).Msg("unknown worker type")
	}
}

func runDatabaseWorker(ctx context.Context, cfg *config.FleetConfig) {
	store, err := database.Open(cfg.Database.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("database worker: failed to open store")
	}
	defer store.Close()

	rt := database.NewRuntime(store)
	if err := rt.Run(ctx); err != nil {
		logging.Info().Err(err).Msg("database worker: runtime stopped")
	}
}

func runQueueWorker(ctx context.Context, cfg *config.FleetConfig) {
	pub, err := queue.NewPublisher(queue.Config{
		ProduceTopic:             cfg.Queue.ProduceTopic,
		ConsumeTopic:             cfg.Queue.ConsumeTopic,
		ConsumeCompensationTopic: cfg.Queue.ConsumeCompensationTopic,
		BrokerURL:                cfg.Queue.BrokerURL,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("queue worker: failed to build publisher")
	}
	defer pub.Close()

	rt := queue.NewRuntime(pub)

	consumer, err := queue.NewConsumer(queue.Config{
		ProduceTopic:             cfg.Queue.ProduceTopic,
		ConsumeTopic:             cfg.Queue.ConsumeTopic,
		ConsumeCompensationTopic: cfg.Queue.ConsumeCompensationTopic,
		BrokerURL:                cfg.Queue.BrokerURL,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("queue worker: failed to build consumer")
	}
	defer consumer.Close()

	go func() {
		if err := consumer.Run(ctx, rt); err != nil {
			logging.Error().Err(err).Msg("queue worker: consumer stopped")
		}
	}()

	if err := rt.Run(ctx); err != nil {
		logging.Info().Err(err).Msg("queue worker: runtime stopped")
	}
}

func runHTTPWorker(ctx context.Context, cfg *config.FleetConfig) {
	validator, err := http.NewJWTValidator(cfg.HTTP.JWTSecret)
	if err != nil {
		logging.Fatal().Err(err).Msg("http worker: failed to build jwt validator")
	}

	idem, err := idempotency.Open(cfg.Idempotency.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("http worker: failed to open idempotency store")
	}
	defer idem.Close()

	holder := &runtimeEmitter{}
	server := http.NewServer(holder, validator, idem)
	rt := http.NewRuntime(server)
	holder.rt = rt

	go func() {
		if err := http.Serve(ctx, cfg.HTTP.Addr, server); err != nil {
			logging.Error().Err(err).Msg("http worker: listener stopped")
		}
	}()

	if err := rt.Run(ctx); err != nil {
		logging.Info().Err(err).Msg("http worker: runtime stopped")
	}
}

func runGraphQLWorker(ctx context.Context, cfg *config.FleetConfig) {
	validator, err := http.NewJWTValidator(cfg.GraphQL.JWTSecret)
	if err != nil {
		logging.Fatal().Err(err).Msg("graphql worker: failed to build jwt validator")
	}

	holder := &runtimeEmitter{}
	server := graphql.NewServer(holder, validator)
	rt := graphql.NewRuntime(server)
	holder.rt = rt

	go func() {
		if err := graphql.Serve(ctx, cfg.GraphQL.Addr, server); err != nil {
			logging.Error().Err(err).Msg("graphql worker: listener stopped")
		}
	}()

	if err := rt.Run(ctx); err != nil {
		logging.Info().Err(err).Msg("graphql worker: runtime stopped")
	}
}
