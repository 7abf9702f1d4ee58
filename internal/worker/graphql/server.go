// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package graphql is the GraphQLWorker: a minimal hand-rolled federated
// entity-resolution endpoint implementing spec.md §8 scenario (f). No
// GraphQL library exists anywhere in the retrieved reference corpus, so this
// one surface is built on net/http + encoding/json directly rather than on a
// library the corpus never demonstrates (see DESIGN.md).
package graphql

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tomtom215/fleetkeeper/internal/envelope"
	"github.com/tomtom215/fleetkeeper/internal/logging"
	"github.com/tomtom215/fleetkeeper/internal/middleware"
	httpworker "github.com/tomtom215/fleetkeeper/internal/worker/http"
)

var validate = validator.New()

// ReplyTimeout bounds how long a resolver waits for DatabaseWorker's reply.
const ReplyTimeout = 10 * time.Second

// Emitter is the subset of workerkit.Runtime the resolver needs.
type Emitter interface {
	Emit(env envelope.Envelope) error
}

// Server implements the __resolveReference federation entry point,
// grounded on the teacher's internal/api/chi_router.go for its middleware
// stack and on http.Server for the request/reply correlation pattern (the
// same problem, a different query shape).
type Server struct {
	emitter   Emitter
	validator *httpworker.JWTValidator
	pending   *pendingReplies
}

// NewServer builds the GraphQLWorker's HTTP surface. validator is the same
// HS256 JWT validator HttpWorker uses; the two front ends share one secret.
func NewServer(emitter Emitter, validator *httpworker.JWTValidator) *Server {
	return &Server{emitter: emitter, validator: validator, pending: newPendingReplies()}
}

// OnProcessedMessage resolves the pending resolver call matching messageID,
// the fan-out target DatabaseWorker's getDataById reply addresses back to.
func (s *Server) OnProcessedMessage(messageID string, project interface{}) {
	s.pending.resolve(messageID, project)
}

// Router builds the chi handler for the single federated entity endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"POST"},
	}))
	r.Use(httprate.LimitByIP(120, time.Minute))
	r.Use(middleware.Prometheus("GraphQLWorker"))

	r.Route("/", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/", s.ResolveReference)
	})

	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeGraphQLError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := s.validator.Validate(token); err != nil {
			logging.Warn().Err(err).Msg("graphql: rejected invalid bearer token")
			writeGraphQLError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// resolveReferenceRequest is the federation gateway's representation
// request, spec.md §8 scenario (f): `__resolveReference({_id:"X"})`.
type resolveReferenceRequest struct {
	Representations []struct {
		Typename string `json:"__typename" validate:"required"`
		ID       string `json:"_id" validate:"required"`
	} `json:"representations" validate:"required,min=1,dive"`
}

// ResolveReference implements spec.md §8 scenario (f): a federated gateway
// call is translated into a DatabaseWorker/getDataById/<id> envelope, and
// the reply is returned as the resolved entity.
func (s *Server) ResolveReference(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resolveReferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGraphQLError(w, http.StatusBadRequest, "malformed representations")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeGraphQLError(w, http.StatusBadRequest, "invalid representations: "+err.Error())
		return
	}
	id := req.Representations[0].ID

	messageID := uuid.New().String()
	waiter := s.pending.register(messageID)
	defer s.pending.forget(messageID)

	env := envelope.Envelope{
		MessageID:   messageID,
		Status:      envelope.StatusCompleted,
		Destination: []string{"DatabaseWorker/getDataById/" + id},
	}
	if err := s.emitter.Emit(env); err != nil {
		logging.Error().Err(err).Msg("graphql: failed to emit getDataById envelope")
		writeGraphQLError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	select {
	case project := <-waiter:
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"_entities": []interface{}{project}}})
	case <-time.After(ReplyTimeout):
		writeGraphQLError(w, http.StatusGatewayTimeout, "timed out waiting for database worker")
	case <-ctx.Done():
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeGraphQLError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"errors": []map[string]string{{"message": message}}})
}

// pendingReplies correlates an outstanding resolver call with the eventual
// DatabaseWorker reply, keyed by MessageID, mirroring http.Server's
// pendingReplies (the two front ends solve the identical correlation
// problem over different wire shapes).
type pendingReplies struct {
	mu sync.Mutex
	m  map[string]chan interface{}
}

func newPendingReplies() *pendingReplies {
	return &pendingReplies{m: make(map[string]chan interface{})}
}

func (p *pendingReplies) register(messageID string) chan interface{} {
	ch := make(chan interface{}, 1)
	p.mu.Lock()
	p.m[messageID] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingReplies) forget(messageID string) {
	p.mu.Lock()
	delete(p.m, messageID)
	p.mu.Unlock()
}

func (p *pendingReplies) resolve(messageID string, result interface{}) bool {
	p.mu.Lock()
	ch, ok := p.m[messageID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- result:
	default:
	}
	return true
}
