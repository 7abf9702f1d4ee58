// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package http is the HttpWorker: a chi-routed REST front end that
// translates the create-project request of spec.md §8 scenarios (a)-(c)
// into envelopes and translates the fleet's reply back into an HTTP
// response, grounded on the teacher's internal/api/chi_router.go.
package http

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
	"github.com/tomtom215/fleetkeeper/internal/idempotency"
	"github.com/tomtom215/fleetkeeper/internal/logging"
	"github.com/tomtom215/fleetkeeper/internal/middleware"
)

// validate holds the struct-tag validator, shared across requests per the
// teacher's internal/api/handlers_plex_friends.go convention.
var validate = validator.New()

// ReplyTimeout bounds how long a request waits for the fleet's reply before
// the HTTP call fails with a 504, guarding against a silently dropped
// envelope (e.g. every DatabaseWorker candidate busy and the retry not yet
// fired) from hanging a client connection forever.
const ReplyTimeout = 10 * time.Second

// Emitter is the subset of workerkit.Runtime the HTTP handler needs: the
// ability to hand a freshly-built envelope to the fleet.
type Emitter interface {
	Emit(env envelope.Envelope) error
}

// Server wires chi, JWT auth, and the idempotency store around the
// CreateProject handler.
type Server struct {
	emitter   Emitter
	validator *JWTValidator
	idem      *idempotency.Store
	idemTTL   time.Duration
	pending   *pendingReplies
}

// NewServer builds the HttpWorker's HTTP surface.
func NewServer(emitter Emitter, validator *JWTValidator, idem *idempotency.Store) *Server {
	return &Server{
		emitter:   emitter,
		validator: validator,
		idem:      idem,
		idemTTL:   24 * time.Hour,
		pending:   newPendingReplies(),
	}
}

// OnProcessedMessage resolves the pending HTTP request matching messageID,
// the handler HttpWorker registers under "onProcessedMessage" for the reply
// fan-out DatabaseWorker addresses back to it (spec.md §8 scenario (a)).
func (s *Server) OnProcessedMessage(messageID, projectID string, body interface{}) {
	s.pending.resolve(messageID, onProcessedMessageResult{projectID: projectID, body: body})
}

// Router builds the chi handler, mirroring the teacher's global middleware
// order (request ID, real IP, panic recovery, CORS, rate limiting) ahead of
// the authenticated API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))
	r.Use(httprate.LimitByIP(120, time.Minute))
	r.Use(middleware.Prometheus("HttpWorker"))

	r.Route("/", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/", s.CreateProject)
	})

	return r
}

// authenticate requires a valid HS256 bearer token, per spec.md §8
// scenario's `Authorization: Bearer <valid>` requirement.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if _, err := s.validator.Validate(token); err != nil {
			logging.Warn().Err(err).Msg("http: rejected invalid bearer token")
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// createProjectRequest is the request body spec.md §8 scenario (a) names.
type createProjectRequest struct {
	Title          string `json:"title" validate:"required,max=200"`
	Description    string `json:"description" validate:"max=2000"`
	Keyword        string `json:"keyword" validate:"required"`
	Category       string `json:"category"`
	Language       string `json:"language" validate:"omitempty,len=2"`
	TweetToken     string `json:"tweetToken"`
	StartDateCrawl string `json:"start_date_crawl" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	EndDateCrawl   string `json:"end_date_crawl" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// CreateProject implements spec.md §8 scenarios (a)-(c): the happy path,
// the idempotency-key replay (no second DB row on reuse), and malformed
// input (400, no envelope ever emitted).
func (s *Server) CreateProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idemKey := r.Header.Get("idempotent-key")
	if idemKey != "" {
		if seen, projectID, _, err := s.idem.Seen(ctx, idemKey); err == nil && seen {
			writeJSON(w, http.StatusAlreadyReported, map[string]string{"id": projectID, "status": "duplicate"})
			return
		}
	}

	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	messageID := uuid.New().String()
	waiter := s.pending.register(messageID)
	defer s.pending.forget(messageID)

	env := envelope.Envelope{
		MessageID:   messageID,
		Status:      envelope.StatusCompleted,
		Destination: []string{"DatabaseWorker/createNewData"},
		Data:        req,
	}
	if err := s.emitter.Emit(env); err != nil {
		logging.Error().Err(err).Msg("http: failed to emit createNewData envelope")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	select {
	case result := <-waiter:
		if idemKey != "" {
			_ = s.idem.Store(ctx, idemKey, result.projectID, http.StatusCreated, s.idemTTL)
		}
		writeJSON(w, http.StatusCreated, result.body)
	case <-time.After(ReplyTimeout):
		http.Error(w, "timed out waiting for database worker", http.StatusGatewayTimeout)
	case <-ctx.Done():
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// onProcessedMessageResult is what a completed DatabaseWorker reply
// resolves a pending HTTP request to.
type onProcessedMessageResult struct {
	projectID string
	body      interface{}
}

// pendingReplies correlates an outstanding HTTP request with the eventual
// "HttpWorker/onProcessedMessage" envelope carrying its result, keyed by
// the MessageID the request was emitted under (preserved end-to-end
// through the DatabaseWorker's reply per spec.md §3).
type pendingReplies struct {
	mu sync.Mutex
	m  map[string]chan onProcessedMessageResult
}

func newPendingReplies() *pendingReplies {
	return &pendingReplies{m: make(map[string]chan onProcessedMessageResult)}
}

func (p *pendingReplies) register(messageID string) chan onProcessedMessageResult {
	ch := make(chan onProcessedMessageResult, 1)
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

func (p *pendingReplies) resolve(messageID string, result onProcessedMessageResult) bool {
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
