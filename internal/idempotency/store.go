// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package idempotency is the BadgerDB-backed idempotency-key cache the
// HttpWorker consults before accepting a create-project request, standing
// in for the Redis deployment spec.md's original describes (no Redis client
// exists anywhere in the reference corpus; see SPEC_FULL.md §3).
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tomtom215/fleetkeeper/internal/logging"
)

var (
	// StoreOperationsTotal mirrors the OIDC JTI tracker's operation counter,
	// relabeled for the idempotency-key domain.
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_store_operations_total",
			Help: "Total number of idempotency-key store operations",
		},
		[]string{"operation", "outcome"},
	)

	// ReplayAttemptsTotal counts requests that reused a key already seen
	// and not yet expired — a duplicate submission, not a security event.
	ReplayAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idempotency_key_reuse_total",
			Help: "Total number of idempotency keys presented a second time within their TTL",
		},
	)
)

// keyPrefix namespaces idempotency keys within the shared Badger instance.
const keyPrefix = "idem:"

// entry is the value stored for a seen idempotency key: it records just
// enough to let a retried request recover the original response rather than
// reprocess it.
type entry struct {
	FirstSeen  time.Time `json:"firstSeen"`
	ProjectID  string    `json:"projectId"`
	StatusCode int       `json:"statusCode"`
}

// ErrClosed is returned once the store has been closed.
var ErrClosed = errors.New("idempotency: store is closed")

// Store is a BadgerDB-backed idempotency-key cache, grounded on the
// teacher's JTI replay tracker (internal/auth/jti_tracker.go): same
// check-then-set-with-TTL shape, applied to project-creation requests
// instead of OIDC logout tokens.
type Store struct {
	db     *badger.DB
	closed bool
}

// Open opens (or creates) a BadgerDB instance at path for idempotency-key
// tracking. Pass an empty path for an in-memory instance, used by tests.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("idempotency: open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying BadgerDB handle.
func (s *Store) Close() error {
	s.closed = true
	return s.db.Close()
}

// Seen reports whether key has already been recorded and not yet expired.
// If it has, the previously stored response is returned so the caller can
// reply with it instead of reprocessing the request (spec.md §8 scenario
// (b): a duplicate idempotency key returns the original outcome, status
// 208, rather than creating a second project).
func (s *Store) Seen(ctx context.Context, key string) (bool, string, int, error) {
	if s.closed {
		StoreOperationsTotal.WithLabelValues("check", "failure").Inc()
		return false, "", 0, ErrClosed
	}

	var found entry
	var exists bool

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &found)
		})
	})
	if err != nil {
		StoreOperationsTotal.WithLabelValues("check", "failure").Inc()
		return false, "", 0, fmt.Errorf("idempotency: check: %w", err)
	}
	if exists {
		ReplayAttemptsTotal.Inc()
		StoreOperationsTotal.WithLabelValues("check", "replay").Inc()
	}
	return exists, found.ProjectID, found.StatusCode, nil
}

// Store records key against the given outcome for ttl, after which Badger's
// own TTL eviction reclaims it. Callers call Seen first; Store is expected
// to run only on the first sighting of a key.
func (s *Store) Store(ctx context.Context, key, projectID string, statusCode int, ttl time.Duration) error {
	if s.closed {
		StoreOperationsTotal.WithLabelValues("store", "failure").Inc()
		return ErrClosed
	}

	data, err := json.Marshal(entry{
		FirstSeen:  time.Now(),
		ProjectID:  projectID,
		StatusCode: statusCode,
	})
	if err != nil {
		return fmt.Errorf("idempotency: marshal: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+key), data).WithTTL(ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		StoreOperationsTotal.WithLabelValues("store", "failure").Inc()
		logging.Error().Str("key", key).Err(err).Msg("idempotency: store failed")
		return fmt.Errorf("idempotency: store: %w", err)
	}
	StoreOperationsTotal.WithLabelValues("store", "success").Inc()
	return nil
}
