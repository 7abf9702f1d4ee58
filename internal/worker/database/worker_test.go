// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package database

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tomtom215/fleetkeeper/internal/envelope"
	httpworker "github.com/tomtom215/fleetkeeper/internal/worker/http"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func mustSignTestToken(t *testing.T) string {
	t.Helper()
	claims := httpworker.Claims{Username: "tester"}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return signed
}

type fakeHTTPEmitter struct {
	sent chan envelope.Envelope
}

func (f *fakeHTTPEmitter) Emit(env envelope.Envelope) error {
	f.sent <- env
	return nil
}

// TestCreateNewDataReplyReachesHttpWorkerOnProcessedMessage drives a real
// HttpWorker CreateProject request through a real DatabaseWorker
// createNewData handler and back through HttpWorker's real
// onProcessedMessage handler, proving the reply fan-out spec.md §8 scenario
// (a) describes actually resolves the waiting HTTP request rather than
// looping the completed envelope back to DatabaseWorker itself.
func TestCreateNewDataReplyReachesHttpWorkerOnProcessedMessage(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	dbRuntime := NewRuntime(store)
	createHandler := dbRuntime.Handlers["createNewData"]
	if createHandler == nil {
		t.Fatal("expected createNewData handler to be registered")
	}

	validator, err := httpworker.NewJWTValidator(testJWTSecret)
	if err != nil {
		t.Fatalf("NewJWTValidator: %v", err)
	}
	emitter := &fakeHTTPEmitter{sent: make(chan envelope.Envelope, 1)}
	httpServer := httpworker.NewServer(emitter, validator, nil)
	httpRuntime := httpworker.NewRuntime(httpServer)
	onProcessed := httpRuntime.Handlers["onProcessedMessage"]
	if onProcessed == nil {
		t.Fatal("expected onProcessedMessage handler to be registered")
	}

	body := bytes.NewBufferString(`{"title":"Election Coverage","keyword":"election","language":"en","start_date_crawl":"2026-01-01T00:00:00Z","end_date_crawl":"2026-01-02T00:00:00Z"}`)
	req := httptest.NewRequest("POST", "/", body)
	req.Header.Set("Authorization", "Bearer "+mustSignTestToken(t))
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		httpServer.Router().ServeHTTP(rec, req)
		close(done)
	}()

	var createEnv envelope.Envelope
	select {
	case createEnv = <-emitter.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for HttpWorker to emit a createNewData envelope")
	}
	if len(createEnv.Destination) != 1 || createEnv.Destination[0] != "DatabaseWorker/createNewData" {
		t.Fatalf("unexpected emitted destination: %+v", createEnv.Destination)
	}

	reply, err := createHandler(context.Background(), "", createEnv)
	if err != nil {
		t.Fatalf("createNewData handler: %v", err)
	}
	wantDest := []string{"HttpWorker/onProcessedMessage", "QueueWorker/produceMessage"}
	if len(reply.Destination) != len(wantDest) || reply.Destination[0] != wantDest[0] || reply.Destination[1] != wantDest[1] {
		t.Fatalf("expected createNewData reply addressed to %v, got %v", wantDest, reply.Destination)
	}

	// Simulate the router peeling HttpWorker/onProcessedMessage off the
	// reply's Destination list and forwarding only that entry, the way
	// onWorkerMessage's per-destination loop (router.go) does in production.
	forwarded := envelope.Envelope{
		MessageID:   createEnv.MessageID,
		Status:      envelope.StatusCompleted,
		Destination: []string{wantDest[0]},
		Data:        reply.Data,
	}
	if _, err := onProcessed(context.Background(), "", forwarded); err != nil {
		t.Fatalf("onProcessedMessage handler: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for CreateProject to resolve")
	}
	if rec.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}
