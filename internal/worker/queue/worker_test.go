// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/tomtom215/fleetkeeper/internal/envelope"
)

type fakeProducer struct {
	received []CrawlTrigger
	failNext bool
}

func (f *fakeProducer) ProduceMessage(ctx context.Context, event CrawlTrigger) error {
	if f.failNext {
		return errors.New("broker unavailable")
	}
	f.received = append(f.received, event)
	return nil
}

func TestProduceMessageHandlerForwardsDecodedEvent(t *testing.T) {
	producer := &fakeProducer{}
	rt := NewRuntime(producer)

	// Exercise the handler the same way workerkit's dispatch would: via the
	// registered method, with envelope.Data as the generic
	// map[string]interface{} goccy/go-json produces.
	handler := rt.Handlers["produceMessage"]
	if handler == nil {
		t.Fatal("expected produceMessage handler to be registered")
	}

	raw, _ := json.Marshal(CrawlTrigger{ProjectID: "p1", Keyword: "election", Language: "en"})
	var data interface{}
	_ = json.Unmarshal(raw, &data)

	if _, err := handler(context.Background(), "", envelope.Envelope{Data: data}); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(producer.received) != 1 || producer.received[0].ProjectID != "p1" {
		t.Fatalf("unexpected received events: %+v", producer.received)
	}
}

func TestProduceMessageHandlerPropagatesPublishError(t *testing.T) {
	producer := &fakeProducer{failNext: true}
	rt := NewRuntime(producer)

	raw, _ := json.Marshal(CrawlTrigger{ProjectID: "p1"})
	var data interface{}
	_ = json.Unmarshal(raw, &data)

	if _, err := rt.Handlers["produceMessage"](context.Background(), "", envelope.Envelope{Data: data}); err == nil {
		t.Fatal("expected publish error to propagate")
	}
}
