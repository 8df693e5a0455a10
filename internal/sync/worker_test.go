package sync

import (
	"context"
	"testing"

	"github.com/callvault/quosync/internal/queue"
)

func TestDispatchUnrecognizedEventIsAcknowledged(t *testing.T) {
	h := newHarness(t, pageBasedAdapter(250))
	w := NewWorker(queue.NewMemoryQueue(4), h.engine, nil)

	err := w.dispatch(context.Background(), queue.Message{
		Event:         queue.Event("PURGE_EVERYTHING"),
		IntegrationID: "int-1",
	})
	if err != nil {
		t.Fatalf("unrecognized event must be dropped, not redelivered: %v", err)
	}
}

func TestDispatchMissingPayloadReturnsError(t *testing.T) {
	h := newHarness(t, pageBasedAdapter(250))
	w := NewWorker(queue.NewMemoryQueue(4), h.engine, nil)

	err := w.dispatch(context.Background(), queue.Message{
		Event:         queue.EventFetchPersonPage,
		IntegrationID: "int-1",
	})
	if err == nil {
		t.Fatal("expected error for fetch message without payload")
	}
}
