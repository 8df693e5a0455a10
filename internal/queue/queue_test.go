package queue

import (
	"context"
	"testing"
	"time"
)

func TestMessageEncodeAssignsIDAndClampsDelay(t *testing.T) {
	msg := Message{
		Event:        EventCompleteSync,
		CompleteSync: &CompleteSync{ProcessID: "p1"},
		DelaySeconds: 1200,
	}

	encoded, body, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if encoded.ID == "" {
		t.Fatal("expected an ID to be assigned")
	}
	if encoded.DelaySeconds != 900 {
		t.Fatalf("expected delay clamped to 900, got %d", encoded.DelaySeconds)
	}
	if body == "" {
		t.Fatal("expected non-empty body")
	}

	decoded, err := Decode(body)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if decoded.Event != EventCompleteSync {
		t.Fatalf("expected COMPLETE_SYNC, got %s", decoded.Event)
	}
	if decoded.CompleteSync == nil || decoded.CompleteSync.ProcessID != "p1" {
		t.Fatalf("payload lost in round trip: %#v", decoded)
	}
}

func TestDecodeRejectsMissingEvent(t *testing.T) {
	if _, err := Decode(`{"id":"x"}`); err == nil {
		t.Fatal("expected error for message without event")
	}
	if _, err := Decode(`not json`); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue(8)
	defer q.Stop()
	ctx := context.Background()

	page := 3
	err := q.Send(ctx, Message{
		Event:         EventFetchPersonPage,
		IntegrationID: "int-1",
		FetchPage:     &FetchPersonPage{ProcessID: "p1", Page: &page, Limit: 100},
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	msgs, err := q.Receive(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	decoded, err := Decode(msgs[0].Body)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if decoded.FetchPage == nil || decoded.FetchPage.Page == nil || *decoded.FetchPage.Page != 3 {
		t.Fatalf("unexpected payload: %#v", decoded.FetchPage)
	}
}

func TestMemoryQueueBatchSendDeliversAll(t *testing.T) {
	q := NewMemoryQueue(32)
	defer q.Stop()
	ctx := context.Background()

	msgs := make([]Message, 0, 25)
	for i := 0; i < 25; i++ {
		p := i
		msgs = append(msgs, Message{
			Event:     EventFetchPersonPage,
			FetchPage: &FetchPersonPage{ProcessID: "p1", Page: &p, Limit: 50},
		})
	}
	if err := q.BatchSend(ctx, msgs); err != nil {
		t.Fatalf("BatchSend returned error: %v", err)
	}

	seen := 0
	for seen < 25 {
		got, err := q.Receive(ctx, 10, 1)
		if err != nil {
			t.Fatalf("Receive returned error: %v", err)
		}
		if len(got) == 0 {
			t.Fatalf("queue drained early after %d messages", seen)
		}
		seen += len(got)
	}
	if seen != 25 {
		t.Fatalf("expected 25 messages, got %d", seen)
	}
}

func TestMemoryQueueDelayedDelivery(t *testing.T) {
	q := NewMemoryQueue(4)
	defer q.Stop()
	ctx := context.Background()

	err := q.Send(ctx, Message{
		Event:        EventCompleteSync,
		CompleteSync: &CompleteSync{ProcessID: "p1"},
		DelaySeconds: 1,
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	// Not visible immediately.
	immediate, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	got, err := q.Receive(immediate, 1, 0)
	cancel()
	if err == nil && len(got) > 0 {
		t.Fatal("delayed message visible before its delay elapsed")
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err = q.Receive(ctx, 1, 1)
		if err != nil {
			t.Fatalf("Receive returned error: %v", err)
		}
		if len(got) == 1 {
			return
		}
	}
	t.Fatal("delayed message never delivered")
}
