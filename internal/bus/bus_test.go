package bus

import (
	"context"
	"testing"
	"time"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, RoomPattern)
	if err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}
	defer sub.Close()

	if err := b.Publish(ctx, RoomTopic("r1"), []byte(`{"kind":"message"}`)); err != nil {
		t.Fatalf("Publish err: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		if msg.Topic != "room:r1" {
			t.Fatalf("unexpected topic: %s", msg.Topic)
		}
		if string(msg.Data) != `{"kind":"message"}` {
			t.Fatalf("unexpected data: %s", msg.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMemoryPatternFiltering(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, RoomPattern)
	if err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}
	defer sub.Close()

	if err := b.Publish(ctx, "other:r1", []byte("x")); err != nil {
		t.Fatalf("Publish err: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected delivery on topic %s", msg.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryCloseStopsDelivery(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, RoomPattern)
	if err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}

	// Publishing after close must not panic or block.
	if err := b.Publish(ctx, RoomTopic("r1"), []byte("x")); err != nil {
		t.Fatalf("Publish err: %v", err)
	}

	if _, ok := <-sub.Messages(); ok {
		t.Fatal("expected closed message channel")
	}
}
