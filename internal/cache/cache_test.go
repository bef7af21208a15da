package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRoundTrip(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	if err := c.Set(ctx, "k", payload{Name: "a", Count: 3}, time.Minute); err != nil {
		t.Fatalf("Set err: %v", err)
	}

	var got payload
	hit, err := c.Get(ctx, "k", &got)
	if err != nil || !hit {
		t.Fatalf("Get hit=%v err=%v", hit, err)
	}
	if got.Name != "a" || got.Count != 3 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestMemoryExpiry(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	if err := c.Set(ctx, "k", 1, 30*time.Second); err != nil {
		t.Fatalf("Set err: %v", err)
	}

	now = now.Add(31 * time.Second)
	var v int
	if hit, _ := c.Get(ctx, "k", &v); hit {
		t.Fatal("expected expired entry to miss")
	}
}

func TestMemoryUndecodableEntryIsDropped(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	if err := c.Set(ctx, "k", "not-an-object", time.Minute); err != nil {
		t.Fatalf("Set err: %v", err)
	}

	var dest struct{ A int }
	hit, err := c.Get(ctx, "k", &dest)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if hit {
		t.Fatal("expected decode failure to read as miss")
	}
	if c.Len() != 0 {
		t.Fatal("expected bad entry to be dropped")
	}
}

func TestMemoryIncrWindow(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	for i := 1; i <= 3; i++ {
		n, err := c.Incr(ctx, "rate:u1:100", time.Minute)
		if err != nil {
			t.Fatalf("Incr err: %v", err)
		}
		if n != int64(i) {
			t.Fatalf("expected count %d, got %d", i, n)
		}
	}

	now = now.Add(2 * time.Minute)
	n, err := c.Incr(ctx, "rate:u1:100", time.Minute)
	if err != nil {
		t.Fatalf("Incr err: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected counter reset after expiry, got %d", n)
	}
}

func TestKeyConventions(t *testing.T) {
	if got := HistoryKey("r1", "latest", 25); got != "messages:r1:latest:25" {
		t.Fatalf("unexpected history key: %s", got)
	}
	if got := AccessKey("r1", "u1"); got != "room_access:r1:u1" {
		t.Fatalf("unexpected access key: %s", got)
	}
	if got := RateKey("u1", 42); got != "rate:u1:42" {
		t.Fatalf("unexpected rate key: %s", got)
	}
	if got := UserKey("u1"); got != "user:u1" {
		t.Fatalf("unexpected user key: %s", got)
	}
}
