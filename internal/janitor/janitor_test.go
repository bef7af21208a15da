package janitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeTargets struct {
	mu       sync.Mutex
	sweeps   int
	rateAge  time.Duration
	cleared  bool
	inflight time.Duration
	idle     time.Duration
}

func (f *fakeTargets) SweepDead() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 1
}

func (f *fakeTargets) Sweep(maxAge time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rateAge = maxAge
	return 2
}

func (f *fakeTargets) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = true
}

func (f *fakeTargets) SweepInflight(maxAge time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight = maxAge
	return 0
}

func (f *fakeTargets) ExpireIdle(maxIdle time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idle = maxIdle
	return 0
}

func (f *fakeTargets) snapshot() fakeTargets {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeTargets{sweeps: f.sweeps, rateAge: f.rateAge, cleared: f.cleared, inflight: f.inflight, idle: f.idle}
}

func newTestJanitor(targets *fakeTargets, soft, hard uint64) *Janitor {
	return New(Config{
		Interval:       10 * time.Millisecond,
		RateMaxAge:     2 * time.Minute,
		InflightMaxAge: 5 * time.Minute,
		StreamIdle:     30 * time.Minute,
		HeapSoftBytes:  soft,
		HeapHardBytes:  hard,
	}, targets, targets, targets, targets, zap.NewNop())
}

func TestSweepTouchesEveryTarget(t *testing.T) {
	targets := &fakeTargets{}
	j := newTestJanitor(targets, 0, 0)

	j.Sweep()

	got := targets.snapshot()
	if got.sweeps != 1 {
		t.Fatalf("dead-connection sweep ran %d times", got.sweeps)
	}
	if got.rateAge != 2*time.Minute || got.inflight != 5*time.Minute || got.idle != 30*time.Minute {
		t.Fatalf("wrong ages passed through: %+v", &got)
	}
	if got.cleared {
		t.Fatal("state cleared without heap pressure")
	}
}

func TestHardWatermarkClearsAndCollects(t *testing.T) {
	targets := &fakeTargets{}
	j := newTestJanitor(targets, 100, 200)
	j.SetHeapProbe(func() uint64 { return 300 })
	collected := false
	j.SetForceGC(func() { collected = true })

	j.Sweep()

	got := targets.snapshot()
	if !got.cleared {
		t.Fatal("hard watermark did not clear local state")
	}
	if got.inflight != 0 {
		t.Fatalf("hard watermark left in-flight keys with max age %v", got.inflight)
	}
	if !collected {
		t.Fatal("hard watermark did not force a collection")
	}
}

func TestSoftWatermarkOnlyWarns(t *testing.T) {
	targets := &fakeTargets{}
	j := newTestJanitor(targets, 100, 200)
	j.SetHeapProbe(func() uint64 { return 150 })
	j.SetForceGC(func() { t.Fatal("soft watermark forced a collection") })

	j.Sweep()

	if got := targets.snapshot(); got.cleared {
		t.Fatal("soft watermark cleared local state")
	}
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	targets := &fakeTargets{}
	j := newTestJanitor(targets, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	deadline := time.After(time.Second)
	for targets.snapshot().sweeps < 2 {
		select {
		case <-deadline:
			t.Fatal("ticker never fired twice")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run err: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
