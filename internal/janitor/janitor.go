// Package janitor runs the periodic maintenance pass: dead connections,
// stale rate buckets, leaked in-flight history entries and idle AI
// streams are swept, and heap growth past the configured watermarks
// triggers progressively harder cleanup.
package janitor

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// ConnSweeper drops registered sessions whose transport is gone.
type ConnSweeper interface {
	SweepDead() int
}

// RateSweeper maintains the local rate-limit fallback buckets.
type RateSweeper interface {
	Sweep(maxAge time.Duration) int
	Clear()
}

// InflightSweeper drops leaked history dedupe entries.
type InflightSweeper interface {
	SweepInflight(maxAge time.Duration) int
}

// StreamExpirer cancels AI streams that stopped producing output.
type StreamExpirer interface {
	ExpireIdle(maxIdle time.Duration) int
}

// Config tunes the maintenance pass.
type Config struct {
	Interval       time.Duration
	RateMaxAge     time.Duration
	InflightMaxAge time.Duration
	StreamIdle     time.Duration
	HeapSoftBytes  uint64
	HeapHardBytes  uint64
}

// Janitor drives the sweep loop.
type Janitor struct {
	cfg      Config
	conns    ConnSweeper
	rates    RateSweeper
	inflight InflightSweeper
	streams  StreamExpirer
	log      *zap.Logger

	heapInUse func() uint64
	forceGC   func()
}

// New wires a janitor over the sweepable components.
func New(cfg Config, conns ConnSweeper, rates RateSweeper, inflight InflightSweeper, streams StreamExpirer, log *zap.Logger) *Janitor {
	return &Janitor{
		cfg:       cfg,
		conns:     conns,
		rates:     rates,
		inflight:  inflight,
		streams:   streams,
		log:       log,
		heapInUse: readHeapInUse,
		forceGC:   runtime.GC,
	}
}

// SetHeapProbe overrides heap measurement for tests.
func (j *Janitor) SetHeapProbe(fn func() uint64) { j.heapInUse = fn }

// SetForceGC overrides the collection trigger for tests.
func (j *Janitor) SetForceGC(fn func()) { j.forceGC = fn }

// Run sweeps on the configured interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep performs one maintenance pass.
func (j *Janitor) Sweep() {
	deadConns := j.conns.SweepDead()
	staleRates := j.rates.Sweep(j.cfg.RateMaxAge)
	leaked := j.inflight.SweepInflight(j.cfg.InflightMaxAge)
	idleStreams := j.streams.ExpireIdle(j.cfg.StreamIdle)

	if deadConns+staleRates+leaked+idleStreams > 0 {
		j.log.Info("maintenance sweep",
			zap.Int("deadConnections", deadConns),
			zap.Int("staleRateBuckets", staleRates),
			zap.Int("leakedInflight", leaked),
			zap.Int("idleStreams", idleStreams))
	}

	j.checkHeap()
}

// checkHeap reacts to heap pressure. Past the soft watermark it only
// warns; past the hard watermark it drops the local rate buckets and
// in-flight load keys and forces a collection.
func (j *Janitor) checkHeap() {
	heap := j.heapInUse()
	switch {
	case j.cfg.HeapHardBytes > 0 && heap > j.cfg.HeapHardBytes:
		j.log.Error("heap above hard watermark, dropping local state",
			zap.Uint64("heapBytes", heap), zap.Uint64("hardBytes", j.cfg.HeapHardBytes))
		j.rates.Clear()
		j.inflight.SweepInflight(0)
		j.forceGC()
	case j.cfg.HeapSoftBytes > 0 && heap > j.cfg.HeapSoftBytes:
		j.log.Warn("heap above soft watermark",
			zap.Uint64("heapBytes", heap), zap.Uint64("softBytes", j.cfg.HeapSoftBytes))
	}
}

func readHeapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}
