// Package cache defines the volatile shared-cache boundary. Values cross
// it in canonical JSON: writes always encode, reads decode and treat any
// decode failure as a miss after dropping the entry.
package cache

import (
	"context"
	"strconv"
	"time"
)

// Cache is the best-effort shared cache. Errors never fail the surrounding
// request; callers degrade to their authoritative source.
type Cache interface {
	// Get decodes the entry at key into dest. The boolean reports a hit.
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Set encodes value and stores it with the given TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Delete removes the entry at key if present.
	Delete(ctx context.Context, key string) error
	// Incr atomically increments the counter at key, applying ttl when the
	// counter is created, and returns the post-increment value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Ping reports backend health.
	Ping(ctx context.Context) error
}

// Key conventions shared across components.
const (
	userKeyPrefix = "user:"
	accessPrefix  = "room_access:"
	historyPrefix = "messages:"
	ratePrefix    = "rate:"
)

// UserKey caches a resolved user record.
func UserKey(userID string) string { return userKeyPrefix + userID }

// AccessKey caches a positive room-membership check.
func AccessKey(roomID, userID string) string { return accessPrefix + roomID + ":" + userID }

// HistoryKey caches one page of room history. before is the RFC3339Nano
// boundary timestamp or "latest" for the first page.
func HistoryKey(roomID, before string, limit int) string {
	return historyPrefix + roomID + ":" + before + ":" + strconv.Itoa(limit)
}

// RateKey holds the counter for one user's fixed rate window.
func RateKey(userID string, window int64) string {
	return ratePrefix + userID + ":" + strconv.FormatInt(window, 10)
}
