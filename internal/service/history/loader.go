// Package history serves paginated room history. Pages load from the
// message store with a bounded retry schedule, results are cached
// briefly, and duplicate in-flight requests for the same page are
// dropped rather than queued.
package history

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/driftlab/driftchat/internal/cache"
	"github.com/driftlab/driftchat/internal/model/chat"
	"github.com/driftlab/driftchat/internal/registry"
	"github.com/driftlab/driftchat/internal/store"
)

const (
	// DefaultLimit is the page size used when the client does not ask for
	// a specific one. The first-page cache key is built from it, so the
	// ingest path invalidates the same entry this loader writes.
	DefaultLimit = 25
	// MaxLimit caps client-requested page sizes.
	MaxLimit = 50

	queryTimeout   = 8 * time.Second
	maxAttempts    = 3
	backoffInitial = 1500 * time.Millisecond
	backoffFactor  = 1.5
	backoffMax     = 5 * time.Second

	pageTTL = 30 * time.Second
)

// Gateway is the slice of the chat service the loader needs: membership
// checks and payload assembly.
type Gateway interface {
	HasAccess(ctx context.Context, roomID, userID string) (bool, error)
	Payloads(ctx context.Context, msgs []chat.Message) []chat.MessagePayload
}

// Notifier delivers events to a single user's session.
type Notifier interface {
	DeliverUser(userID string, ev chat.Event) bool
}

// Request asks for one page of room history older than Before.
type Request struct {
	UserID string
	RoomID string
	Before *time.Time
	Limit  int
}

// Loader coordinates history fetches.
type Loader struct {
	messages store.MessageRepo
	gateway  Gateway
	cache    cache.Cache
	notify   Notifier
	log      *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) bool

	inflight *registry.Bounded[string, time.Time]
}

// New wires a loader. inflightCap bounds the dedupe registry.
func New(messages store.MessageRepo, gw Gateway, c cache.Cache, notify Notifier, inflightCap int, log *zap.Logger) *Loader {
	return &Loader{
		messages: messages,
		gateway:  gw,
		cache:    c,
		notify:   notify,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
		inflight: registry.NewBounded[string, time.Time](inflightCap),
	}
}

// SetClock overrides the time source for tests.
func (l *Loader) SetClock(now func() time.Time) { l.now = now }

// SetSleep overrides the backoff sleeper for tests.
func (l *Loader) SetSleep(fn func(ctx context.Context, d time.Duration) bool) { l.sleep = fn }

// Load starts an asynchronous history fetch for req and returns whether
// it was accepted. A request for a page that is already loading for the
// same user is dropped, not queued: the in-flight load will answer it.
func (l *Loader) Load(ctx context.Context, req Request) bool {
	req.Limit = clampLimit(req.Limit)

	key := inflightKey(req)
	if _, loading := l.inflight.Get(key); loading {
		l.log.Debug("duplicate history request dropped",
			zap.String("userId", req.UserID), zap.String("roomId", req.RoomID))
		return false
	}
	l.inflight.Put(key, l.now())

	l.notify.DeliverUser(req.UserID, chat.Event{Name: chat.EventMessageLoadStart})

	go func() {
		defer l.inflight.Delete(key)
		l.run(context.WithoutCancel(ctx), req)
	}()
	return true
}

func (l *Loader) run(ctx context.Context, req Request) {
	ok, err := l.gateway.HasAccess(ctx, req.RoomID, req.UserID)
	if err != nil {
		l.fail(req, "room lookup failed")
		return
	}
	if !ok {
		l.notify.DeliverUser(req.UserID, chat.Event{
			Name:    chat.EventError,
			Payload: chat.ErrorPayload{Code: "ACCESS_DENIED", Message: "not a participant of this room"},
		})
		return
	}

	cacheKey := l.cacheKey(req)
	var cached chat.HistoryPayload
	if hit, err := l.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		l.notify.DeliverUser(req.UserID, chat.Event{Name: chat.EventPreviousMessages, Payload: cached})
		return
	}

	msgs, err := l.fetch(ctx, req)
	if err != nil {
		l.log.Warn("history load failed",
			zap.String("roomId", req.RoomID), zap.String("userId", req.UserID), zap.Error(err))
		l.fail(req, "failed to load messages")
		return
	}

	hasMore := len(msgs) > req.Limit
	if hasMore {
		msgs = msgs[:req.Limit]
	}
	reverse(msgs) // store order is newest first; clients render ascending

	page := chat.HistoryPayload{
		RoomID:   req.RoomID,
		Messages: l.gateway.Payloads(ctx, msgs),
		HasMore:  hasMore,
	}
	if len(msgs) > 0 {
		oldest := msgs[0].CreatedAt
		page.OldestTimestamp = &oldest
	}

	if err := l.cache.Set(ctx, cacheKey, page, pageTTL); err != nil {
		l.log.Debug("history cache write failed", zap.Error(err))
	}

	l.notify.DeliverUser(req.UserID, chat.Event{Name: chat.EventPreviousMessages, Payload: page})

	l.markRead(ctx, req.UserID, msgs)
}

// fetch queries one over-sized page, retrying transient store failures on
// a growing backoff. Each attempt gets its own deadline.
func (l *Loader) fetch(ctx context.Context, req Request) ([]chat.Message, error) {
	delay := backoffInitial
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, queryTimeout)
		msgs, err := l.messages.FindMessages(attemptCtx, req.RoomID, req.Before, req.Limit+1)
		cancel()
		if err == nil {
			return msgs, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			l.log.Debug("history query attempt failed",
				zap.String("roomId", req.RoomID), zap.Int("attempt", attempt), zap.Error(err))
			if !l.sleep(ctx, delay) {
				return nil, ctx.Err()
			}
			delay = time.Duration(float64(delay) * backoffFactor)
			if delay > backoffMax {
				delay = backoffMax
			}
		}
	}
	return nil, lastErr
}

func (l *Loader) fail(req Request, msg string) {
	l.notify.DeliverUser(req.UserID, chat.Event{
		Name:    chat.EventError,
		Payload: chat.ErrorPayload{Code: "LOAD_ERROR", Message: msg},
	})
}

// markRead records the requester as a reader of the returned page.
// Best-effort: a failure leaves receipts to the explicit markMessagesAsRead
// path.
func (l *Loader) markRead(ctx context.Context, userID string, msgs []chat.Message) {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.SenderID != userID && !m.ReadBy(userID) {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	if err := l.messages.MarkRead(ctx, ids, userID, l.now()); err != nil {
		l.log.Debug("history read receipts failed",
			zap.String("userId", userID), zap.Error(err))
	}
}

// cacheKey reports the cache location for req. The ingest path deletes
// the latest/DefaultLimit key on new messages; cursor pages are immutable
// and simply age out.
func (l *Loader) cacheKey(req Request) string {
	cursor := "latest"
	if req.Before != nil {
		cursor = req.Before.UTC().Format(time.RFC3339Nano)
	}
	return cache.HistoryKey(req.RoomID, cursor, req.Limit)
}

// SweepInflight drops dedupe entries older than maxAge. Entries normally
// clear when their load finishes; this catches leaks from crashed loads.
func (l *Loader) SweepInflight(maxAge time.Duration) int {
	cutoff := l.now().Add(-maxAge)
	var stale []string
	l.inflight.Range(func(key string, started time.Time) bool {
		if started.Before(cutoff) {
			stale = append(stale, key)
		}
		return true
	})
	for _, key := range stale {
		l.inflight.Delete(key)
	}
	return len(stale)
}

// InflightLen reports the dedupe registry size.
func (l *Loader) InflightLen() int { return l.inflight.Len() }

func inflightKey(req Request) string {
	cursor := "latest"
	if req.Before != nil {
		cursor = req.Before.UTC().Format(time.RFC3339Nano)
	}
	return req.UserID + "|" + req.RoomID + "|" + cursor
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func reverse(msgs []chat.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
