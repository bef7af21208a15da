package hub

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftlab/driftchat/internal/model/chat"
	"github.com/driftlab/driftchat/internal/registry"
)

// Connections enforces at most one active session per user. A newer
// session pre-empts the incumbent: the incumbent gets a duplicate_login
// warning immediately and session_ended after the grace period, or as
// soon as it disconnects on its own, whichever comes first.
type Connections struct {
	mu       sync.Mutex
	reg      *registry.Bounded[string, *connEntry]
	preempts map[string]*preemption // keyed by victim session id
	wait     time.Duration
	log      *zap.Logger
	now      func() time.Time
}

type connEntry struct {
	sess         Session
	createdAt    time.Time
	lastActivity time.Time
}

type preemption struct {
	once   sync.Once
	timer  *time.Timer
	victim Session
}

// NewConnections creates the registry. capacity bounds concurrent users;
// wait is the pre-emption grace period.
func NewConnections(capacity int, wait time.Duration, log *zap.Logger) *Connections {
	return &Connections{
		reg:      registry.NewBounded[string, *connEntry](capacity),
		preempts: make(map[string]*preemption),
		wait:     wait,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the time source for tests.
func (c *Connections) SetClock(now func() time.Time) { c.now = now }

// Register installs sess as the user's active session, pre-empting any
// incumbent. Fan-out addressed to the user reaches the new session from
// this point on.
func (c *Connections) Register(userID string, sess Session) {
	c.mu.Lock()

	var victim Session
	if existing, ok := c.reg.Get(userID); ok && existing.sess.ID() != sess.ID() {
		victim = existing.sess
	}

	now := c.now()
	_, evictedEntry, evicted := c.reg.Put(userID, &connEntry{sess: sess, createdAt: now, lastActivity: now})

	var p *preemption
	if victim != nil {
		p = &preemption{victim: victim}
		p.timer = time.AfterFunc(c.wait, func() { c.finish(p) })
		c.preempts[victim.ID()] = p
	}
	c.mu.Unlock()

	if evicted {
		// Registry overflow: the oldest-registered user loses their slot.
		c.log.Warn("connection registry full, dropping oldest session",
			zap.String("userId", evictedEntry.sess.UserID()))
		evictedEntry.sess.Terminate(ReasonShutdown)
	}

	if victim != nil {
		c.log.Info("duplicate login",
			zap.String("userId", userID),
			zap.String("newSession", sess.ID()),
			zap.String("oldSession", victim.ID()))
		victim.Deliver(chat.Event{
			Name: chat.EventDuplicateLogin,
			Payload: chat.DuplicateLoginPayload{
				DeviceInfo: sess.UserAgent(),
				IPAddress:  sess.RemoteAddr(),
				Timestamp:  c.now(),
			},
		})
	}
}

// finish ends a pre-empted session exactly once.
func (c *Connections) finish(p *preemption) {
	c.finishWithReason(p, ReasonDuplicateLogin)
}

func (c *Connections) finishWithReason(p *preemption, reason string) {
	p.once.Do(func() {
		p.timer.Stop()
		c.mu.Lock()
		delete(c.preempts, p.victim.ID())
		c.mu.Unlock()
		p.victim.Terminate(reason)
	})
}

// ForceLogout completes the user's pending pre-emption immediately with
// the force_logout reason. It reports whether a pre-emption was pending.
func (c *Connections) ForceLogout(userID string) bool {
	c.mu.Lock()
	var p *preemption
	for _, cand := range c.preempts {
		if cand.victim.UserID() == userID {
			p = cand
			break
		}
	}
	c.mu.Unlock()

	if p == nil {
		return false
	}
	c.finishWithReason(p, ReasonForceLogout)
	return true
}

// Unregister removes sess if it is still the user's active session and
// reports whether it was (false means the session had been replaced, so
// the disconnect must not count as the user leaving). A pre-empted
// session disconnecting here completes its pre-emption immediately.
func (c *Connections) Unregister(userID string, sess Session) bool {
	c.mu.Lock()
	p := c.preempts[sess.ID()]

	current := false
	if entry, ok := c.reg.Get(userID); ok && entry.sess.ID() == sess.ID() {
		c.reg.Delete(userID)
		current = true
	}
	c.mu.Unlock()

	if p != nil {
		c.finish(p)
	}
	return current
}

// Lookup returns the user's active session.
func (c *Connections) Lookup(userID string) (Session, bool) {
	entry, ok := c.reg.Get(userID)
	if !ok {
		return nil, false
	}
	return entry.sess, true
}

// Touch records activity on the user's session.
func (c *Connections) Touch(userID string) {
	c.mu.Lock()
	if entry, ok := c.reg.Get(userID); ok {
		entry.lastActivity = c.now()
	}
	c.mu.Unlock()
}

// Len reports the number of active sessions.
func (c *Connections) Len() int { return c.reg.Len() }

// SweepDead removes entries whose transport already closed. The janitor
// calls this; normal disconnects unregister themselves.
func (c *Connections) SweepDead() int {
	type dead struct {
		userID string
		sess   Session
	}
	var gone []dead
	c.reg.Range(func(userID string, entry *connEntry) bool {
		if !entry.sess.Connected() {
			gone = append(gone, dead{userID: userID, sess: entry.sess})
		}
		return true
	})

	removed := 0
	for _, d := range gone {
		if c.Unregister(d.userID, d.sess) {
			removed++
		}
	}
	return removed
}

// TerminateAll ends every registered session with the given reason.
// Shutdown calls this after the listener stops accepting work.
func (c *Connections) TerminateAll(reason string) {
	var sessions []Session
	c.reg.Range(func(_ string, entry *connEntry) bool {
		sessions = append(sessions, entry.sess)
		return true
	})
	for _, s := range sessions {
		s.Terminate(reason)
	}
}

// Stats reports registry hit/miss counters.
func (c *Connections) Stats() (hits, misses uint64) { return c.reg.Stats() }
