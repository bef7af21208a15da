// Package hub tracks live sessions and fans events out to them, locally
// and across instances via the shared bus.
package hub

import "github.com/driftlab/driftchat/internal/model/chat"

// Session is one live client connection as the hub sees it. Deliveries on
// a session are serialized by its writer, so a session observes events in
// publish order.
type Session interface {
	// ID uniquely identifies the connection (not the user).
	ID() string
	UserID() string
	// Deliver enqueues an event; it reports false once the session stopped
	// accepting deliveries (terminated or backlogged shut).
	Deliver(ev chat.Event) bool
	// Terminate sends session_ended with the given reason, stops further
	// deliveries, and closes the transport. Idempotent.
	Terminate(reason string)
	// Connected reports whether the transport is still open.
	Connected() bool
	RemoteAddr() string
	UserAgent() string
}

// Termination reasons carried in session_ended.
const (
	ReasonDuplicateLogin = "duplicate_login"
	ReasonForceLogout    = "force_logout"
	ReasonShutdown       = "server_shutdown"
)
