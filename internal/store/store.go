// Package store defines the durable repositories the realtime core reads
// and writes. Message persistence is authoritative; the cache and bus
// layers are best-effort on top of it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/driftlab/driftchat/internal/model/chat"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// UserRepo resolves user records. Read-only for the realtime core.
type UserRepo interface {
	GetUser(ctx context.Context, id string) (chat.User, error)
}

// RoomRepo resolves rooms and mutates only their participant sets.
type RoomRepo interface {
	GetRoom(ctx context.Context, id string) (chat.Room, error)
	// AddParticipant adds the user if absent and returns the updated room.
	AddParticipant(ctx context.Context, roomID, userID string) (chat.Room, error)
	// RemoveParticipant removes the user if present and returns the updated room.
	RemoveParticipant(ctx context.Context, roomID, userID string) (chat.Room, error)
}

// MessageRepo persists messages and their monotonic reader/reaction state.
type MessageRepo interface {
	CreateMessage(ctx context.Context, msg *chat.Message) error
	GetMessage(ctx context.Context, id string) (chat.Message, error)
	// FindMessages returns up to limit non-deleted room messages strictly
	// older than before (all of them when before is nil), newest first.
	FindMessages(ctx context.Context, roomID string, before *time.Time, limit int) ([]chat.Message, error)
	// MarkRead adds {userID, at} to each message's readers iff absent.
	MarkRead(ctx context.Context, messageIDs []string, userID string, at time.Time) error
	// SetReaction adds or removes userID under emoji and returns the
	// message's updated reactions.
	SetReaction(ctx context.Context, messageID, emoji, userID string, add bool) (map[string][]string, error)
}

// FileRepo resolves uploaded file metadata.
type FileRepo interface {
	GetFile(ctx context.Context, id string) (chat.File, error)
}

// SessionStore validates device sessions issued by the auth subsystem and
// records their last activity.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
}
