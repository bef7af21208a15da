// Package chat implements room membership, message ingestion and fan-out,
// and the read-receipt/reaction surface of the realtime core.
package chat

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/driftlab/driftchat/internal/cache"
	"github.com/driftlab/driftchat/internal/hub"
	"github.com/driftlab/driftchat/internal/model/assistant"
	"github.com/driftlab/driftchat/internal/model/chat"
	"github.com/driftlab/driftchat/internal/service/limiter"
	"github.com/driftlab/driftchat/internal/store"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrAccessDenied = errors.New("access denied")
	ErrInvalidInput = errors.New("invalid message input")
	ErrPersist      = errors.New("message persist failed")
)

// accessTTL caches positive membership checks; joins refresh it.
const accessTTL = 5 * time.Minute

// Streamer starts an AI response stream for a room. The coordinator in
// service/ai implements it.
type Streamer interface {
	Start(ctx context.Context, roomID, userID, mention, query string)
}

// Service orchestrates the room-facing operations of a session.
type Service struct {
	rooms      store.RoomRepo
	users      store.UserRepo
	files      store.FileRepo
	messages   store.MessageRepo
	sessions   store.SessionStore
	cache      cache.Cache
	limiter    *limiter.Limiter
	assistants assistant.Store
	hub        *hub.Hub
	streamer   Streamer
	log        *zap.Logger
	now        func() time.Time
	newID      func() string
}

// Deps bundles the collaborators of the chat service.
type Deps struct {
	Rooms      store.RoomRepo
	Users      store.UserRepo
	Files      store.FileRepo
	Messages   store.MessageRepo
	Sessions   store.SessionStore
	Cache      cache.Cache
	Limiter    *limiter.Limiter
	Assistants assistant.Store
	Hub        *hub.Hub
	Log        *zap.Logger
}

// New wires the chat service. The AI streamer is attached separately via
// SetStreamer because the coordinator needs the service's broadcaster.
func New(d Deps) *Service {
	return &Service{
		rooms:      d.Rooms,
		users:      d.Users,
		files:      d.Files,
		messages:   d.Messages,
		sessions:   d.Sessions,
		cache:      d.Cache,
		limiter:    d.Limiter,
		assistants: d.Assistants,
		hub:        d.Hub,
		log:        d.Log,
		now:        time.Now,
		newID:      newMessageID,
	}
}

// SetStreamer attaches the AI streaming coordinator.
func (s *Service) SetStreamer(st Streamer) { s.streamer = st }

// SetClock overrides the time source for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetIDFunc overrides message id generation for tests.
func (s *Service) SetIDFunc(fn func() string) { s.newID = fn }

// Join places the user in roomID. Rejoining the current room is a no-op
// that returns present state. Switching rooms leaves the old room first:
// its participants broadcast fires before the new join is visible.
func (s *Service) Join(ctx context.Context, user chat.User, roomID string) (chat.Room, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return chat.Room{}, ErrRoomNotFound
		}
		return chat.Room{}, err
	}

	if current, ok := s.hub.Presence.Room(user.ID); ok && current == roomID {
		return room, nil
	}

	previous := s.hub.Presence.SetRoom(user.ID, roomID)
	if previous != "" {
		s.announceLeave(ctx, user, previous, false)
	}

	room, err = s.rooms.AddParticipant(ctx, roomID, user.ID)
	if err != nil {
		s.hub.Presence.Remove(user.ID)
		if errors.Is(err, store.ErrNotFound) {
			return chat.Room{}, ErrRoomNotFound
		}
		return chat.Room{}, err
	}

	if err := s.cache.Set(ctx, cache.AccessKey(roomID, user.ID), true, accessTTL); err != nil {
		s.log.Warn("access cache write failed", zap.String("roomId", roomID), zap.Error(err))
	}

	s.hub.Broadcast(ctx, roomID, chat.Event{
		Name:    chat.EventUserJoined,
		Payload: map[string]any{"roomId": roomID, "userId": user.ID, "name": user.Name},
	}, user.ID)
	s.broadcastParticipants(ctx, room)

	go s.persistSystemMessage(context.WithoutCancel(ctx), roomID, user.Name+" joined")

	return room, nil
}

// Disconnect handles a graceful session close: the user leaves their room
// with a system message. Pre-empted sessions must not call this; their
// replacement still owns the room.
func (s *Service) Disconnect(ctx context.Context, user chat.User) {
	roomID, ok := s.hub.Presence.Remove(user.ID)
	if !ok {
		return
	}
	s.announceLeave(ctx, user, roomID, true)
}

func (s *Service) announceLeave(ctx context.Context, user chat.User, roomID string, disconnected bool) {
	room, err := s.rooms.RemoveParticipant(ctx, roomID, user.ID)
	if err != nil {
		s.log.Warn("participant removal failed",
			zap.String("roomId", roomID), zap.String("userId", user.ID), zap.Error(err))
	}

	if err := s.cache.Delete(ctx, cache.AccessKey(roomID, user.ID)); err != nil {
		s.log.Debug("access cache delete failed", zap.Error(err))
	}

	s.hub.Broadcast(ctx, roomID, chat.Event{
		Name:    chat.EventUserLeft,
		Payload: map[string]any{"roomId": roomID, "userId": user.ID, "name": user.Name},
	}, user.ID)
	if err == nil {
		s.broadcastParticipants(ctx, room)
	}

	if disconnected {
		go s.persistSystemMessage(context.WithoutCancel(ctx), roomID, user.Name+" disconnected")
	}
}

func (s *Service) broadcastParticipants(ctx context.Context, room chat.Room) {
	users := make([]chat.User, 0, len(room.Participants))
	for _, id := range room.Participants {
		if u, err := s.resolveUser(ctx, id); err == nil {
			users = append(users, u)
		}
	}
	s.hub.Broadcast(ctx, room.ID, chat.Event{
		Name:    chat.EventParticipantsUpdate,
		Payload: chat.ParticipantsPayload{RoomID: room.ID, Participants: users},
	})
}

// persistSystemMessage stores and fans out a system notice. Failures log
// only; membership changes already went out.
func (s *Service) persistSystemMessage(ctx context.Context, roomID, content string) {
	msg := &chat.Message{
		ID:        s.newID(),
		RoomID:    roomID,
		Content:   content,
		Kind:      chat.KindSystem,
		CreatedAt: s.now(),
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		s.log.Warn("system message persist failed",
			zap.String("roomId", roomID), zap.Error(err))
		return
	}
	s.invalidateHistory(ctx, roomID)
	s.hub.Broadcast(ctx, roomID, chat.Event{
		Name:    chat.EventMessage,
		Payload: s.payloadFor(ctx, *msg),
	})
}

// HasAccess reports whether the user is a room participant, preferring
// the access cache over the room repository.
func (s *Service) HasAccess(ctx context.Context, roomID, userID string) (bool, error) {
	var cached bool
	if hit, err := s.cache.Get(ctx, cache.AccessKey(roomID, userID), &cached); err == nil && hit && cached {
		return true, nil
	}

	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, ErrRoomNotFound
		}
		return false, err
	}
	if !room.HasParticipant(userID) {
		return false, nil
	}
	if err := s.cache.Set(ctx, cache.AccessKey(roomID, userID), true, accessTTL); err != nil {
		s.log.Debug("access cache write failed", zap.Error(err))
	}
	return true, nil
}
