package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/driftlab/driftchat/internal/model/chat"
	"github.com/driftlab/driftchat/internal/store"
)

// ErrMessageNotFound is returned for receipt or reaction operations
// against an unknown message.
var ErrMessageNotFound = errors.New("message not found")

// MarkRead records a bulk read receipt and announces it to the room's
// other occupants. An empty roomID falls back to the user's current room.
// Already-read messages are left untouched by the repository.
func (s *Service) MarkRead(ctx context.Context, userID, roomID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return ErrInvalidInput
	}
	if roomID == "" {
		current, ok := s.hub.Presence.Room(userID)
		if !ok {
			return ErrAccessDenied
		}
		roomID = current
	} else if ok, err := s.HasAccess(ctx, roomID, userID); err != nil || !ok {
		if err != nil {
			return err
		}
		return ErrAccessDenied
	}

	if err := s.messages.MarkRead(ctx, messageIDs, userID, s.now()); err != nil {
		return err
	}

	s.hub.Broadcast(ctx, roomID, chat.Event{
		Name:    chat.EventMessagesRead,
		Payload: chat.MessagesReadPayload{UserID: userID, MessageIDs: messageIDs},
	}, userID)
	return nil
}

// React toggles the user's reaction on a message and broadcasts the
// resulting reaction state to the message's room, the reactor included
// so every client renders from the same snapshot.
func (s *Service) React(ctx context.Context, userID, messageID, emoji string, add bool) error {
	if messageID == "" || emoji == "" {
		return ErrInvalidInput
	}

	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}

	ok, err := s.HasAccess(ctx, msg.RoomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccessDenied
	}

	reactions, err := s.messages.SetReaction(ctx, messageID, emoji, userID, add)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}

	s.hub.Broadcast(ctx, msg.RoomID, chat.Event{
		Name:    chat.EventReactionUpdate,
		Payload: chat.ReactionUpdatePayload{MessageID: messageID, Reactions: reactions},
	})
	return nil
}

// Typing relays a typing indicator to the user's room peers. Indicators
// are ephemeral: nothing is persisted, senders are not rate-limited, and
// an indicator for a room the user is not in is dropped.
func (s *Service) Typing(ctx context.Context, user chat.User, roomID string, isTyping bool) {
	current, ok := s.hub.Presence.Room(user.ID)
	if !ok || (roomID != "" && roomID != current) {
		return
	}
	roomID = current
	s.hub.Broadcast(ctx, roomID, chat.Event{
		Name: chat.EventUserTyping,
		Payload: chat.TypingPayload{
			UserID:   user.ID,
			Name:     user.Name,
			RoomID:   roomID,
			IsTyping: isTyping,
		},
	}, user.ID)
}

// UpdateStatus relays a presence status change to the user's room peers.
func (s *Service) UpdateStatus(ctx context.Context, userID, status string) {
	roomID, ok := s.hub.Presence.Room(userID)
	if !ok {
		return
	}
	s.hub.Broadcast(ctx, roomID, chat.Event{
		Name:    chat.EventUserStatusUpdate,
		Payload: chat.StatusPayload{UserID: userID, Status: status},
	}, userID)
	s.log.Debug("status updated", zap.String("userId", userID), zap.String("status", status))
}
