package chat

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/driftlab/driftchat/internal/cache"
	"github.com/driftlab/driftchat/internal/model/chat"
	"github.com/driftlab/driftchat/internal/store"
)

// userTTL caches resolved user profiles used in payload assembly.
const userTTL = 10 * time.Minute

// resolveUser returns the user profile for id, preferring the cache over
// the user repository.
func (s *Service) resolveUser(ctx context.Context, id string) (chat.User, error) {
	var cached chat.User
	if hit, err := s.cache.Get(ctx, cache.UserKey(id), &cached); err == nil && hit {
		return cached, nil
	}

	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		return chat.User{}, err
	}
	if err := s.cache.Set(ctx, cache.UserKey(id), user, userTTL); err != nil {
		s.log.Debug("user cache write failed", zap.String("userId", id), zap.Error(err))
	}
	return user, nil
}

// Payloads builds the wire form of a message batch, preserving order.
// The history loader uses it so paginated results resolve senders and
// files the same way live fan-out does.
func (s *Service) Payloads(ctx context.Context, msgs []chat.Message) []chat.MessagePayload {
	out := make([]chat.MessagePayload, len(msgs))
	for i, msg := range msgs {
		out[i] = s.payloadFor(ctx, msg)
	}
	return out
}

// payloadFor builds the wire form of a stored message: the sender is
// resolved for user messages and left nil for system and AI ones, and a
// file attachment is resolved when present. Resolution failures degrade
// to partial payloads rather than dropping the event.
func (s *Service) payloadFor(ctx context.Context, msg chat.Message) chat.MessagePayload {
	p := chat.MessagePayload{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		Content:   msg.Content,
		Kind:      msg.Kind,
		AIModel:   msg.AIModel,
		Timestamp: msg.CreatedAt,
		Readers:   msg.Readers,
		Reactions: msg.Reactions,
	}
	if p.Readers == nil {
		p.Readers = []chat.Reader{}
	}
	if p.Reactions == nil {
		p.Reactions = map[string][]string{}
	}

	if msg.SenderID != "" {
		if user, err := s.resolveUser(ctx, msg.SenderID); err == nil {
			p.Sender = &user
		} else if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("sender resolution failed",
				zap.String("messageId", msg.ID), zap.Error(err))
		}
	}

	if msg.FileID != "" {
		if file, err := s.files.GetFile(ctx, msg.FileID); err == nil {
			p.File = &file
		} else if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("file resolution failed",
				zap.String("messageId", msg.ID), zap.Error(err))
		}
	}

	return p
}
