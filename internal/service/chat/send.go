package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftlab/driftchat/internal/cache"
	"github.com/driftlab/driftchat/internal/model/chat"
)

func newMessageID() string { return uuid.NewString() }

// SendInput carries one inbound chatMessage.
type SendInput struct {
	RoomID  string
	Content string
	Kind    chat.Kind
	FileID  string
}

// Send validates, rate-limits, persists and fans out one message, then
// kicks off an AI stream per detected assistant mention. It returns the
// stored message id.
func (s *Service) Send(ctx context.Context, user chat.User, sessionID string, in SendInput) (string, error) {
	if in.RoomID == "" || (strings.TrimSpace(in.Content) == "" && in.FileID == "") {
		return "", ErrInvalidInput
	}

	ok, err := s.HasAccess(ctx, in.RoomID, user.ID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrAccessDenied
	}

	if err := s.limiter.Check(ctx, user.ID); err != nil {
		return "", err
	}

	mentions := s.detectMentions(in.Content)

	kind := in.Kind
	if kind == "" {
		kind = chat.KindText
	}
	if in.FileID != "" {
		kind = chat.KindFile
	}

	msg := &chat.Message{
		ID:        s.newID(),
		RoomID:    in.RoomID,
		SenderID:  user.ID,
		Content:   in.Content,
		Kind:      kind,
		FileID:    in.FileID,
		CreatedAt: s.now(),
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersist, err)
	}

	s.invalidateHistory(ctx, in.RoomID)

	s.hub.Broadcast(ctx, in.RoomID, chat.Event{
		Name:    chat.EventMessage,
		Payload: s.payloadFor(ctx, *msg),
	})

	for _, mention := range mentions {
		query := stripMention(in.Content, mention)
		if s.streamer != nil {
			s.streamer.Start(context.WithoutCancel(ctx), in.RoomID, user.ID, mention, query)
		}
	}

	go func() {
		touchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.sessions.TouchSession(touchCtx, sessionID, s.now()); err != nil {
			s.log.Debug("session touch failed", zap.String("sessionId", sessionID), zap.Error(err))
		}
	}()

	return msg.ID, nil
}

// detectMentions returns the assistant mention tokens present in content,
// in configuration order, at most once each.
func (s *Service) detectMentions(content string) []string {
	var found []string
	for _, profile := range s.assistants.List() {
		if containsMention(content, profile.Mention) {
			found = append(found, profile.Mention)
		}
	}
	return found
}

// containsMention matches "@name" at a word boundary so "@wayneAIx" does
// not trigger wayneAI.
func containsMention(content, mention string) bool {
	token := "@" + mention
	idx := 0
	for {
		i := strings.Index(content[idx:], token)
		if i < 0 {
			return false
		}
		end := idx + i + len(token)
		if end == len(content) || !isWordByte(content[end]) {
			return true
		}
		idx = end
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func stripMention(content, mention string) string {
	stripped := strings.ReplaceAll(content, "@"+mention, "")
	return strings.Join(strings.Fields(stripped), " ")
}

// invalidateHistory drops the room's first-page cache entry after a
// successful persist. Best-effort.
func (s *Service) invalidateHistory(ctx context.Context, roomID string) {
	key := cache.HistoryKey(roomID, "latest", DefaultHistoryLimit)
	if err := s.cache.Delete(ctx, key); err != nil {
		s.log.Debug("history cache invalidation failed",
			zap.String("roomId", roomID), zap.Error(err))
	}
}

// DefaultHistoryLimit is the page size used by history fetches.
const DefaultHistoryLimit = 25
