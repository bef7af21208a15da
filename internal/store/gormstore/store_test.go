package gormstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlab/driftchat/internal/model/chat"
	"github.com/driftlab/driftchat/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	return s
}

func TestPingAndRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	require.NoError(t, s.PutUser(ctx, chat.User{ID: "u1", Name: "alice", Email: "alice@example.com"}))
	user, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Name)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.PutFile(ctx, chat.File{ID: "f1", Filename: "a1b2.pdf", OriginalName: "report.pdf", MimeType: "application/pdf", Size: 1024}))
	file, err := s.GetFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", file.OriginalName)
}

func TestParticipantLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRoom(ctx, chat.Room{ID: "r1", Name: "general", CreatorID: "u1", CreatedAt: time.Now()}))

	room, err := s.AddParticipant(ctx, "r1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, room.Participants)

	// Adding again must not duplicate.
	room, err = s.AddParticipant(ctx, "r1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, room.Participants)

	room, err = s.AddParticipant(ctx, "r1", "u2")
	require.NoError(t, err)
	assert.Len(t, room.Participants, 2)

	room, err = s.RemoveParticipant(ctx, "r1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, room.Participants)
	assert.False(t, room.HasParticipant("u1"))

	// Removing an absent user is a no-op.
	room, err = s.RemoveParticipant(ctx, "r1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, room.Participants)

	_, err = s.AddParticipant(ctx, "nope", "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func seedRoomMessages(t *testing.T, s *Store, roomID string, n int, base time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.CreateMessage(context.Background(), &chat.Message{
			ID:        fmt.Sprintf("%s-m%03d", roomID, i),
			RoomID:    roomID,
			SenderID:  "u1",
			Content:   fmt.Sprintf("msg %d", i),
			Kind:      chat.KindText,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func TestFindMessagesOrderingAndCursor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedRoomMessages(t, s, "r1", 10, base)
	seedRoomMessages(t, s, "r2", 3, base) // other room must not leak

	msgs, err := s.FindMessages(ctx, "r1", nil, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	// Newest first.
	assert.Equal(t, "r1-m009", msgs[0].ID)
	assert.Equal(t, "r1-m005", msgs[4].ID)

	// Cursor fetches strictly older messages.
	boundary := msgs[4].CreatedAt
	older, err := s.FindMessages(ctx, "r1", &boundary, 10)
	require.NoError(t, err)
	require.Len(t, older, 5)
	for _, m := range older {
		assert.True(t, m.CreatedAt.Before(boundary))
	}
}

func TestFindMessagesSkipsDeleted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateMessage(ctx, &chat.Message{ID: "m1", RoomID: "r1", Kind: chat.KindText, CreatedAt: base}))
	require.NoError(t, s.CreateMessage(ctx, &chat.Message{ID: "m2", RoomID: "r1", Kind: chat.KindText, CreatedAt: base.Add(time.Second), Deleted: true}))

	msgs, err := s.FindMessages(ctx, "r1", nil, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedRoomMessages(t, s, "r1", 2, base)

	at := base.Add(time.Minute)
	require.NoError(t, s.MarkRead(ctx, []string{"r1-m000", "r1-m001", "ghost"}, "u2", at))
	require.NoError(t, s.MarkRead(ctx, []string{"r1-m000"}, "u2", at.Add(time.Minute)))

	msg, err := s.GetMessage(ctx, "r1-m000")
	require.NoError(t, err)
	require.Len(t, msg.Readers, 1)
	assert.Equal(t, "u2", msg.Readers[0].UserID)
	assert.True(t, msg.Readers[0].ReadAt.Equal(at))

	msg, err = s.GetMessage(ctx, "r1-m001")
	require.NoError(t, err)
	assert.True(t, msg.ReadBy("u2"))
}

func TestSetReactionToggles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateMessage(ctx, &chat.Message{ID: "m1", RoomID: "r1", Kind: chat.KindText, CreatedAt: time.Now()}))

	reactions, err := s.SetReaction(ctx, "m1", "👍", "u1", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, reactions["👍"])

	// Same user adding again stays a single entry.
	reactions, err = s.SetReaction(ctx, "m1", "👍", "u1", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, reactions["👍"])

	reactions, err = s.SetReaction(ctx, "m1", "👍", "u2", true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, reactions["👍"])

	reactions, err = s.SetReaction(ctx, "m1", "👍", "u1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, reactions["👍"])

	// Removing the last reactor drops the emoji key entirely.
	reactions, err = s.SetReaction(ctx, "m1", "👍", "u2", false)
	require.NoError(t, err)
	assert.NotContains(t, reactions, "👍")

	_, err = s.SetReaction(ctx, "ghost", "👍", "u1", true)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.PutSession(ctx, chat.Session{ID: "sess-1", UserID: "u1", CreatedAt: created, LastActivity: created}))

	sess, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)

	touched := created.Add(time.Hour)
	require.NoError(t, s.TouchSession(ctx, "sess-1", touched))
	sess, err = s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, sess.LastActivity.Equal(touched))

	assert.ErrorIs(t, s.TouchSession(ctx, "ghost", touched), store.ErrNotFound)
}
