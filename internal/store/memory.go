package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/driftlab/driftchat/internal/model/chat"
)

// Memory implements every repository over process-local maps. Tests build
// on it, and it keeps the binary runnable without a database.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]chat.User
	rooms    map[string]chat.Room
	messages map[string]chat.Message
	files    map[string]chat.File
	sessions map[string]chat.Session
}

// NewMemory creates empty in-memory repositories.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]chat.User),
		rooms:    make(map[string]chat.Room),
		messages: make(map[string]chat.Message),
		files:    make(map[string]chat.File),
		sessions: make(map[string]chat.Session),
	}
}

// Seed helpers used by tests and dev wiring.

func (m *Memory) PutUser(u chat.User) {
	m.mu.Lock()
	m.users[u.ID] = u
	m.mu.Unlock()
}

func (m *Memory) PutRoom(r chat.Room) {
	m.mu.Lock()
	m.rooms[r.ID] = r
	m.mu.Unlock()
}

func (m *Memory) PutFile(f chat.File) {
	m.mu.Lock()
	m.files[f.ID] = f
	m.mu.Unlock()
}

func (m *Memory) PutSession(s chat.Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

func (m *Memory) GetUser(_ context.Context, id string) (chat.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return chat.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetRoom(_ context.Context, id string) (chat.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return chat.Room{}, ErrNotFound
	}
	return cloneRoom(r), nil
}

func (m *Memory) AddParticipant(_ context.Context, roomID, userID string) (chat.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return chat.Room{}, ErrNotFound
	}
	if !r.HasParticipant(userID) {
		r.Participants = append(append([]string(nil), r.Participants...), userID)
		m.rooms[roomID] = r
	}
	return cloneRoom(r), nil
}

func (m *Memory) RemoveParticipant(_ context.Context, roomID, userID string) (chat.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return chat.Room{}, ErrNotFound
	}
	kept := make([]string, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p != userID {
			kept = append(kept, p)
		}
	}
	r.Participants = kept
	m.rooms[roomID] = r
	return cloneRoom(r), nil
}

func (m *Memory) CreateMessage(_ context.Context, msg *chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = cloneMessage(*msg)
	return nil
}

func (m *Memory) GetMessage(_ context.Context, id string) (chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return chat.Message{}, ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (m *Memory) FindMessages(_ context.Context, roomID string, before *time.Time, limit int) ([]chat.Message, error) {
	m.mu.RLock()
	matched := make([]chat.Message, 0, limit)
	for _, msg := range m.messages {
		if msg.RoomID != roomID || msg.Deleted {
			continue
		}
		if before != nil && !msg.CreatedAt.Before(*before) {
			continue
		}
		matched = append(matched, cloneMessage(msg))
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *Memory) MarkRead(_ context.Context, messageIDs []string, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range messageIDs {
		msg, ok := m.messages[id]
		if !ok || msg.ReadBy(userID) {
			continue
		}
		msg.Readers = append(append([]chat.Reader(nil), msg.Readers...), chat.Reader{UserID: userID, ReadAt: at})
		m.messages[id] = msg
	}
	return nil
}

func (m *Memory) SetReaction(_ context.Context, messageID, emoji, userID string, add bool) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}

	reactions := cloneReactions(msg.Reactions)
	users := reactions[emoji]
	idx := -1
	for i, u := range users {
		if u == userID {
			idx = i
			break
		}
	}
	if add && idx < 0 {
		reactions[emoji] = append(users, userID)
	}
	if !add && idx >= 0 {
		users = append(users[:idx], users[idx+1:]...)
		if len(users) == 0 {
			delete(reactions, emoji)
		} else {
			reactions[emoji] = users
		}
	}

	msg.Reactions = reactions
	m.messages[messageID] = msg
	return cloneReactions(reactions), nil
}

func (m *Memory) GetFile(_ context.Context, id string) (chat.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	if !ok {
		return chat.File{}, ErrNotFound
	}
	return f, nil
}

func (m *Memory) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) TouchSession(_ context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivity = at
	m.sessions[sessionID] = s
	return nil
}

func cloneRoom(r chat.Room) chat.Room {
	r.Participants = append([]string(nil), r.Participants...)
	return r
}

func cloneMessage(msg chat.Message) chat.Message {
	msg.Readers = append([]chat.Reader(nil), msg.Readers...)
	msg.Reactions = cloneReactions(msg.Reactions)
	return msg
}

func cloneReactions(src map[string][]string) map[string][]string {
	out := make(map[string][]string, len(src))
	for k, v := range src {
		out[k] = append([]string(nil), v...)
	}
	return out
}
