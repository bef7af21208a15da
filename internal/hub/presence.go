package hub

import (
	"sync"

	"github.com/driftlab/driftchat/internal/registry"
)

// Presence tracks which room each user currently occupies, with a reverse
// index for room fan-out. A user is in at most one room at a time.
type Presence struct {
	mu        sync.RWMutex
	userRoom  *registry.Bounded[string, string]
	roomUsers map[string]map[string]struct{}
}

// NewPresence creates the presence map. capacity bounds tracked users.
func NewPresence(capacity int) *Presence {
	return &Presence{
		userRoom:  registry.NewBounded[string, string](capacity),
		roomUsers: make(map[string]map[string]struct{}),
	}
}

// SetRoom moves the user into roomID and returns the room they left, if
// any. The leave and join are atomic with respect to other callers.
func (p *Presence) SetRoom(userID, roomID string) (previous string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.userRoom.Get(userID); ok {
		if prev == roomID {
			return ""
		}
		previous = prev
		p.dropFromRoom(prev, userID)
		p.userRoom.Delete(userID)
	}

	evictedUser, evictedRoom, evicted := p.userRoom.Put(userID, roomID)
	if evicted {
		p.dropFromRoom(evictedRoom, evictedUser)
	}

	users := p.roomUsers[roomID]
	if users == nil {
		users = make(map[string]struct{})
		p.roomUsers[roomID] = users
	}
	users[userID] = struct{}{}
	return previous
}

// Remove drops the user from presence and returns the room they were in.
func (p *Presence) Remove(userID string) (roomID string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	roomID, ok = p.userRoom.Get(userID)
	if !ok {
		return "", false
	}
	p.userRoom.Delete(userID)
	p.dropFromRoom(roomID, userID)
	return roomID, true
}

// Room returns the user's current room.
func (p *Presence) Room(userID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userRoom.Get(userID)
}

// UsersIn snapshots the user ids currently in roomID.
func (p *Presence) UsersIn(roomID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := p.roomUsers[roomID]
	out := make([]string, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	return out
}

// Len reports the number of users with a current room.
func (p *Presence) Len() int { return p.userRoom.Len() }

func (p *Presence) dropFromRoom(roomID, userID string) {
	users := p.roomUsers[roomID]
	if users == nil {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(p.roomUsers, roomID)
	}
}
