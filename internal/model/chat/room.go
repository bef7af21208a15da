package chat

import "time"

// Room is a named channel with an ordered participant set. The realtime
// core only mutates Participants, via the room repository.
type Room struct {
	ID           string    `json:"_id"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatorID    string    `json:"creator"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasParticipant reports whether the user belongs to the room.
func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
