package chat

import "time"

// Kind classifies a stored message.
type Kind string

const (
	KindText   Kind = "text"
	KindFile   Kind = "file"
	KindSystem Kind = "system"
	KindAI     Kind = "ai"
)

// Reader records that a user has seen a message.
type Reader struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message is the stored form of a room message. Everything except Readers,
// Reactions and Deleted is immutable after creation.
type Message struct {
	ID        string              `json:"_id"`
	RoomID    string              `json:"room"`
	SenderID  string              `json:"sender,omitempty"`
	Content   string              `json:"content"`
	Kind      Kind                `json:"type"`
	FileID    string              `json:"file,omitempty"`
	AIModel   string              `json:"aiType,omitempty"`
	CreatedAt time.Time           `json:"timestamp"`
	Readers   []Reader            `json:"readers"`
	Reactions map[string][]string `json:"reactions"`
	Deleted   bool                `json:"-"`
}

// ReadBy reports whether the user already appears in the readers set.
func (m *Message) ReadBy(userID string) bool {
	for _, r := range m.Readers {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
