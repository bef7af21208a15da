package chat

import "time"

// Session is an authenticated device session issued by the auth subsystem.
// The realtime core validates it and bumps LastActivity; it never creates one.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}
