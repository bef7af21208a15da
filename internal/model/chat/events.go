package chat

import "time"

// Outbound event names (server -> client).
const (
	EventConnected          = "connected"
	EventMessage            = "message"
	EventMessageLoadStart   = "messageLoadStart"
	EventPreviousMessages   = "previousMessagesLoaded"
	EventJoinRoomSuccess    = "joinRoomSuccess"
	EventJoinRoomError      = "joinRoomError"
	EventParticipantsUpdate = "participantsUpdate"
	EventUserLeft           = "userLeft"
	EventUserJoined         = "userJoined"
	EventMessagesRead       = "messagesRead"
	EventReactionUpdate     = "messageReactionUpdate"
	EventUserTyping         = "userTyping"
	EventUserStatusUpdate   = "userStatusUpdate"
	EventDuplicateLogin     = "duplicate_login"
	EventSessionEnded       = "session_ended"
	EventAIMessageStart     = "aiMessageStart"
	EventAIMessageChunk     = "aiMessageChunk"
	EventAIMessageComplete  = "aiMessageComplete"
	EventAIMessageError     = "aiMessageError"
	EventError              = "error"
)

// Inbound event names (client -> server).
const (
	EventAuth           = "auth"
	EventJoinRoom       = "joinRoom"
	EventChatMessage    = "chatMessage"
	EventFetchPrevious  = "fetchPreviousMessages"
	EventMarkRead       = "markMessagesAsRead"
	EventReaction       = "messageReaction"
	EventTyping         = "typing"
	EventUpdateStatus   = "updateUserStatus"
	EventForceLogin     = "force_login"
)

// Event is one framed server-to-client notification.
type Event struct {
	Name    string
	Payload any
}

// MessagePayload is the wire form of a message with sender and file resolved.
type MessagePayload struct {
	ID        string              `json:"_id"`
	RoomID    string              `json:"room"`
	Sender    *User               `json:"sender"`
	Content   string              `json:"content"`
	Kind      Kind                `json:"type"`
	File      *File               `json:"file,omitempty"`
	AIModel   string              `json:"aiType,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Readers   []Reader            `json:"readers"`
	Reactions map[string][]string `json:"reactions"`
}

// ErrorPayload is the wire form of the generic error event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionEndedPayload carries the reason a session was closed server-side.
type SessionEndedPayload struct {
	Reason string `json:"reason"`
}

// DuplicateLoginPayload warns an incumbent session about a newer login.
type DuplicateLoginPayload struct {
	DeviceInfo string    `json:"deviceInfo"`
	IPAddress  string    `json:"ipAddress"`
	Timestamp  time.Time `json:"timestamp"`
}

// ParticipantsPayload announces the current participant set of a room.
type ParticipantsPayload struct {
	RoomID       string `json:"roomId"`
	Participants []User `json:"participants"`
}

// MessagesReadPayload announces a bulk read receipt.
type MessagesReadPayload struct {
	UserID     string   `json:"userId"`
	MessageIDs []string `json:"messageIds"`
}

// ReactionUpdatePayload announces the new reaction state of a message.
type ReactionUpdatePayload struct {
	MessageID string              `json:"messageId"`
	Reactions map[string][]string `json:"reactions"`
}

// TypingPayload relays a typing indicator to room peers.
type TypingPayload struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// StatusPayload relays a presence status change to room peers.
type StatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// AIStartPayload opens a streaming AI response.
type AIStartPayload struct {
	StreamID  string    `json:"sid"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// AIChunkPayload carries one streamed delta plus the accumulated text.
type AIChunkPayload struct {
	StreamID    string `json:"sid"`
	Chunk       string `json:"chunk"`
	FullContent string `json:"fullContent"`
}

// AICompletePayload finalises a stream into a persisted message.
type AICompletePayload struct {
	StreamID string         `json:"sid"`
	Message  MessagePayload `json:"message"`
}

// AIErrorPayload terminates a stream after a generator failure.
type AIErrorPayload struct {
	StreamID string `json:"sid"`
}

// HistoryPayload is the result of a paginated history fetch.
type HistoryPayload struct {
	RoomID          string           `json:"roomId"`
	Messages        []MessagePayload `json:"messages"`
	HasMore         bool             `json:"hasMore"`
	OldestTimestamp *time.Time       `json:"oldestTimestamp,omitempty"`
}
