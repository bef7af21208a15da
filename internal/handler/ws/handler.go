package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftlab/driftchat/internal/hub"
	"github.com/driftlab/driftchat/internal/model/chat"
	"github.com/driftlab/driftchat/internal/service/auth"
	chatservice "github.com/driftlab/driftchat/internal/service/chat"
	"github.com/driftlab/driftchat/internal/service/history"
	"github.com/driftlab/driftchat/internal/service/limiter"
)

// DefaultAuthTimeout bounds how long a fresh connection may take to send
// its auth frame.
const DefaultAuthTimeout = 10 * time.Second

// Handler upgrades and drives realtime connections.
type Handler struct {
	auth        *auth.Service
	chat        *chatservice.Service
	history     *history.Loader
	hub         *hub.Hub
	log         *zap.Logger
	authTimeout time.Duration
	upgrader    websocket.Upgrader
}

// NewHandler wires the websocket endpoint.
func NewHandler(authSvc *auth.Service, chatSvc *chatservice.Service, loader *history.Loader, h *hub.Hub, log *zap.Logger) *Handler {
	return &Handler{
		auth:        authSvc,
		chat:        chatSvc,
		history:     loader,
		hub:         h,
		log:         log,
		authTimeout: DefaultAuthTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// SetAuthTimeout overrides the handshake deadline for tests.
func (h *Handler) SetAuthTimeout(d time.Duration) { h.authTimeout = d }

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.serve)
}

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type authPayload struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
}

type joinPayload struct {
	RoomID string `json:"roomId"`
}

type messagePayload struct {
	RoomID  string    `json:"room"`
	Content string    `json:"content"`
	Kind    chat.Kind `json:"type"`
	// FileData carries the upload reference the file endpoint handed out.
	FileData *fileRef `json:"fileData"`
}

type fileRef struct {
	ID string `json:"_id"`
}

type historyRequestPayload struct {
	RoomID string     `json:"roomId"`
	Before *time.Time `json:"before"`
	Limit  int        `json:"limit"`
}

type markReadPayload struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
}

type reactionPayload struct {
	MessageID string `json:"messageId"`
	Reaction  string `json:"reaction"`
	Type      string `json:"type"` // "add" or "remove"
}

type typingPayload struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type statusPayload struct {
	Status string `json:"status"`
}

type forceLoginPayload struct {
	Token string `json:"token"`
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	user, sess, ok := h.handshake(conn)
	if !ok {
		conn.Close()
		return
	}

	client := newClient(uuid.NewString(), user.ID, conn, r.RemoteAddr, r.UserAgent(), h.log)
	go client.writePump()

	h.hub.Conns.Register(user.ID, client)
	client.Deliver(chat.Event{
		Name:    chat.EventConnected,
		Payload: map[string]any{"userId": user.ID, "sessionId": sess.ID},
	})

	h.log.Info("session connected",
		zap.String("userId", user.ID),
		zap.String("sessionId", sess.ID),
		zap.String("connId", client.ID()))

	h.readLoop(r.Context(), conn, client, user, sess)
}

// handshake reads and validates the auth frame. The deadline covers the
// whole exchange: a connection that stalls before authenticating is cut.
func (h *Handler) handshake(conn *websocket.Conn) (chat.User, chat.Session, bool) {
	conn.SetReadDeadline(time.Now().Add(h.authTimeout))

	var f inboundFrame
	if err := conn.ReadJSON(&f); err != nil {
		h.log.Debug("handshake read failed", zap.Error(err))
		return chat.User{}, chat.Session{}, false
	}
	if f.Type != chat.EventAuth {
		h.rejectHandshake(conn, "AUTH_REQUIRED", "first frame must be auth")
		return chat.User{}, chat.Session{}, false
	}

	var p authPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil || p.Token == "" || p.SessionID == "" {
		h.rejectHandshake(conn, "AUTH_REQUIRED", "token and sessionId are required")
		return chat.User{}, chat.Session{}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.authTimeout)
	defer cancel()
	user, sess, err := h.auth.Authenticate(ctx, p.Token, p.SessionID)
	if err != nil {
		code := "AUTH_FAILED"
		if errors.Is(err, auth.ErrTokenExpired) {
			code = "TOKEN_EXPIRED"
		}
		h.rejectHandshake(conn, code, err.Error())
		return chat.User{}, chat.Session{}, false
	}
	return user, sess, true
}

func (h *Handler) rejectHandshake(conn *websocket.Conn, code, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	conn.WriteJSON(frame{
		Type:      chat.EventError,
		Payload:   chat.ErrorPayload{Code: code, Message: message},
		Timestamp: time.Now().Unix(),
	})
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, user chat.User, sess chat.Session) {
	defer func() {
		wasCurrent := h.hub.Conns.Unregister(user.ID, client)
		client.closeTransport()
		// A pre-empted or force-ended session must not tear down room
		// state: the replacement session owns it now.
		if wasCurrent && !client.Preempted() {
			h.chat.Disconnect(context.WithoutCancel(ctx), user)
		}
		h.log.Info("session closed",
			zap.String("userId", user.ID), zap.String("connId", client.ID()))
	}()

	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		var f inboundFrame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug("read failed", zap.String("userId", user.ID), zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		h.hub.Conns.Touch(user.ID)

		h.dispatch(ctx, client, user, sess, f)

		if !client.Connected() {
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, client *Client, user chat.User, sess chat.Session, f inboundFrame) {
	switch f.Type {
	case chat.EventJoinRoom:
		h.handleJoin(ctx, client, user, f.Payload)
	case chat.EventChatMessage:
		h.handleMessage(ctx, client, user, sess, f.Payload)
	case chat.EventFetchPrevious:
		h.handleFetchPrevious(ctx, client, user, f.Payload)
	case chat.EventMarkRead:
		h.handleMarkRead(ctx, client, user, f.Payload)
	case chat.EventReaction:
		h.handleReaction(ctx, client, user, f.Payload)
	case chat.EventTyping:
		h.handleTyping(ctx, user, f.Payload)
	case chat.EventUpdateStatus:
		h.handleStatus(ctx, user, f.Payload)
	case chat.EventForceLogin:
		h.handleForceLogin(client, user, f.Payload)
	default:
		h.deliverError(client, "UNSUPPORTED", "unsupported message type: "+f.Type)
	}
}

func (h *Handler) handleJoin(ctx context.Context, client *Client, user chat.User, raw json.RawMessage) {
	var p joinPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
		client.Deliver(chat.Event{
			Name:    chat.EventJoinRoomError,
			Payload: chat.ErrorPayload{Code: "INVALID_PAYLOAD", Message: "roomId is required"},
		})
		return
	}

	room, err := h.chat.Join(ctx, user, p.RoomID)
	if err != nil {
		code := "JOIN_FAILED"
		if errors.Is(err, chatservice.ErrRoomNotFound) {
			code = "ROOM_NOT_FOUND"
		}
		client.Deliver(chat.Event{
			Name:    chat.EventJoinRoomError,
			Payload: chat.ErrorPayload{Code: code, Message: err.Error()},
		})
		return
	}

	client.Deliver(chat.Event{Name: chat.EventJoinRoomSuccess, Payload: room})

	// The first page loads eagerly so the client renders history without
	// a second round trip.
	h.history.Load(ctx, history.Request{UserID: user.ID, RoomID: p.RoomID})
}

func (h *Handler) handleMessage(ctx context.Context, client *Client, user chat.User, sess chat.Session, raw json.RawMessage) {
	var p messagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.deliverError(client, "INVALID_PAYLOAD", "undecodable chat message")
		return
	}
	if p.RoomID == "" {
		if roomID, ok := h.hub.Presence.Room(user.ID); ok {
			p.RoomID = roomID
		}
	}

	var fileID string
	if p.FileData != nil {
		fileID = p.FileData.ID
	}
	_, err := h.chat.Send(ctx, user, sess.ID, chatservice.SendInput{
		RoomID:  p.RoomID,
		Content: p.Content,
		Kind:    p.Kind,
		FileID:  fileID,
	})
	switch {
	case err == nil:
	case errors.Is(err, limiter.ErrLimitExceeded):
		h.deliverError(client, "RATE_LIMITED", "too many messages, slow down")
	case errors.Is(err, chatservice.ErrAccessDenied), errors.Is(err, chatservice.ErrRoomNotFound):
		h.deliverError(client, "ACCESS_DENIED", "join the room before sending")
	case errors.Is(err, chatservice.ErrInvalidInput):
		h.deliverError(client, "INVALID_PAYLOAD", "empty message")
	default:
		h.log.Error("message send failed", zap.String("userId", user.ID), zap.Error(err))
		h.deliverError(client, "INTERNAL", "message could not be delivered")
	}
}

func (h *Handler) handleFetchPrevious(ctx context.Context, client *Client, user chat.User, raw json.RawMessage) {
	var p historyRequestPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.deliverError(client, "INVALID_PAYLOAD", "undecodable history request")
		return
	}
	if p.RoomID == "" {
		if roomID, ok := h.hub.Presence.Room(user.ID); ok {
			p.RoomID = roomID
		}
	}
	h.history.Load(ctx, history.Request{
		UserID: user.ID,
		RoomID: p.RoomID,
		Before: p.Before,
		Limit:  p.Limit,
	})
}

func (h *Handler) handleMarkRead(ctx context.Context, client *Client, user chat.User, raw json.RawMessage) {
	var p markReadPayload
	if err := json.Unmarshal(raw, &p); err != nil || len(p.MessageIDs) == 0 {
		h.deliverError(client, "INVALID_PAYLOAD", "messageIds are required")
		return
	}
	if err := h.chat.MarkRead(ctx, user.ID, p.RoomID, p.MessageIDs); err != nil {
		h.log.Debug("mark read failed", zap.String("userId", user.ID), zap.Error(err))
	}
}

func (h *Handler) handleReaction(ctx context.Context, client *Client, user chat.User, raw json.RawMessage) {
	var p reactionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.MessageID == "" || p.Reaction == "" {
		h.deliverError(client, "INVALID_PAYLOAD", "messageId and reaction are required")
		return
	}
	add := p.Type != "remove"
	if err := h.chat.React(ctx, user.ID, p.MessageID, p.Reaction, add); err != nil {
		code := "REACTION_FAILED"
		if errors.Is(err, chatservice.ErrMessageNotFound) {
			code = "MESSAGE_NOT_FOUND"
		}
		h.deliverError(client, code, err.Error())
	}
}

func (h *Handler) handleTyping(ctx context.Context, user chat.User, raw json.RawMessage) {
	var p typingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	h.chat.Typing(ctx, user, p.RoomID, p.IsTyping)
}

func (h *Handler) handleStatus(ctx context.Context, user chat.User, raw json.RawMessage) {
	var p statusPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Status == "" {
		return
	}
	h.chat.UpdateStatus(ctx, user.ID, p.Status)
}

// handleForceLogin ends the user's pre-empted session right away instead
// of waiting out the grace period. The token must prove the requester is
// the same user whose session is being terminated.
func (h *Handler) handleForceLogin(client *Client, user chat.User, raw json.RawMessage) {
	var p forceLoginPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Token == "" {
		h.deliverError(client, "INVALID_PAYLOAD", "token is required")
		return
	}

	userID, err := h.auth.VerifyUser(p.Token)
	if err != nil || userID != user.ID {
		h.deliverError(client, "AUTH_FAILED", "force_login token does not match this user")
		return
	}

	if h.hub.Conns.ForceLogout(user.ID) {
		h.log.Info("forced logout of pre-empted session", zap.String("userId", user.ID))
	}
}

func (h *Handler) deliverError(client *Client, code, message string) {
	client.Deliver(chat.Event{
		Name:    chat.EventError,
		Payload: chat.ErrorPayload{Code: code, Message: message},
	})
}
