package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftlab/driftchat/internal/bus"
	"github.com/driftlab/driftchat/internal/cache"
	"github.com/driftlab/driftchat/internal/hub"
	"github.com/driftlab/driftchat/internal/model/assistant"
	"github.com/driftlab/driftchat/internal/model/chat"
	"github.com/driftlab/driftchat/internal/service/auth"
	chatservice "github.com/driftlab/driftchat/internal/service/chat"
	"github.com/driftlab/driftchat/internal/service/history"
	"github.com/driftlab/driftchat/internal/service/limiter"
	"github.com/driftlab/driftchat/internal/store"
)

var testKey = []byte("handler-test-key")

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type testServer struct {
	srv  *httptest.Server
	repo *store.Memory
}

func newTestServer(t *testing.T, preemptWait time.Duration) *testServer {
	t.Helper()
	log := zap.NewNop()

	repo := store.NewMemory()
	c := cache.NewMemory()
	conns := hub.NewConnections(100, preemptWait, log)
	presence := hub.NewPresence(100)
	h := hub.New(conns, presence, bus.NewMemory(), "test-instance", log)

	authSvc := auth.New(auth.NewJWTVerifier(testKey), repo, repo, c, 5*time.Minute, log)
	chatSvc := chatservice.New(chatservice.Deps{
		Rooms:      repo,
		Users:      repo,
		Files:      repo,
		Messages:   repo,
		Sessions:   repo,
		Cache:      c,
		Limiter:    limiter.New(c, time.Minute, 40, 100, log),
		Assistants: assistant.NewMemoryStore(assistant.Seed()),
		Hub:        h,
		Log:        log,
	})
	loader := history.New(repo, chatSvc, c, h, 100, log)

	handler := NewHandler(authSvc, chatSvc, loader, h, log)
	handler.SetAuthTimeout(500 * time.Millisecond)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	repo.PutUser(chat.User{ID: "u1", Name: "alice"})
	repo.PutUser(chat.User{ID: "u2", Name: "bob"})
	repo.PutSession(chat.Session{ID: "sess-u1", UserID: "u1"})
	repo.PutSession(chat.Session{ID: "sess-u2", UserID: "u2"})
	repo.PutRoom(chat.Room{ID: "r1", Name: "general"})

	return &testServer{srv: srv, repo: repo}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type receivedFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func sendFrame(t *testing.T, conn *websocket.Conn, kind string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": kind, "payload": json.RawMessage(raw)}); err != nil {
		t.Fatalf("write %s: %v", kind, err)
	}
}

// readUntil skips frames until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, kind string) receivedFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f receivedFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %q: %v", kind, err)
		}
		if f.Type == kind {
			return f
		}
	}
}

func authenticate(t *testing.T, conn *websocket.Conn, userID, sessionID string) {
	t.Helper()
	sendFrame(t, conn, chat.EventAuth, authPayload{Token: signToken(t, userID), SessionID: sessionID})
	readUntil(t, conn, chat.EventConnected)
}

func TestConnectJoinAndSend(t *testing.T) {
	ts := newTestServer(t, time.Hour)

	alice := ts.dial(t)
	authenticate(t, alice, "u1", "sess-u1")

	sendFrame(t, alice, chat.EventJoinRoom, joinPayload{RoomID: "r1"})
	joined := readUntil(t, alice, chat.EventJoinRoomSuccess)
	var room chat.Room
	if err := json.Unmarshal(joined.Payload, &room); err != nil || room.ID != "r1" {
		t.Fatalf("bad join payload: %s (err %v)", joined.Payload, err)
	}

	// Joining triggers an eager first-page load.
	readUntil(t, alice, chat.EventMessageLoadStart)
	page := readUntil(t, alice, chat.EventPreviousMessages)
	var hist chat.HistoryPayload
	if err := json.Unmarshal(page.Payload, &hist); err != nil || hist.RoomID != "r1" {
		t.Fatalf("bad history payload: %s (err %v)", page.Payload, err)
	}

	bob := ts.dial(t)
	authenticate(t, bob, "u2", "sess-u2")
	sendFrame(t, bob, chat.EventJoinRoom, joinPayload{RoomID: "r1"})
	readUntil(t, bob, chat.EventJoinRoomSuccess)

	sendFrame(t, alice, chat.EventChatMessage, messagePayload{RoomID: "r1", Content: "hello bob"})

	// Join notices are system messages and may interleave; wait for the
	// user message itself.
	bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f receivedFrame
		if err := bob.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for chat message: %v", err)
		}
		if f.Type != chat.EventMessage {
			continue
		}
		var mp chat.MessagePayload
		if err := json.Unmarshal(f.Payload, &mp); err != nil {
			t.Fatalf("bad message payload: %v", err)
		}
		if mp.Kind != chat.KindText {
			continue
		}
		if mp.Content != "hello bob" || mp.Sender == nil || mp.Sender.ID != "u1" {
			t.Fatalf("unexpected message: %+v", mp)
		}
		break
	}
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	conn := ts.dial(t)

	sendFrame(t, conn, chat.EventAuth, authPayload{Token: "garbage", SessionID: "sess-u1"})

	got := readUntil(t, conn, chat.EventError)
	var ep chat.ErrorPayload
	if err := json.Unmarshal(got.Payload, &ep); err != nil || ep.Code != "AUTH_FAILED" {
		t.Fatalf("expected AUTH_FAILED, got %s", got.Payload)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var f receivedFrame
	if err := conn.ReadJSON(&f); err == nil {
		t.Fatalf("connection stayed open after rejection: %+v", f)
	}
}

func TestHandshakeRejectsWrongSessionOwner(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	conn := ts.dial(t)

	// u2's token against u1's session.
	sendFrame(t, conn, chat.EventAuth, authPayload{Token: signToken(t, "u2"), SessionID: "sess-u1"})

	got := readUntil(t, conn, chat.EventError)
	var ep chat.ErrorPayload
	if err := json.Unmarshal(got.Payload, &ep); err != nil || ep.Code != "AUTH_FAILED" {
		t.Fatalf("expected AUTH_FAILED, got %s", got.Payload)
	}
}

func TestHandshakeRequiresAuthFirst(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	conn := ts.dial(t)

	sendFrame(t, conn, chat.EventJoinRoom, joinPayload{RoomID: "r1"})

	got := readUntil(t, conn, chat.EventError)
	var ep chat.ErrorPayload
	if err := json.Unmarshal(got.Payload, &ep); err != nil || ep.Code != "AUTH_REQUIRED" {
		t.Fatalf("expected AUTH_REQUIRED, got %s", got.Payload)
	}
}

func TestHandshakeTimesOut(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	conn := ts.dial(t)

	// Send nothing; the server must cut the connection at the deadline.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f receivedFrame
	if err := conn.ReadJSON(&f); err == nil {
		t.Fatalf("idle unauthenticated connection survived: %+v", f)
	}
}

func TestDuplicateLoginPreemptsIncumbent(t *testing.T) {
	ts := newTestServer(t, 50*time.Millisecond)

	first := ts.dial(t)
	authenticate(t, first, "u1", "sess-u1")

	second := ts.dial(t)
	authenticate(t, second, "u1", "sess-u1")

	dup := readUntil(t, first, chat.EventDuplicateLogin)
	var dp chat.DuplicateLoginPayload
	if err := json.Unmarshal(dup.Payload, &dp); err != nil {
		t.Fatalf("bad duplicate_login payload: %v", err)
	}

	ended := readUntil(t, first, chat.EventSessionEnded)
	var sp chat.SessionEndedPayload
	if err := json.Unmarshal(ended.Payload, &sp); err != nil || sp.Reason != hub.ReasonDuplicateLogin {
		t.Fatalf("expected duplicate_login reason, got %s", ended.Payload)
	}

	// The new session keeps working.
	sendFrame(t, second, chat.EventJoinRoom, joinPayload{RoomID: "r1"})
	readUntil(t, second, chat.EventJoinRoomSuccess)
}

func TestForceLoginEndsIncumbentImmediately(t *testing.T) {
	ts := newTestServer(t, time.Hour)

	first := ts.dial(t)
	authenticate(t, first, "u1", "sess-u1")

	second := ts.dial(t)
	authenticate(t, second, "u1", "sess-u1")
	readUntil(t, first, chat.EventDuplicateLogin)

	// A token for a different user must not terminate the session.
	sendFrame(t, second, chat.EventForceLogin, forceLoginPayload{Token: signToken(t, "u2")})
	got := readUntil(t, second, chat.EventError)
	var ep chat.ErrorPayload
	if err := json.Unmarshal(got.Payload, &ep); err != nil || ep.Code != "AUTH_FAILED" {
		t.Fatalf("expected AUTH_FAILED, got %s", got.Payload)
	}

	// The right token skips the grace period (an hour here).
	sendFrame(t, second, chat.EventForceLogin, forceLoginPayload{Token: signToken(t, "u1")})
	ended := readUntil(t, first, chat.EventSessionEnded)
	var sp chat.SessionEndedPayload
	if err := json.Unmarshal(ended.Payload, &sp); err != nil || sp.Reason != hub.ReasonForceLogout {
		t.Fatalf("expected force_logout reason, got %s", ended.Payload)
	}
}

func TestRateLimitSurfacesError(t *testing.T) {
	ts := newTestServer(t, time.Hour)

	conn := ts.dial(t)
	authenticate(t, conn, "u1", "sess-u1")
	sendFrame(t, conn, chat.EventJoinRoom, joinPayload{RoomID: "r1"})
	readUntil(t, conn, chat.EventJoinRoomSuccess)

	for i := 0; i < 41; i++ {
		sendFrame(t, conn, chat.EventChatMessage, messagePayload{RoomID: "r1", Content: "spam"})
	}

	got := readUntil(t, conn, chat.EventError)
	var ep chat.ErrorPayload
	if err := json.Unmarshal(got.Payload, &ep); err != nil || ep.Code != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED, got %s", got.Payload)
	}
}
