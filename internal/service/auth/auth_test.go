package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/driftlab/driftchat/internal/cache"
	"github.com/driftlab/driftchat/internal/model/chat"
	"github.com/driftlab/driftchat/internal/store"
)

const testKey = "test-signing-key"

func signToken(t *testing.T, userID string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testKey))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newService(t *testing.T) (*Service, *store.Memory, *cache.Memory) {
	t.Helper()
	repos := store.NewMemory()
	repos.PutUser(chat.User{ID: "u1", Name: "Alice", Email: "alice@example.com"})
	repos.PutSession(chat.Session{ID: "s1", UserID: "u1", CreatedAt: time.Now()})

	c := cache.NewMemory()
	svc := New(NewJWTVerifier([]byte(testKey)), repos, repos, c, 5*time.Minute, zap.NewNop())
	return svc, repos, c
}

func TestAuthenticateSuccess(t *testing.T) {
	svc, _, _ := newService(t)

	user, sess, err := svc.Authenticate(context.Background(), signToken(t, "u1", time.Hour), "s1")
	if err != nil {
		t.Fatalf("Authenticate err: %v", err)
	}
	if user.ID != "u1" || user.Name != "Alice" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if sess.ID != "s1" {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestAuthenticateExpiredToken(t *testing.T) {
	svc, _, _ := newService(t)

	_, _, err := svc.Authenticate(context.Background(), signToken(t, "u1", -time.Minute), "s1")
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestAuthenticateGarbageToken(t *testing.T) {
	svc, _, _ := newService(t)

	_, _, err := svc.Authenticate(context.Background(), "not-a-jwt", "s1")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthenticateWrongSessionOwner(t *testing.T) {
	svc, repos, _ := newService(t)
	repos.PutSession(chat.Session{ID: "s2", UserID: "someone-else"})

	_, _, err := svc.Authenticate(context.Background(), signToken(t, "u1", time.Hour), "s2")
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestAuthenticateUnknownSession(t *testing.T) {
	svc, _, _ := newService(t)

	_, _, err := svc.Authenticate(context.Background(), signToken(t, "u1", time.Hour), "missing")
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestAuthenticateUnknownUser(t *testing.T) {
	svc, repos, _ := newService(t)
	repos.PutSession(chat.Session{ID: "s3", UserID: "ghost"})

	_, _, err := svc.Authenticate(context.Background(), signToken(t, "ghost", time.Hour), "s3")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestAuthenticatePrefersCachedUser(t *testing.T) {
	svc, _, c := newService(t)
	ctx := context.Background()

	// Prime the cache with a record that differs from the store; the
	// cached copy must win within its TTL.
	if err := c.Set(ctx, cache.UserKey("u1"), chat.User{ID: "u1", Name: "Cached"}, time.Minute); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	user, _, err := svc.Authenticate(ctx, signToken(t, "u1", time.Hour), "s1")
	if err != nil {
		t.Fatalf("Authenticate err: %v", err)
	}
	if user.Name != "Cached" {
		t.Fatalf("expected cached user, got %+v", user)
	}
}
