// Package auth validates the opening handshake of a realtime session:
// bearer token, device session, and user resolution with a short cache.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/driftlab/driftchat/internal/cache"
	"github.com/driftlab/driftchat/internal/model/chat"
	"github.com/driftlab/driftchat/internal/store"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrInvalidToken   = errors.New("invalid token")
	ErrInvalidSession = errors.New("invalid session")
	ErrUserNotFound   = errors.New("user not found")
)

// TokenVerifier extracts the user identifier from a bearer token.
type TokenVerifier interface {
	Verify(token string) (userID string, err error)
}

// JWTVerifier verifies HS256 tokens whose subject is the user id.
type JWTVerifier struct {
	key []byte
}

// NewJWTVerifier creates a verifier for the given HMAC key.
func NewJWTVerifier(key []byte) *JWTVerifier {
	return &JWTVerifier{key: key}
}

func (v *JWTVerifier) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Service authenticates session handshakes.
type Service struct {
	verifier TokenVerifier
	sessions store.SessionStore
	users    store.UserRepo
	cache    cache.Cache
	userTTL  time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// New wires the authenticator.
func New(verifier TokenVerifier, sessions store.SessionStore, users store.UserRepo, c cache.Cache, userTTL time.Duration, log *zap.Logger) *Service {
	return &Service{
		verifier: verifier,
		sessions: sessions,
		users:    users,
		cache:    c,
		userTTL:  userTTL,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the time source for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Authenticate verifies the token, validates the device session, and
// resolves the user record, preferring the cache over the repository.
// The session's last activity is updated asynchronously.
func (s *Service) Authenticate(ctx context.Context, token, sessionID string) (chat.User, chat.Session, error) {
	userID, err := s.verifier.Verify(token)
	if err != nil {
		return chat.User{}, chat.Session{}, err
	}

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil || sess.UserID != userID {
		return chat.User{}, chat.Session{}, ErrInvalidSession
	}

	user, err := s.resolveUser(ctx, userID)
	if err != nil {
		return chat.User{}, chat.Session{}, err
	}

	go func() {
		touchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.sessions.TouchSession(touchCtx, sessionID, s.now()); err != nil {
			s.log.Debug("session touch failed", zap.String("sessionId", sessionID), zap.Error(err))
		}
	}()

	return user, sess, nil
}

// VerifyUser resolves a bare token to its user id. force_login uses it to
// prove the requester owns the session being terminated.
func (s *Service) VerifyUser(token string) (string, error) {
	return s.verifier.Verify(token)
}

// Touch bumps the session's last activity; failures only log.
func (s *Service) Touch(ctx context.Context, sessionID string) {
	if err := s.sessions.TouchSession(ctx, sessionID, s.now()); err != nil {
		s.log.Debug("session touch failed", zap.String("sessionId", sessionID), zap.Error(err))
	}
}

func (s *Service) resolveUser(ctx context.Context, userID string) (chat.User, error) {
	key := cache.UserKey(userID)

	var cached chat.User
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	} else if err != nil {
		s.log.Warn("user cache read failed", zap.String("userId", userID), zap.Error(err))
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return chat.User{}, ErrUserNotFound
		}
		return chat.User{}, err
	}

	if err := s.cache.Set(ctx, key, user, s.userTTL); err != nil {
		s.log.Warn("user cache write failed", zap.String("userId", userID), zap.Error(err))
	}
	return user, nil
}
