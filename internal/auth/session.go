package auth

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Session binds a browser to an authenticated email. An anonymous session has an empty
// Email and exists only to carry PendingResetEmail between /reset and /newpass.
type Session struct {
	ID                string    `json:"id"`
	Email             string    `json:"email,omitempty"`
	PendingResetEmail string    `json:"pendingResetEmail,omitempty"`
	LoginTime         time.Time `json:"loginTime"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

func (s *Session) Authenticated() bool {
	return s != nil && s.Email != ""
}

// SessionStore persists sessions. Get returns (nil, nil) for missing or expired sessions
// and Delete is a no-op for unknown ids.
type SessionStore interface {
	Create(ctx context.Context, sess Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByEmail(ctx context.Context, email string) error
	SetPendingReset(ctx context.Context, id, email string) error
}

type RedisSessionStore struct {
	Redis *redis.Client
}

func sessionKey(id string) string {
	return "session:" + id
}

func userSessionsKey(email string) string {
	return "user_sessions:" + email
}

func (s *RedisSessionStore) Create(ctx context.Context, sess Session) error {
	key := sessionKey(sess.ID)

	data := map[string]interface{}{
		"email":        sess.Email,
		"pendingReset": sess.PendingResetEmail,
		"expires":      sess.ExpiresAt.Unix(),
		"loginTime":    sess.LoginTime.Unix(),
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}

	pipe := s.Redis.TxPipeline()
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, ttl)
	if sess.Email != "" {
		idx := userSessionsKey(sess.Email)
		pipe.SAdd(ctx, idx, sess.ID)
		pipe.Expire(ctx, idx, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	vals, err := s.Redis.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	expUnix, _ := strconv.ParseInt(vals["expires"], 10, 64)
	loginUnix, _ := strconv.ParseInt(vals["loginTime"], 10, 64)

	sess := &Session{
		ID:                id,
		Email:             vals["email"],
		PendingResetEmail: vals["pendingReset"],
		ExpiresAt:         time.Unix(expUnix, 0),
		LoginTime:         time.Unix(loginUnix, 0),
	}

	if sess.ExpiresAt.Before(time.Now()) {
		_ = s.Delete(ctx, id)
		return nil, nil
	}

	return sess, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return s.Redis.Del(ctx, sessionKey(id)).Err()
}

func (s *RedisSessionStore) DeleteByEmail(ctx context.Context, email string) error {
	idx := userSessionsKey(email)
	ids, err := s.Redis.SMembers(ctx, idx).Result()
	if err != nil {
		return err
	}
	pipe := s.Redis.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, sessionKey(id))
	}
	pipe.Del(ctx, idx)
	_, err = pipe.Exec(ctx)
	return err
}

// SetPendingReset updates an existing session without extending its lifetime.
func (s *RedisSessionStore) SetPendingReset(ctx context.Context, id, email string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotFound
	}
	key := sessionKey(id)
	pipe := s.Redis.TxPipeline()
	pipe.HSet(ctx, key, "pendingReset", email)
	pipe.ExpireAt(ctx, key, sess.ExpiresAt)
	_, err = pipe.Exec(ctx)
	return err
}

func NewSessionID() string {
	return uuid.NewString()
}
