package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Session is an authenticated login session. The access token itself is a
// stateless JWT; the session row exists so tokens can be looked up by hash,
// refresh tokens can be rotated with reuse detection, and all of a user's
// sessions can be revoked at once.
type Session struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	TokenHash    string    `json:"token_hash"`
	RefreshToken string    `json:"refresh_token"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SessionRepository abstracts session persistence for the auth collaborator.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	FindByID(ctx context.Context, id uuid.UUID) (*Session, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	FindByRefreshToken(ctx context.Context, refreshToken string) (*Session, error)
	Invalidate(ctx context.Context, id uuid.UUID) error
	InvalidateAllUserSessions(ctx context.Context, userID uuid.UUID) error
	RotateRefreshToken(ctx context.Context, oldToken, newToken, newTokenHash string) (*Session, error)
	CleanupExpired(ctx context.Context) (int, error)
}

// HashToken returns the hex SHA-256 of an access token, the form stored and
// looked up by the session repository so raw tokens never sit in the store.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Valkey key patterns:
//
//	sess:{id}             → session JSON (STRING with TTL)
//	sess_token:{hash}     → session id
//	sess_refresh:{token}  → session id
//	user_sess:{user_id}   → SET of session ids
func sessionKey(id uuid.UUID) string  { return "sess:" + id.String() }
func tokenKey(hash string) string     { return "sess_token:" + hash }
func refreshKey(token string) string  { return "sess_refresh:" + token }
func userSessKey(id uuid.UUID) string { return "user_sess:" + id.String() }
func sessionKeyRaw(id string) string  { return "sess:" + id }

// consumeRefreshScript atomically consumes a refresh token and points it at
// nothing. Returns the session id on success, or false if the token was not
// found (indicating reuse of an already-rotated token).
//
//	KEYS[1] = sess_refresh:{oldToken}
var consumeRefreshScript = redis.NewScript(`
local sessionId = redis.call('GET', KEYS[1])
if not sessionId then
    return false
end
redis.call('DEL', KEYS[1])
return sessionId
`)

// ValkeySessionStore implements SessionRepository on Valkey. Expiry is
// delegated to key TTLs; CleanupExpired prunes the per-user index sets of ids
// whose session keys have already expired.
type ValkeySessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewValkeySessionStore creates a session store backed by the given client.
// The ttl bounds both the session and its refresh token.
func NewValkeySessionStore(rdb *redis.Client, ttl time.Duration) *ValkeySessionStore {
	return &ValkeySessionStore{rdb: rdb, ttl: ttl}
}

// Create persists a new session and its secondary lookup keys under a shared
// TTL.
func (s *ValkeySessionStore) Create(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, s.ttl)
	pipe.Set(ctx, tokenKey(session.TokenHash), session.ID.String(), s.ttl)
	pipe.Set(ctx, refreshKey(session.RefreshToken), session.ID.String(), s.ttl)
	pipe.SAdd(ctx, userSessKey(session.UserID), session.ID.String())
	pipe.Expire(ctx, userSessKey(session.UserID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID loads a session. Returns ErrSessionNotFound when absent or expired.
func (s *ValkeySessionStore) FindByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.load(ctx, sessionKey(id))
}

// FindByTokenHash resolves an access-token hash to its session.
func (s *ValkeySessionStore) FindByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	return s.loadIndirect(ctx, tokenKey(tokenHash))
}

// FindByRefreshToken resolves a refresh token to its session.
func (s *ValkeySessionStore) FindByRefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	return s.loadIndirect(ctx, refreshKey(refreshToken))
}

// Invalidate removes a session and all of its lookup keys.
func (s *ValkeySessionStore) Invalidate(ctx context.Context, id uuid.UUID) error {
	session, err := s.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(id), tokenKey(session.TokenHash), refreshKey(session.RefreshToken))
	pipe.SRem(ctx, userSessKey(session.UserID), id.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	return nil
}

// InvalidateAllUserSessions removes every session belonging to a user.
func (s *ValkeySessionStore) InvalidateAllUserSessions(ctx context.Context, userID uuid.UUID) error {
	ids, err := s.rdb.SMembers(ctx, userSessKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("list user sessions: %w", err)
	}

	for _, raw := range ids {
		id, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			continue
		}
		if err := s.Invalidate(ctx, id); err != nil {
			return err
		}
	}

	if err := s.rdb.Del(ctx, userSessKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear user session set: %w", err)
	}
	return nil
}

// RotateRefreshToken atomically consumes the old refresh token and rewrites
// the session with the new refresh token and access-token hash. Presenting an
// already-consumed token returns ErrRefreshTokenReused.
func (s *ValkeySessionStore) RotateRefreshToken(ctx context.Context, oldToken, newToken, newTokenHash string) (*Session, error) {
	result, err := consumeRefreshScript.Run(ctx, s.rdb, []string{refreshKey(oldToken)}).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRefreshTokenReused
	}
	if err != nil {
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}

	session, err := s.load(ctx, sessionKeyRaw(result))
	if err != nil {
		return nil, err
	}

	// Drop the old access-token index before the hash is overwritten.
	oldTokenKey := tokenKey(session.TokenHash)

	session.RefreshToken = newToken
	session.TokenHash = newTokenHash
	session.ExpiresAt = time.Now().Add(s.ttl)

	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, oldTokenKey)
	pipe.Set(ctx, sessionKey(session.ID), data, s.ttl)
	pipe.Set(ctx, tokenKey(newTokenHash), session.ID.String(), s.ttl)
	pipe.Set(ctx, refreshKey(newToken), session.ID.String(), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	return session, nil
}

// CleanupExpired prunes per-user index sets of session ids whose keys have
// already expired, returning the number of stale entries removed. The session
// data itself expires via TTL.
func (s *ValkeySessionStore) CleanupExpired(ctx context.Context) (int, error) {
	removed := 0
	iter := s.rdb.Scan(ctx, 0, "user_sess:*", 100).Iterator()
	for iter.Next(ctx) {
		setKey := iter.Val()
		ids, err := s.rdb.SMembers(ctx, setKey).Result()
		if err != nil {
			return removed, fmt.Errorf("list session set %s: %w", setKey, err)
		}
		for _, id := range ids {
			exists, err := s.rdb.Exists(ctx, sessionKeyRaw(id)).Result()
			if err != nil {
				return removed, fmt.Errorf("check session %s: %w", id, err)
			}
			if exists == 0 {
				if err := s.rdb.SRem(ctx, setKey, id).Err(); err != nil {
					return removed, fmt.Errorf("prune session set %s: %w", setKey, err)
				}
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan session sets: %w", err)
	}
	return removed, nil
}

func (s *ValkeySessionStore) load(ctx context.Context, key string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *ValkeySessionStore) loadIndirect(ctx context.Context, indexKey string) (*Session, error) {
	id, err := s.rdb.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve session index: %w", err)
	}
	return s.load(ctx, sessionKeyRaw(id))
}
