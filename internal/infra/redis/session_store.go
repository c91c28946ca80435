package redis

import (
	"context"
	"sync"
	"time"

	"attempt-engine/internal/app"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Sessions own goroutines and channels, so they stay in a local map; Redis
// only carries a liveness marker per session key so operators can see which
// callers are attached to which process.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	owner  string

	mu       sync.RWMutex
	sessions map[string]*app.Session
}

// NewSessionStore builds a store whose markers carry owner (usually the
// hostname) and expire after ttl. Every Put and every Get that finds the
// session refreshes the marker, so an attempt that keeps gaining holders
// stays visible.
func NewSessionStore(client *redis.Client, ttl time.Duration, owner string) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		owner:    owner,
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) Get(key string) (*app.Session, bool) {
	s.mu.RLock()
	session, ok := s.sessions[key]
	s.mu.RUnlock()
	if ok && s.ttl > 0 {
		if err := s.client.Expire(context.Background(), s.key(key), s.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("session_key", key).Msg("refresh session marker")
		}
	}
	return session, ok
}

func (s *SessionStore) Put(key string, session *app.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = session
	// best-effort liveness marker
	if err := s.client.Set(context.Background(), s.key(key), s.owner, s.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("session_key", key).Msg("set session marker")
	}
}

func (s *SessionStore) Delete(key string, session *app.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[key]
	if !ok || current != session {
		return
	}
	delete(s.sessions, key)
	if err := s.client.Del(context.Background(), s.key(key)).Err(); err != nil {
		log.Warn().Err(err).Str("session_key", key).Msg("clear session marker")
	}
}

func (s *SessionStore) key(sessionKey string) string {
	return "attempt:session:" + sessionKey
}
