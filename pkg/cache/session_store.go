package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore keeps the current proposal selection of each editing session.
// An unknown session reads as proposal 0.
type SessionStore interface {
	CurrentProposal(ctx context.Context, sessionID string) (int64, error)
	SetCurrentProposal(ctx context.Context, sessionID string, proposalID int64) error
}

// MemorySessionStore is a process-local SessionStore.
type MemorySessionStore struct {
	mu        sync.RWMutex
	proposals map[string]int64
}

// NewMemorySessionStore builds an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{proposals: make(map[string]int64)}
}

// CurrentProposal implements SessionStore.
func (s *MemorySessionStore) CurrentProposal(_ context.Context, sessionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proposals[sessionID], nil
}

// SetCurrentProposal implements SessionStore.
func (s *MemorySessionStore) SetCurrentProposal(_ context.Context, sessionID string, proposalID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if proposalID == 0 {
		delete(s.proposals, sessionID)
		return nil
	}
	s.proposals[sessionID] = proposalID
	return nil
}

// RedisSessionStore shares session selections between API instances.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSessionStore wraps an existing client. A zero ttl keeps keys forever.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, prefix: "toms:session:", ttl: ttl}
}

func (s *RedisSessionStore) key(sessionID string) string {
	return s.prefix + sessionID + ":proposal"
}

// CurrentProposal implements SessionStore.
func (s *RedisSessionStore) CurrentProposal(ctx context.Context, sessionID string) (int64, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lookup current proposal: %w", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse current proposal %q: %w", raw, err)
	}
	return id, nil
}

// SetCurrentProposal implements SessionStore. Selecting 0 removes the key.
func (s *RedisSessionStore) SetCurrentProposal(ctx context.Context, sessionID string, proposalID int64) error {
	if proposalID == 0 {
		if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
			return fmt.Errorf("clear current proposal: %w", err)
		}
		return nil
	}
	if err := s.client.Set(ctx, s.key(sessionID), strconv.FormatInt(proposalID, 10), s.ttl).Err(); err != nil {
		return fmt.Errorf("save current proposal: %w", err)
	}
	return nil
}
