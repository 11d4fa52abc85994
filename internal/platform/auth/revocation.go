package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationChecker decides whether a token is still acceptable.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti, userID string, issuedAt time.Time) (bool, error)
}

// RevocationStore records revoked tokens. RevokeUser rejects every token
// for userID issued at or before the cutoff; keepFor should be at least the
// token TTL.
type RevocationStore interface {
	RevocationChecker
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	RevokeUser(ctx context.Context, userID string, cutoff time.Time, keepFor time.Duration) error
}

type userCutoff struct {
	at      time.Time
	expires time.Time
}

// MemoryRevocationStore keeps revocations in process memory. Expired entries
// are swept every five minutes until Close is called.
type MemoryRevocationStore struct {
	mu      sync.RWMutex
	tokens  map[string]time.Time
	users   map[string]userCutoff
	done    chan struct{}
	closeMu sync.Once
}

func NewMemoryRevocationStore() *MemoryRevocationStore {
	s := &MemoryRevocationStore{
		tokens: make(map[string]time.Time),
		users:  make(map[string]userCutoff),
		done:   make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryRevocationStore) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return errors.New("jti is required")
	}
	s.mu.Lock()
	s.tokens[jti] = expiresAt
	s.mu.Unlock()
	return nil
}

func (s *MemoryRevocationStore) RevokeUser(_ context.Context, userID string, cutoff time.Time, keepFor time.Duration) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	s.mu.Lock()
	s.users[userID] = userCutoff{at: cutoff, expires: cutoff.Add(keepFor)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(_ context.Context, jti, userID string, issuedAt time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tokens[jti]; ok && jti != "" {
		return true, nil
	}
	if uc, ok := s.users[userID]; ok && !issuedAt.After(uc.at) {
		return true, nil
	}
	return false, nil
}

// Count returns the number of revoked token IDs currently tracked.
func (s *MemoryRevocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

func (s *MemoryRevocationStore) Close() {
	s.closeMu.Do(func() { close(s.done) })
}

func (s *MemoryRevocationStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup(time.Now())
		}
	}
}

func (s *MemoryRevocationStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for jti, exp := range s.tokens {
		if now.After(exp) {
			delete(s.tokens, jti)
		}
	}
	for id, uc := range s.users {
		if now.After(uc.expires) {
			delete(s.users, id)
		}
	}
}

// RedisRevocationStore shares revocations between server instances. Keys
// expire on their own once the revoked tokens could no longer validate.
type RedisRevocationStore struct {
	client *redis.Client
	prefix string
}

func NewRedisRevocationStore(client *redis.Client) *RedisRevocationStore {
	return &RedisRevocationStore{client: client, prefix: "auth:revoked:"}
}

func (s *RedisRevocationStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return errors.New("jti is required")
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.prefix+"jti:"+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis revoke token: %w", err)
	}
	return nil
}

func (s *RedisRevocationStore) RevokeUser(ctx context.Context, userID string, cutoff time.Time, keepFor time.Duration) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	err := s.client.Set(ctx, s.prefix+"user:"+userID, strconv.FormatInt(cutoff.Unix(), 10), keepFor).Err()
	if err != nil {
		return fmt.Errorf("redis revoke user: %w", err)
	}
	return nil
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, jti, userID string, issuedAt time.Time) (bool, error) {
	if jti != "" {
		n, err := s.client.Exists(ctx, s.prefix+"jti:"+jti).Result()
		if err != nil {
			return false, fmt.Errorf("redis check token: %w", err)
		}
		if n > 0 {
			return true, nil
		}
	}
	if userID == "" {
		return false, nil
	}
	raw, err := s.client.Get(ctx, s.prefix+"user:"+userID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis check user: %w", err)
	}
	cutoff, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("corrupt user revocation for %s: %w", userID, err)
	}
	return issuedAt.Unix() <= cutoff, nil
}
