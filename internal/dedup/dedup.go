// Package dedup provides the run-wide fingerprint set used to evaluate every
// mutated request at most once.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"ngescape/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// Fingerprint returns a stable identity for a request built from its method, URL
// and encoded body. It does not depend on which mutation produced the request.
func Fingerprint(r models.Request) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(r.Method)))
	h.Write([]byte{' '})
	h.Write([]byte(r.URL))
	h.Write([]byte{'\n'})
	h.Write([]byte(r.Body()))
	return hex.EncodeToString(h.Sum(nil))
}

// Set is an append-only set of fingerprints. It uses Redis as a shared backend
// when a client is given, with the in-memory map as the session's source of truth.
type Set struct {
	mu          sync.Mutex
	seen        map[string]struct{}
	redisClient *redis.Client
	redisKey    string
	ttl         time.Duration
	expirySet   bool
}

// NewSet creates a Set. redisClient may be nil.
func NewSet(redisClient *redis.Client, redisKey string) *Set {
	return &Set{
		seen:        make(map[string]struct{}),
		redisClient: redisClient,
		redisKey:    redisKey,
	}
}

// ExpireAfter makes the shared Redis set expire ttl after its first
// registration from this process. Zero keeps it forever.
func (s *Set) ExpireAfter(ttl time.Duration) *Set {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ttl = ttl
	return s
}

// Add registers key and reports whether it was new. The membership check and the
// registration happen under one lock, so racing callers see exactly one true.
func (s *Set) Add(ctx context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return false
	}

	if s.redisClient != nil {
		added, err := s.redisClient.SAdd(ctx, s.redisKey, key).Result()
		if err != nil {
			log.Warn().Err(err).Str("key", s.redisKey).Msg("Failed to add fingerprint to Redis, using in-memory set only.")
		} else if added == 0 {
			// Registered by another process sharing the same key.
			s.seen[key] = struct{}{}
			return false
		} else {
			s.touch(ctx)
		}
	}

	s.seen[key] = struct{}{}
	return true
}

func (s *Set) touch(ctx context.Context) {
	if s.ttl <= 0 || s.expirySet {
		return
	}
	if err := s.redisClient.Expire(ctx, s.redisKey, s.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", s.redisKey).Msg("Failed to set expiry on Redis fingerprint set.")
		return
	}
	s.expirySet = true
}

// Has reports whether key was registered in this session.
func (s *Set) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.seen[key]
	return exists
}

// Len returns the number of keys registered in this session.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.seen)
}
