package repositories

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLastSeenNotFound = errors.New("last seen not found")

const lastSeenKeyPrefix = "last_seen:"

// Last-seen records outlive the in-memory presence registry but are still
// soft state; they expire rather than accumulate forever.
const lastSeenTTL = 30 * 24 * time.Hour

// LastSeenStore persists the auxiliary last-seen record written when a user's
// final connection closes.
type LastSeenStore interface {
	Set(ctx context.Context, userID int, lastSeen time.Time) error
	Get(ctx context.Context, userID int) (time.Time, error)
}

// RedisLastSeen is a go-redis backed LastSeenStore.
type RedisLastSeen struct {
	client *redis.Client
}

// NewRedisLastSeen constructs a RedisLastSeen.
func NewRedisLastSeen(client *redis.Client) *RedisLastSeen {
	return &RedisLastSeen{client: client}
}

func lastSeenKey(userID int) string {
	return fmt.Sprintf("%s%d", lastSeenKeyPrefix, userID)
}

// Set stores the last-seen timestamp for a user.
func (s *RedisLastSeen) Set(ctx context.Context, userID int, lastSeen time.Time) error {
	return s.client.Set(ctx, lastSeenKey(userID), lastSeen.UTC().Format(time.RFC3339Nano), lastSeenTTL).Err()
}

// Get returns the last-seen timestamp for a user.
func (s *RedisLastSeen) Get(ctx context.Context, userID int) (time.Time, error) {
	val, err := s.client.Get(ctx, lastSeenKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, ErrLastSeenNotFound
		}
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, val)
}

// NewLastSeenStore builds a Redis store, or an in-memory fallback when Redis
// is not configured.
func NewLastSeenStore(redisURL string) LastSeenStore {
	if redisURL == "" {
		log.Printf("redis disabled, last-seen kept in memory only")
		return newMemoryLastSeen()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("redis disabled, last-seen kept in memory only: %v", err)
		return newMemoryLastSeen()
	}
	return NewRedisLastSeen(redis.NewClient(opts))
}

type memoryLastSeen struct {
	mu   sync.Mutex
	seen map[int]time.Time
}

func newMemoryLastSeen() *memoryLastSeen {
	return &memoryLastSeen{seen: make(map[int]time.Time)}
}

func (m *memoryLastSeen) Set(_ context.Context, userID int, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[userID] = lastSeen
	return nil
}

func (m *memoryLastSeen) Get(_ context.Context, userID int) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.seen[userID]
	if !ok {
		return time.Time{}, ErrLastSeenNotFound
	}
	return t, nil
}
