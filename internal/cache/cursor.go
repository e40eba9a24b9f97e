package cache

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

const cursorKeyPrefix = "read_cursor:"

// CursorStore tracks the last message each user confirmed reading. Resync
// reports this cursor in the state-sync frame before replay starts.
type CursorStore interface {
	SetReadCursor(ctx context.Context, userID, messageID string) error
	ReadCursor(ctx context.Context, userID string) (string, error)
}

// NewCursorStore builds a Redis-backed store, or an in-memory fallback when
// Redis is not configured or unreachable.
func NewCursorStore(addr string) CursorStore {
	if addr == "" {
		log.Printf("redis disabled, using in-memory cursor store")
		return newMemoryCursorStore()
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Printf("redis unreachable, using in-memory cursor store: %v", err)
		return newMemoryCursorStore()
	}

	log.Printf("redis connected addr=%s", addr)
	return &redisCursorStore{client: client}
}

type redisCursorStore struct {
	client *redis.Client
}

func (s *redisCursorStore) SetReadCursor(ctx context.Context, userID, messageID string) error {
	return s.client.Set(ctx, cursorKeyPrefix+userID, messageID, 0).Err()
}

func (s *redisCursorStore) ReadCursor(ctx context.Context, userID string) (string, error) {
	val, err := s.client.Get(ctx, cursorKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

type memoryCursorStore struct {
	mu      sync.RWMutex
	cursors map[string]string
}

func newMemoryCursorStore() *memoryCursorStore {
	return &memoryCursorStore{cursors: make(map[string]string)}
}

func (s *memoryCursorStore) SetReadCursor(ctx context.Context, userID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[userID] = messageID
	return nil
}

func (s *memoryCursorStore) ReadCursor(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[userID], nil
}
