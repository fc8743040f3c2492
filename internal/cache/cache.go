// Package cache persists ChatState by chat_id in a TTL-bounded key-value
// store. Redis is primary; an in-memory map is the fallback used when Redis
// is unreachable at startup, matching how the rest of the gateway degrades
// rather than refuses to start.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"criabot-gateway/internal/apperr"
	"criabot-gateway/internal/chat"

	"github.com/redis/go-redis/v9"
)

// ChatState is the persisted shape of one chat session.
type ChatState struct {
	StartedAt int64              `json:"started_at"`
	History   []chat.ChatMessage `json:"history"`
}

// SessionCache is the durable-ish store chat sessions live in between turns.
type SessionCache interface {
	Set(ctx context.Context, chatID string, state ChatState, ttl time.Duration) error
	Get(ctx context.Context, chatID string) (ChatState, bool, error)
	Delete(ctx context.Context, chatID string) error
	Exists(ctx context.Context, chatID string) (bool, error)
}

// RedisCache stores ChatState as JSON under the chat_id key.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an already-connected Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Set(ctx context.Context, chatID string, state ChatState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return apperr.New(apperr.ErrCacheTransport, fmt.Sprintf("failed to serialize chat state: %v", err))
	}
	if err := r.client.Set(ctx, chatID, data, ttl).Err(); err != nil {
		return apperr.New(apperr.ErrCacheTransport, fmt.Sprintf("failed to write chat state: %v", err))
	}
	return nil
}

func (r *RedisCache) Get(ctx context.Context, chatID string) (ChatState, bool, error) {
	val, err := r.client.Get(ctx, chatID).Result()
	if err == redis.Nil {
		return ChatState{}, false, nil
	}
	if err != nil {
		return ChatState{}, false, apperr.New(apperr.ErrCacheTransport, fmt.Sprintf("failed to read chat state: %v", err))
	}

	var state ChatState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		// Corrupt payload: the core must not silently drop history.
		return ChatState{}, false, apperr.New(apperr.ErrCacheTransport, fmt.Sprintf("corrupt chat state for %s: %v", chatID, err))
	}
	return state, true, nil
}

func (r *RedisCache) Delete(ctx context.Context, chatID string) error {
	if err := r.client.Del(ctx, chatID).Err(); err != nil {
		return apperr.New(apperr.ErrCacheTransport, fmt.Sprintf("failed to delete chat state: %v", err))
	}
	return nil
}

func (r *RedisCache) Exists(ctx context.Context, chatID string) (bool, error) {
	n, err := r.client.Exists(ctx, chatID).Result()
	if err != nil {
		return false, apperr.New(apperr.ErrCacheTransport, fmt.Sprintf("failed to check chat state: %v", err))
	}
	return n > 0, nil
}

// MemoryCache is an in-process fallback used when Redis is unavailable. It
// is not shared across instances, so sessions created while Redis is down
// do not survive a restart or a later successful Redis reconnect.
type MemoryCache struct {
	mu    sync.Mutex
	store map[string]memoryEntry
}

type memoryEntry struct {
	state   ChatState
	expires time.Time
}

// NewMemoryCache builds an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{store: make(map[string]memoryEntry)}
}

func (m *MemoryCache) Set(_ context.Context, chatID string, state ChatState, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[chatID] = memoryEntry{state: state, expires: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryCache) Get(_ context.Context, chatID string) (ChatState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.store[chatID]
	if !ok {
		return ChatState{}, false, nil
	}
	if time.Now().After(entry.expires) {
		delete(m.store, chatID)
		return ChatState{}, false, nil
	}
	return entry.state, true, nil
}

func (m *MemoryCache) Delete(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, chatID)
	return nil
}

func (m *MemoryCache) Exists(ctx context.Context, chatID string) (bool, error) {
	_, ok, err := m.Get(ctx, chatID)
	return ok, err
}
