package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	log "rias-agent-golang/logger"
)

// Memory stores per-session dialogue history. With a redis client it
// persists across worker restarts, without one it degrades to an
// in-process map. Session entries expire after TTL.
type Memory struct {
	redisClient *redis.Client
	keyPrefix   string
	ttl         time.Duration

	local map[string][]*schema.Message
	mu    sync.RWMutex
}

const defaultTTL = 24 * time.Hour

// NewMemory creates a dialogue memory. redisClient may be nil.
func NewMemory(redisClient *redis.Client, keyPrefix string) *Memory {
	return &Memory{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		ttl:         defaultTTL,
		local:       make(map[string][]*schema.Message),
	}
}

func (m *Memory) key(sessionID string) string {
	return fmt.Sprintf("%sdialogue:%s", m.keyPrefix, sessionID)
}

// AddMessage appends one message to a session's dialogue.
func (m *Memory) AddMessage(ctx context.Context, sessionID string, msg *schema.Message) error {
	if m.redisClient == nil {
		m.mu.Lock()
		m.local[sessionID] = append(m.local[sessionID], msg)
		m.mu.Unlock()
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message failed: %w", err)
	}

	pipe := m.redisClient.Pipeline()
	pipe.RPush(ctx, m.key(sessionID), data)
	pipe.Expire(ctx, m.key(sessionID), m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store message failed: %w", err)
	}
	return nil
}

// GetMessages returns the session's dialogue in order.
func (m *Memory) GetMessages(ctx context.Context, sessionID string) ([]*schema.Message, error) {
	if m.redisClient == nil {
		m.mu.RLock()
		defer m.mu.RUnlock()
		stored := m.local[sessionID]
		out := make([]*schema.Message, len(stored))
		copy(out, stored)
		return out, nil
	}

	items, err := m.redisClient.LRange(ctx, m.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load dialogue failed: %w", err)
	}

	messages := make([]*schema.Message, 0, len(items))
	for _, item := range items {
		var msg schema.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			log.Warnf("skip corrupt dialogue entry, session %s: %v", sessionID, err)
			continue
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

// Clear removes a session's dialogue.
func (m *Memory) Clear(ctx context.Context, sessionID string) error {
	if m.redisClient == nil {
		m.mu.Lock()
		delete(m.local, sessionID)
		m.mu.Unlock()
		return nil
	}
	return m.redisClient.Del(ctx, m.key(sessionID)).Err()
}
