package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes notifications on per-owner pub/sub channels so
// downstream delivery services (email, chat, push) can fan them out.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier creates a channel backed by Redis pub/sub.
func NewRedisNotifier(addr, password string, db int) *RedisNotifier {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisNotifier{client: rdb}
}

// Channel returns the pub/sub channel name for an owner.
func Channel(ownerID string) string {
	return fmt.Sprintf("pulse:notify:%s", ownerID)
}

// Notify implements Notifier.
func (n *RedisNotifier) Notify(ctx context.Context, ownerID string, kind Kind, payload map[string]any) error {
	msg, err := json.Marshal(map[string]any{
		"owner":   ownerID,
		"kind":    string(kind),
		"payload": payload,
		"sent_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.client.Publish(ctx, Channel(ownerID), msg).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (n *RedisNotifier) Close() error { return n.client.Close() }
