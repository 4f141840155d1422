package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "chainrelay/pkg/domain"
)

// PresenceNotifier is told when a user comes online or goes offline.
type PresenceNotifier interface {
	PresenceChanged(ctx context.Context, userID id.UserID, online bool) error
}

// NopNotifier discards presence changes.
type NopNotifier struct{}

func (NopNotifier) PresenceChanged(context.Context, id.UserID, bool) error { return nil }

// PresenceEvent is the payload published on the presence channel.
type PresenceEvent struct {
	UserID id.UserID `json:"user_id"`
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// RedisNotifier publishes presence changes on a Redis pub/sub channel so other
// relay instances and services can follow who is reachable.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisNotifier creates a notifier publishing to channel.
func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) PresenceChanged(ctx context.Context, userID id.UserID, online bool) error {
	payload, err := json.Marshal(PresenceEvent{UserID: userID, Online: online, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal presence event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish presence event: %w", err)
	}
	return nil
}
