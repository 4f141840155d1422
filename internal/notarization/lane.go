package notarization

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lane serializes ledger submissions for one signing identity so nonces are
// assigned in order.
type Lane interface {
	// Acquire blocks until the lane is free or ctx ends. The returned release
	// func is safe to call more than once.
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalLane serializes submissions within one process.
type LocalLane struct {
	sem chan struct{}
}

// NewLocalLane creates an in-process lane.
func NewLocalLane() *LocalLane {
	return &LocalLane{sem: make(chan struct{}, 1)}
}

func (l *LocalLane) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-l.sem }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var releaseLaneScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLane serializes submissions across relay instances sharing a signing
// key. The lock expires after ttl so a crashed holder cannot wedge the lane.
type RedisLane struct {
	client    redis.UniversalClient
	key       string
	ttl       time.Duration
	pollEvery time.Duration
}

// NewRedisLane creates a lane keyed by the signing identity.
func NewRedisLane(client redis.UniversalClient, signer string, ttl time.Duration) *RedisLane {
	return &RedisLane{
		client:    client,
		key:       "chainrelay:lane:" + signer,
		ttl:       ttl,
		pollEvery: 50 * time.Millisecond,
	}
}

func (l *RedisLane) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquire lane %s: %w", l.key, err)
		}
		if ok {
			var once sync.Once
			return func() { once.Do(func() { l.release(token) }) }, nil
		}
		select {
		case <-time.After(l.pollEvery):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *RedisLane) release(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// A failed release is bounded by the ttl.
	_ = releaseLaneScript.Run(ctx, l.client, []string{l.key}, token).Err()
}
