//go:build integration

package registry_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chainrelay/internal/relay/registry"
	id "chainrelay/pkg/domain"
	"chainrelay/pkg/testutil/containers"
)

func TestRedisNotifier_PublishesPresence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub := rc.Client.Subscribe(ctx, "chainrelay:presence:test")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	notifier := registry.NewRedisNotifier(rc.Client, "chainrelay:presence:test")
	require.NoError(t, notifier.PresenceChanged(ctx, id.UserID(12), true))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var event registry.PresenceEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
	require.Equal(t, id.UserID(12), event.UserID)
	require.True(t, event.Online)
}
