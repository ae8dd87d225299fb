package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisBridgeRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bridge := NewRedisBridge(client, "", nil)

	events, err := bridge.SubscribePlan(ctx, 7)
	require.NoError(t, err)

	bridge.PublishNodeStatus(ctx, 7, "n1", "Processing", nil)

	select {
	case ev := <-events:
		require.Equal(t, int64(7), ev.PlanID)
		require.Equal(t, "n1", ev.NodeID)
		require.Equal(t, "Processing", ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bridged event")
	}

	cancel()
	select {
	case _, open := <-events:
		require.False(t, open, "channel should close after context cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after cancellation")
	}
}
