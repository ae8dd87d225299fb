package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJoinAndCursorBroadcastOrdering(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(8, nil)
	go c.Run(ctx)

	joinA := Command{Kind: CmdJoin, ProjectID: 1, UserID: "a", Reply: make(chan Response, 1)}
	require.NoError(t, c.Send(ctx, joinA))
	respA := <-joinA.Reply
	require.True(t, respA.OK)

	joinB := Command{Kind: CmdJoin, ProjectID: 1, UserID: "b", Reply: make(chan Response, 1)}
	require.NoError(t, c.Send(ctx, joinB))
	respB := <-joinB.Reply
	require.True(t, respB.OK)

	require.NoError(t, c.Send(ctx, Command{Kind: CmdCursorUpdate, ProjectID: 1, UserID: "a", Cursor: "pos1"}))
	require.NoError(t, c.Send(ctx, Command{Kind: CmdCursorUpdate, ProjectID: 1, UserID: "a", Cursor: "pos2"}))

	select {
	case ev := <-respB.Outbox:
		require.Equal(t, "pos1", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first cursor event")
	}
	select {
	case ev := <-respB.Outbox:
		require.Equal(t, "pos2", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second cursor event")
	}
}

func TestPlanSubscribersReceiveNoReplay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(8, nil)
	go c.Run(ctx)

	c.PublishNodeStatus(42, "n1", "Pending", nil)

	sub := c.SubscribePlan(42)
	c.PublishNodeStatus(42, "n1", "Processing", nil)

	select {
	case ev := <-sub:
		require.Equal(t, "Processing", ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected to receive event emitted after subscribe")
	}
	select {
	case ev := <-sub:
		t.Fatalf("unexpected replayed event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestShutdownDrainsProjectsAndStopsLoop(t *testing.T) {
	ctx := context.Background()
	c := New(8, nil)
	go c.Run(ctx)

	reply := make(chan Response, 1)
	require.NoError(t, c.Send(ctx, Command{Kind: CmdShutdown, Reply: reply}))
	resp := <-reply
	require.True(t, resp.OK)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop after shutdown")
	}
}
