package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, bufSize int) (*Hub, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(bufSize, nil)
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func receive(t *testing.T, sub *Subscription) Insert {
	t.Helper()
	select {
	case ins, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ins
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for insert")
		return Insert{}
	}
}

func TestHubDeliversToTableSubscribers(t *testing.T) {
	hub, _ := startHub(t, 8)
	ctx := context.Background()

	msgs, err := hub.Subscribe(ctx, TableMessages)
	require.NoError(t, err)
	other, err := hub.Subscribe(ctx, "appointments")
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, TableMessages, map[string]string{"id": "m1"}))

	ins := receive(t, msgs)
	assert.Equal(t, TableMessages, ins.Table)
	var row map[string]string
	require.NoError(t, json.Unmarshal(ins.Row, &row))
	assert.Equal(t, "m1", row["id"])

	select {
	case ins := <-other.Events():
		t.Fatalf("unexpected insert on other table: %+v", ins)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubPreservesPublishOrder(t *testing.T) {
	hub, _ := startHub(t, 16)
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, TableMessages)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Publish(ctx, TableMessages, map[string]int{"n": i}))
	}
	for i := 0; i < 5; i++ {
		var row map[string]int
		require.NoError(t, json.Unmarshal(receive(t, sub).Row, &row))
		assert.Equal(t, i, row["n"])
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub, _ := startHub(t, 8)
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, TableMessages)
	require.NoError(t, err)

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub, _ := startHub(t, 1)
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, TableMessages)
	require.NoError(t, err)

	// The fourth publish only returns once the loop has handled the second,
	// which overflows the one-slot subscriber buffer.
	for _, v := range []string{"a", "b", "c", "d"} {
		require.NoError(t, hub.Publish(ctx, TableMessages, v))
	}

	first := receive(t, sub)
	assert.JSONEq(t, `"a"`, string(first.Row))

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("slow subscriber not dropped")
	}
}

func TestHubStopClosesSubscriptions(t *testing.T) {
	hub, cancel := startHub(t, 8)
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, TableMessages)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	_, err = hub.Subscribe(ctx, TableMessages)
	assert.ErrorIs(t, err, ErrFeedClosed)
	assert.ErrorIs(t, hub.Publish(ctx, TableMessages, "x"), ErrFeedClosed)
}
