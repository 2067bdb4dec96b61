package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/collection-cli/internal/model"
)

func TestRedisPublisher_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, DefaultChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	ev := StatusEvent{
		FlowID: "f1",
		From:   model.FlowStatusPending,
		Status: model.FlowStatusGenerating,
		At:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, NewRedisPublisher(rdb, "").Publish(ctx, ev))

	select {
	case msg := <-sub.Channel():
		var got StatusEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, ev, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestRedisPublisher_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	err := NewRedisPublisher(rdb, "ch").Publish(context.Background(), StatusEvent{FlowID: "f1"})
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	require.NoError(t, rec.Publish(context.Background(), StatusEvent{FlowID: "f1", Status: model.FlowStatusReady}))
	require.NoError(t, rec.Publish(context.Background(), StatusEvent{FlowID: "f2"}))

	assert.Len(t, rec.Events(""), 2)
	got := rec.Events("f1")
	require.Len(t, got, 1)
	assert.Equal(t, model.FlowStatusReady, got[0].Status)
}
