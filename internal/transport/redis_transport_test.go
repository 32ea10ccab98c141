package transport

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopcall-backend/internal/domain"
)

func setupTransport(t *testing.T) *RedisTransport {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisTransport(client)
}

// TestPublishSubscribe tests the event roundtrip over Redis pub/sub
func TestPublishSubscribe(t *testing.T) {
	transport := setupTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	callID := uuid.New()
	events, err := transport.Subscribe(ctx, callID)
	require.NoError(t, err)

	sent := &domain.Event{
		Type:        domain.EventControlRequest,
		CallID:      callID,
		RequesterID: uuid.New(),
		Version:     3,
		Timestamp:   time.Now().UTC(),
	}
	require.NoError(t, transport.Publish(ctx, callID, sent))

	select {
	case got := <-events:
		assert.Equal(t, domain.EventControlRequest, got.Type)
		assert.Equal(t, callID, got.CallID)
		assert.Equal(t, sent.RequesterID, got.RequesterID)
		assert.Equal(t, int64(3), got.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

// TestSubscribe_CallIsolation tests that events do not leak across calls
func TestSubscribe_CallIsolation(t *testing.T) {
	transport := setupTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	callA := uuid.New()
	callB := uuid.New()

	eventsA, err := transport.Subscribe(ctx, callA)
	require.NoError(t, err)

	require.NoError(t, transport.Publish(ctx, callB, &domain.Event{
		Type:   domain.EventBrowseUpdate,
		CallID: callB,
	}))
	require.NoError(t, transport.Publish(ctx, callA, &domain.Event{
		Type:   domain.EventBrowseUpdate,
		CallID: callA,
	}))

	select {
	case got := <-eventsA:
		assert.Equal(t, callA, got.CallID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case got := <-eventsA:
		t.Fatalf("unexpected cross-call event: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestSubscribe_CancelClosesStream tests stream shutdown on cancel
func TestSubscribe_CancelClosesStream(t *testing.T) {
	transport := setupTransport(t)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := transport.Subscribe(ctx, uuid.New())
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream close")
	}
}
