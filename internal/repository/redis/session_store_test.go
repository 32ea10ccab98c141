package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopcall-backend/internal/domain"
	"shopcall-backend/pkg/errors"
)

func setupStore(t *testing.T) (*SessionStore, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewSessionStore(client), mr, client
}

func newSession(t *testing.T) *domain.CallSession {
	t.Helper()
	return domain.NewCallSession(uuid.New(), uuid.New(), time.Now())
}

// TestCreateAndGet tests the store roundtrip
func TestCreateAndGet(t *testing.T) {
	store, _, _ := setupStore(t)
	ctx := context.Background()
	session := newSession(t)

	require.NoError(t, store.Create(ctx, session))

	loaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, loaded.ID)
	assert.Equal(t, session.HostID, loaded.HostID)
	assert.Equal(t, int64(1), loaded.Version)

	ids, err := store.ActiveSessionIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, session.ID)
}

// TestCreate_Duplicate tests that a session ID cannot be reused
func TestCreate_Duplicate(t *testing.T) {
	store, _, _ := setupStore(t)
	ctx := context.Background()
	session := newSession(t)

	require.NoError(t, store.Create(ctx, session))
	assert.Error(t, store.Create(ctx, session))
}

// TestGet_NotFound tests loading an unknown session
func TestGet_NotFound(t *testing.T) {
	store, _, _ := setupStore(t)

	_, err := store.Get(context.Background(), uuid.New())
	assert.True(t, errors.HasCode(err, errors.ErrCodeSessionNotFound))
}

// TestMutate tests a committed mutation and its version bump
func TestMutate(t *testing.T) {
	store, _, _ := setupStore(t)
	ctx := context.Background()
	session := newSession(t)
	require.NoError(t, store.Create(ctx, session))

	userID := uuid.New()
	updated, err := store.Mutate(ctx, session.ID, func(s *domain.CallSession) error {
		return s.Join(userID, time.Now())
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	loaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version)
	assert.NotNil(t, loaded.Participant(userID))
}

// TestMutate_FnError tests that a rejected mutation writes nothing
func TestMutate_FnError(t *testing.T) {
	store, _, _ := setupStore(t)
	ctx := context.Background()
	session := newSession(t)
	require.NoError(t, store.Create(ctx, session))

	_, err := store.Mutate(ctx, session.ID, func(s *domain.CallSession) error {
		return errors.AlreadyControllerError()
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeAlreadyController))

	loaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
}

// TestMutate_NoChange tests that ErrNoChange skips the write entirely
func TestMutate_NoChange(t *testing.T) {
	store, _, _ := setupStore(t)
	ctx := context.Background()
	session := newSession(t)
	require.NoError(t, store.Create(ctx, session))

	result, err := store.Mutate(ctx, session.ID, func(s *domain.CallSession) error {
		return ErrNoChange
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Version)

	loaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
}

// TestMutate_NotFound tests mutating an unknown session
func TestMutate_NotFound(t *testing.T) {
	store, _, _ := setupStore(t)

	_, err := store.Mutate(context.Background(), uuid.New(), func(s *domain.CallSession) error {
		return nil
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeSessionNotFound))
}

// TestMutate_EndedSession tests that ending a session sets a TTL and
// drops it from the active index
func TestMutate_EndedSession(t *testing.T) {
	store, mr, _ := setupStore(t)
	ctx := context.Background()
	session := newSession(t)
	require.NoError(t, store.Create(ctx, session))

	_, err := store.Mutate(ctx, session.ID, func(s *domain.CallSession) error {
		s.End(time.Now())
		return nil
	})
	require.NoError(t, err)

	assert.Greater(t, mr.TTL(sessionKey(session.ID)), time.Duration(0))

	ids, err := store.ActiveSessionIDs(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, session.ID)

	// The blob stays readable until the TTL fires
	loaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionEnded, loaded.Status)
}

// TestMutate_ConcurrentWriteRetries tests the CAS loop: a conflicting
// write between load and commit aborts the transaction and the mutation
// reruns against the fresh state
func TestMutate_ConcurrentWriteRetries(t *testing.T) {
	store, _, client := setupStore(t)
	ctx := context.Background()
	session := newSession(t)
	require.NoError(t, store.Create(ctx, session))

	firstUser := uuid.New()
	secondUser := uuid.New()
	attempts := 0

	updated, err := store.Mutate(ctx, session.ID, func(s *domain.CallSession) error {
		attempts++
		if attempts == 1 {
			// Simulate another instance committing first
			other, err := store.Get(ctx, session.ID)
			require.NoError(t, err)
			require.NoError(t, other.Join(firstUser, time.Now()))
			other.Version++
			payload, err := json.Marshal(other)
			require.NoError(t, err)
			require.NoError(t, client.Set(ctx, sessionKey(session.ID), payload, 0).Err())
		}
		return s.Join(secondUser, time.Now())
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	// Both writes survived: the conflicting join and the retried one
	assert.NotNil(t, updated.Participant(firstUser))
	assert.NotNil(t, updated.Participant(secondUser))
	assert.Equal(t, int64(3), updated.Version)
}
