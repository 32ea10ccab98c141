package redis

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"shopcall-backend/internal/domain"
	"shopcall-backend/pkg/constants"
	"shopcall-backend/pkg/errors"
)

// ErrNoChange is returned by a mutation func to signal that the session
// is already in the desired state. The store skips the write and no
// version bump or broadcast happens, which keeps repeated sweeps and
// transfers idempotent.
var ErrNoChange = goerrors.New("session store: no change")

const (
	activeSessionsKey = "call:sessions:active"

	// Ended sessions stay readable for late audit queries before Redis
	// reclaims them; the durable copy lives in the call archive.
	endedSessionTTL = constants.EndedSessionRetention

	defaultMaxRetries = 5
	retryBackoff      = 10 * time.Millisecond
)

// SessionStore keeps call sessions in Redis as versioned JSON blobs.
// Every mutation is a compare-and-swap on the session key (WATCH/MULTI),
// so the serialization point holds across process instances.
type SessionStore struct {
	client     *redis.Client
	maxRetries int
}

// NewSessionStore creates a new SessionStore
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{
		client:     client,
		maxRetries: defaultMaxRetries,
	}
}

func sessionKey(callID uuid.UUID) string {
	return fmt.Sprintf("call:session:%s", callID)
}

// Create stores a new session and indexes it as active
func (r *SessionStore) Create(ctx context.Context, session *domain.CallSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := sessionKey(session.ID)
	ok, err := r.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s already exists", session.ID)
	}

	if err := r.client.SAdd(ctx, activeSessionsKey, session.ID.String()).Err(); err != nil {
		return fmt.Errorf("failed to index active session: %w", err)
	}
	return nil
}

// Get retrieves a session by call ID
func (r *SessionStore) Get(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	data, err := r.client.Get(ctx, sessionKey(callID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.SessionNotFoundError()
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session domain.CallSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Mutate loads the session, applies fn, and writes the result back with
// an optimistic compare-and-swap keyed on the session blob. A concurrent
// write aborts the transaction and the whole load-apply-write cycle
// retries with backoff; the retry budget exhausting surfaces as
// STALE_VERSION. fn returning an error aborts with no state change;
// fn returning ErrNoChange skips the write entirely.
func (r *SessionStore) Mutate(ctx context.Context, callID uuid.UUID, fn func(*domain.CallSession) error) (*domain.CallSession, error) {
	key := sessionKey(callID)

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		var result *domain.CallSession

		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Result()
			if err != nil {
				if err == redis.Nil {
					return errors.SessionNotFoundError()
				}
				return fmt.Errorf("failed to load session: %w", err)
			}

			session := &domain.CallSession{}
			if err := json.Unmarshal([]byte(data), session); err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}

			if err := fn(session); err != nil {
				if goerrors.Is(err, ErrNoChange) {
					result = session
					return nil
				}
				return err
			}

			session.Version++
			payload, err := json.Marshal(session)
			if err != nil {
				return fmt.Errorf("failed to marshal session: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if session.Status == domain.SessionEnded {
					pipe.Set(ctx, key, payload, endedSessionTTL)
					pipe.SRem(ctx, activeSessionsKey, session.ID.String())
				} else {
					pipe.Set(ctx, key, payload, 0)
				}
				return nil
			})
			if err == nil {
				result = session
			}
			return err
		}, key)

		if err == nil {
			return result, nil
		}
		if err == redis.TxFailedErr {
			time.Sleep(retryBackoff * time.Duration(attempt+1))
			continue
		}
		return nil, err
	}

	return nil, errors.StaleVersionError(redis.TxFailedErr)
}

// ActiveSessionIDs lists all sessions indexed as active, for the sweeper
func (r *SessionStore) ActiveSessionIDs(ctx context.Context) ([]uuid.UUID, error) {
	idStrs, err := r.client.SMembers(ctx, activeSessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(idStrs))
	for _, idStr := range idStrs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue // Skip invalid entries
		}
		ids = append(ids, id)
	}
	return ids, nil
}
