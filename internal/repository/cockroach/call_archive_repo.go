package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"shopcall-backend/internal/domain"
)

// CallArchiveRepository keeps durable records of shopping calls. The
// live session state lives in Redis; this table is the long-term
// history and audit trail.
type CallArchiveRepository struct {
	pool *pgxpool.Pool
}

// NewCallArchiveRepository creates a new call archive repository
func NewCallArchiveRepository(pool *pgxpool.Pool) *CallArchiveRepository {
	return &CallArchiveRepository{pool: pool}
}

// CallRecord is the archived view of a shopping call
type CallRecord struct {
	CallID    uuid.UUID  `json:"call_id"`
	RoomID    uuid.UUID  `json:"room_id"`
	HostID    uuid.UUID  `json:"host_id"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Duration  int        `json:"duration,omitempty"` // in seconds
}

// CreateCall inserts the archive record for a newly started call
func (r *CallArchiveRepository) CreateCall(ctx context.Context, session *domain.CallSession) error {
	query := `
		INSERT INTO shopping_calls (
			call_id, room_id, host_id, status, started_at
		) VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.RoomID,
		session.HostID,
		string(session.Status),
		session.StartedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create call record: %w", err)
	}

	return nil
}

// FinalizeCall marks the archived call as ended with its duration
func (r *CallArchiveRepository) FinalizeCall(ctx context.Context, callID uuid.UUID, endedAt time.Time, duration int) error {
	query := `
		UPDATE shopping_calls
		SET status = 'ended',
		    ended_at = $2,
		    duration = $3
		WHERE call_id = $1
	`

	_, err := r.pool.Exec(ctx, query, callID, endedAt, duration)
	if err != nil {
		return fmt.Errorf("failed to finalize call record: %w", err)
	}

	return nil
}

// GetByID retrieves an archived call record
func (r *CallArchiveRepository) GetByID(ctx context.Context, callID uuid.UUID) (*CallRecord, error) {
	query := `
		SELECT call_id, room_id, host_id, status, started_at, ended_at, duration
		FROM shopping_calls
		WHERE call_id = $1
	`

	record := &CallRecord{}
	err := r.pool.QueryRow(ctx, query, callID).Scan(
		&record.CallID,
		&record.RoomID,
		&record.HostID,
		&record.Status,
		&record.StartedAt,
		&record.EndedAt,
		&record.Duration,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("call record not found")
		}
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}

	return record, nil
}

// GetRoomCalls retrieves archived calls for a room, newest first
func (r *CallArchiveRepository) GetRoomCalls(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*CallRecord, error) {
	query := `
		SELECT call_id, room_id, host_id, status, started_at, ended_at, duration
		FROM shopping_calls
		WHERE room_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, roomID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get room calls: %w", err)
	}
	defer rows.Close()

	var records []*CallRecord
	for rows.Next() {
		record := &CallRecord{}
		err := rows.Scan(
			&record.CallID,
			&record.RoomID,
			&record.HostID,
			&record.Status,
			&record.StartedAt,
			&record.EndedAt,
			&record.Duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		records = append(records, record)
	}

	return records, nil
}
