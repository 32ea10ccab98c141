package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// MembershipRepository answers room-membership questions for the call
// service. Rooms and wardrobes are managed elsewhere; this repo only
// reads (and seeds) the membership index other services maintain.
type MembershipRepository struct {
	client *redis.Client
}

// NewMembershipRepository creates a new MembershipRepository
func NewMembershipRepository(client *redis.Client) *MembershipRepository {
	return &MembershipRepository{client: client}
}

func roomHostKey(roomID uuid.UUID) string {
	return fmt.Sprintf("room:host:%s", roomID)
}

func roomMembersKey(roomID uuid.UUID) string {
	return fmt.Sprintf("room:members:%s", roomID)
}

// IsHost checks whether userID is the host of the room
func (r *MembershipRepository) IsHost(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	hostID, err := r.client.Get(ctx, roomHostKey(roomID)).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to get room host: %w", err)
	}
	return hostID == userID.String(), nil
}

// IsMember checks whether userID belongs to the room. The host is
// always a member.
func (r *MembershipRepository) IsMember(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	isHost, err := r.IsHost(ctx, userID, roomID)
	if err != nil {
		return false, err
	}
	if isHost {
		return true, nil
	}

	member, err := r.client.SIsMember(ctx, roomMembersKey(roomID), userID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check room membership: %w", err)
	}
	return member, nil
}

// SetHost records the room's host
func (r *MembershipRepository) SetHost(ctx context.Context, roomID, hostID uuid.UUID) error {
	if err := r.client.Set(ctx, roomHostKey(roomID), hostID.String(), 0).Err(); err != nil {
		return fmt.Errorf("failed to set room host: %w", err)
	}
	return nil
}

// AddMember adds a user to the room's membership set
func (r *MembershipRepository) AddMember(ctx context.Context, roomID, userID uuid.UUID) error {
	if err := r.client.SAdd(ctx, roomMembersKey(roomID), userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to add room member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from the room's membership set
func (r *MembershipRepository) RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error {
	if err := r.client.SRem(ctx, roomMembersKey(roomID), userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove room member: %w", err)
	}
	return nil
}
