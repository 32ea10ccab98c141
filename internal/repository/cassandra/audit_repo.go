package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"shopcall-backend/internal/domain"
)

// AuditRepository stores the append-only browse-view and cart-update
// audit logs in Cassandra. Rows are partitioned by call with a daily
// bucket so a long call never grows one partition unbounded.
type AuditRepository struct {
	session *gocql.Session
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(session *gocql.Session) *AuditRepository {
	return &AuditRepository{session: session}
}

// dayBucket maps a timestamp to the partition bucket (days since epoch)
func dayBucket(t time.Time) int {
	return int(t.UTC().Unix() / 86400)
}

// SaveBrowseView appends one canonical browse-view row
func (r *AuditRepository) SaveBrowseView(ctx context.Context, callID uuid.UUID, view *domain.BrowseView) error {
	query := `
		INSERT INTO browse_views (
			call_id, bucket, view_id, product_id, viewed_by, viewed_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		callID,
		dayBucket(view.ViewedAt),
		gocql.TimeUUID(),
		view.ProductID,
		view.ViewedBy,
		view.ViewedAt,
	).WithContext(ctx).Exec()

	if err != nil {
		return fmt.Errorf("failed to save browse view: %w", err)
	}

	return nil
}

// SaveCartUpdate appends one cart-update row
func (r *AuditRepository) SaveCartUpdate(ctx context.Context, callID uuid.UUID, update *domain.CartUpdate) error {
	query := `
		INSERT INTO cart_updates (
			call_id, bucket, update_id, user_id, product_id, action, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		callID,
		dayBucket(update.Timestamp),
		gocql.TimeUUID(),
		update.UserID,
		update.ProductID,
		string(update.Action),
		update.Timestamp,
	).WithContext(ctx).Exec()

	if err != nil {
		return fmt.Errorf("failed to save cart update: %w", err)
	}

	return nil
}

// GetBrowseViews retrieves the canonical browse history of a call for
// one day bucket, newest first
func (r *AuditRepository) GetBrowseViews(ctx context.Context, callID uuid.UUID, bucket, limit int) ([]*domain.BrowseView, error) {
	query := `
		SELECT product_id, viewed_by, viewed_at
		FROM browse_views
		WHERE call_id = ? AND bucket = ?
		ORDER BY view_id DESC
		LIMIT ?
	`

	iter := r.session.Query(query, callID, bucket, limit).WithContext(ctx).Iter()
	defer iter.Close()

	var views []*domain.BrowseView
	for {
		view := &domain.BrowseView{}
		if !iter.Scan(&view.ProductID, &view.ViewedBy, &view.ViewedAt) {
			break
		}
		views = append(views, view)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to get browse views: %w", err)
	}

	return views, nil
}
