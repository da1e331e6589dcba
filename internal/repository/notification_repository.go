package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/eutiquio/farm-portal-api/internal/models"
)

// NotificationRepository handles persistence of in-app notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `id, recipient, title, message, severity, read, created_at`

// Create persists a notification.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, recipient, title, message, severity, read, created_at)
        VALUES (:id, :recipient, :title, :message, :severity, :read, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListFor returns the recipient's notifications, newest first.
func (r *NotificationRepository) ListFor(ctx context.Context, recipient string) ([]models.Notification, error) {
	query := fmt.Sprintf("SELECT %s FROM notifications WHERE recipient = $1 ORDER BY created_at DESC", notificationColumns)
	var notifications []models.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, recipient); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

// UnreadCountFor returns how many of the recipient's notifications are unread.
func (r *NotificationRepository) UnreadCountFor(ctx context.Context, recipient string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM notifications WHERE recipient = $1 AND read = FALSE`, recipient)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead flags a single notification as read. Marking an already-read
// notification is a no-op, not an error.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipient string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND recipient = $2`, id, recipient)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

// MarkAllRead flags every notification of the recipient as read.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipient string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE recipient = $1 AND read = FALSE`, recipient)
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

// Purge removes the recipient's notifications of the given severity.
// An empty severity removes all of them.
func (r *NotificationRepository) Purge(ctx context.Context, recipient string, severity models.NotificationSeverity) (int64, error) {
	var res sql.Result
	var err error
	if severity == "" {
		res, err = r.db.ExecContext(ctx,
			`DELETE FROM notifications WHERE recipient = $1`, recipient)
	} else {
		res, err = r.db.ExecContext(ctx,
			`DELETE FROM notifications WHERE recipient = $1 AND severity = $2`, recipient, severity)
	}
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	return n, nil
}
