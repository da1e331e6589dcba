package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/eutiquio/farm-portal-api/internal/models"
	"github.com/eutiquio/farm-portal-api/internal/repository"
	appErrors "github.com/eutiquio/farm-portal-api/pkg/errors"
)

type notificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListFor(ctx context.Context, recipient string) ([]models.Notification, error)
	UnreadCountFor(ctx context.Context, recipient string) (int, error)
	MarkRead(ctx context.Context, id, recipient string) error
	MarkAllRead(ctx context.Context, recipient string) error
	Purge(ctx context.Context, recipient string, severity models.NotificationSeverity) (int64, error)
}

// NotificationService is the single sink for in-app notifications.
type NotificationService struct {
	repo   notificationRepository
	logger *zap.Logger
}

// NewNotificationService constructs NotificationService.
func NewNotificationService(repo notificationRepository, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, logger: logger}
}

// suppressed reports whether a notification describes an email delivery
// failure. Those are dropped before persistence so a flaky relay cannot
// flood the admin inbox with operational noise.
func suppressed(n *models.Notification) bool {
	if n.Severity != models.SeverityError {
		return false
	}
	if n.Title == "Email Error" {
		return true
	}
	return strings.Contains(n.Message, "Failed to send email")
}

// Post persists a notification unless the suppression filter drops it.
// A dropped notification is not an error; callers fire and forget.
func (s *NotificationService) Post(ctx context.Context, n *models.Notification) error {
	if suppressed(n) {
		s.logger.Debug("notification suppressed",
			zap.String("recipient", n.Recipient),
			zap.String("title", n.Title))
		return nil
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store notification")
	}
	return nil
}

// ListFor returns the recipient's notifications, newest first.
func (s *NotificationService) ListFor(ctx context.Context, recipient string) ([]models.Notification, error) {
	notifications, err := s.repo.ListFor(ctx, recipient)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return notifications, nil
}

// UnreadCountFor returns the recipient's unread notification count.
func (s *NotificationService) UnreadCountFor(ctx context.Context, recipient string) (int, error) {
	count, err := s.repo.UnreadCountFor(ctx, recipient)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

// MarkRead flags one of the recipient's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, id, recipient string) error {
	if err := s.repo.MarkRead(ctx, id, recipient); err != nil {
		if err == repository.ErrNoRowsUpdated {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

// MarkAllRead flags all of the recipient's notifications as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipient string) error {
	if err := s.repo.MarkAllRead(ctx, recipient); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return nil
}

// Purge removes the recipient's notifications of the given severity, or all
// of them when severity is empty. It returns how many were removed.
func (s *NotificationService) Purge(ctx context.Context, recipient string, severity models.NotificationSeverity) (int64, error) {
	switch severity {
	case "", models.SeverityInfo, models.SeveritySuccess, models.SeverityWarning, models.SeverityError:
	default:
		return 0, appErrors.Clone(appErrors.ErrValidation, "unknown notification severity")
	}
	removed, err := s.repo.Purge(ctx, recipient, severity)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge notifications")
	}
	return removed, nil
}
