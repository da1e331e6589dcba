package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eutiquio/farm-portal-api/internal/models"
	"github.com/eutiquio/farm-portal-api/pkg/email"
	"github.com/eutiquio/farm-portal-api/pkg/jobs"
)

type notificationPoster interface {
	Post(ctx context.Context, n *models.Notification) error
}

// MailerService delivers outbound mail through a background queue. Each
// message gets exactly one delivery attempt; a failure is logged, counted,
// and reported to the admin feed, where the suppression filter decides
// whether it surfaces. Delivery never blocks or fails the request that
// triggered it.
type MailerService struct {
	queue         *jobs.Queue
	sender        email.Sender
	notifications notificationPoster
	metrics       *MetricsService
	logger        *zap.Logger
}

// NewMailerService constructs the mailer and its queue. Call Start before
// enqueueing and Stop on shutdown.
func NewMailerService(sender email.Sender, notifications notificationPoster, metrics *MetricsService, workers, bufferSize int, logger *zap.Logger) *MailerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MailerService{
		sender:        sender,
		notifications: notifications,
		metrics:       metrics,
		logger:        logger,
	}
	s.queue = jobs.NewQueue("mailer", s.deliver, jobs.QueueConfig{
		Workers:    workers,
		BufferSize: bufferSize,
		MaxRetries: 0,
		Logger:     logger,
	})
	return s
}

// Start launches the delivery workers.
func (s *MailerService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *MailerService) Stop() {
	s.queue.Stop()
}

// Enqueue schedules a message for delivery. An enqueue failure is logged
// and swallowed; callers never observe mail problems.
func (s *MailerService) Enqueue(msg email.Message) {
	err := s.queue.Enqueue(jobs.Job{Type: "email", Payload: msg})
	if err != nil {
		s.logger.Warn("mail enqueue failed",
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}
}

func (s *MailerService) deliver(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(email.Message)
	if !ok {
		s.logger.Error("mailer received unexpected payload", zap.String("type", job.Type))
		return nil
	}

	if err := s.sender.Send(ctx, msg); err != nil {
		s.metrics.RecordEmail(false)
		s.logger.Error("email delivery failed",
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.Error(err))
		if s.notifications != nil {
			report := &models.Notification{
				Recipient: models.RecipientAdmin,
				Title:     "Email Error",
				Message:   fmt.Sprintf("Failed to send email to %s: %v", msg.To, err),
				Severity:  models.SeverityError,
			}
			if postErr := s.notifications.Post(ctx, report); postErr != nil {
				s.logger.Warn("failed to report email error", zap.Error(postErr))
			}
		}
		return nil
	}
	s.metrics.RecordEmail(true)
	return nil
}
