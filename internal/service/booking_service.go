package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/eutiquio/farm-portal-api/internal/models"
	"github.com/eutiquio/farm-portal-api/internal/repository"
	"github.com/eutiquio/farm-portal-api/pkg/email"
	appErrors "github.com/eutiquio/farm-portal-api/pkg/errors"
)

type bookingRepository interface {
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error)
	FindByID(ctx context.Context, id string) (*models.Booking, error)
	Create(ctx context.Context, booking *models.Booking) error
	UpdateStatus(ctx context.Context, id string, status models.BookingStatus, feedback *string) error
	Delete(ctx context.Context, id string) error
}

// CreateBookingRequest describes a visit booking payload.
type CreateBookingRequest struct {
	VisitorName         string `json:"visitor_name" validate:"required,max=200"`
	Email               string `json:"email" validate:"required,email"`
	Phone               string `json:"phone" validate:"required,max=20"`
	VisitDate           string `json:"visit_date" validate:"required,datetime=2006-01-02"`
	VisitTime           string `json:"visit_time" validate:"required,max=20"`
	GroupSize           int    `json:"group_size" validate:"required,min=1,max=50"`
	Purpose             string `json:"purpose" validate:"required,max=500"`
	SpecialRequirements string `json:"special_requirements" validate:"omitempty,max=1000"`
}

// DecideBookingRequest describes the administrator decision payload.
type DecideBookingRequest struct {
	Status   string  `json:"status" validate:"required,oneof=APPROVED REJECTED"`
	Feedback *string `json:"feedback" validate:"omitempty,max=1000"`
}

// BookingService orchestrates visitor bookings.
type BookingService struct {
	repo          bookingRepository
	notifications notificationPoster
	mailer        mailEnqueuer
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewBookingService constructs BookingService.
func NewBookingService(repo bookingRepository, notifications notificationPoster, mailer mailEnqueuer, validate *validator.Validate, logger *zap.Logger) *BookingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingService{repo: repo, notifications: notifications, mailer: mailer, validator: validate, logger: logger}
}

// List returns bookings with pagination metadata.
func (s *BookingService) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, *models.Pagination, error) {
	bookings, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bookings")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return bookings, pagination, nil
}

// Get returns a single booking.
func (s *BookingService) Get(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking")
	}
	return booking, nil
}

// Create records a pending visit booking and tells the admin feed.
func (s *BookingService) Create(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}
	visitDate, err := time.Parse("2006-01-02", req.VisitDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid visit date")
	}
	if visitDate.Before(time.Now().UTC().Truncate(24 * time.Hour)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "visit date must not be in the past")
	}

	booking := &models.Booking{
		VisitorName: req.VisitorName,
		Email:       req.Email,
		Phone:       req.Phone,
		VisitDate:   visitDate,
		VisitTime:   req.VisitTime,
		GroupSize:   req.GroupSize,
		Purpose:     req.Purpose,
	}
	if req.SpecialRequirements != "" {
		booking.SpecialRequirements = &req.SpecialRequirements
	}
	if err := s.repo.Create(ctx, booking); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create booking")
	}

	s.notify(ctx, models.RecipientAdmin, "New Visit Booking",
		fmt.Sprintf("%s requested a farm visit on %s for %d guests.",
			req.VisitorName, visitDate.Format("2006-01-02"), req.GroupSize), models.SeverityInfo)
	return booking, nil
}

// Decide applies an administrator decision and informs the visitor.
func (s *BookingService) Decide(ctx context.Context, id string, req DecideBookingRequest) (*models.Booking, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	newStatus := models.BookingStatus(req.Status)

	booking, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking")
	}
	if booking.Status == newStatus {
		return nil, appErrors.Clone(appErrors.ErrConflict, "booking already in that status")
	}

	if err := s.repo.UpdateStatus(ctx, id, newStatus, req.Feedback); err != nil {
		if err == repository.ErrNoRowsUpdated {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update booking")
	}
	booking.Status = newStatus
	booking.AdminFeedback = req.Feedback

	var title, message string
	severity := models.SeveritySuccess
	if newStatus == models.BookingStatusApproved {
		title = "Visit Booking Approved"
		message = fmt.Sprintf("Your farm visit on %s at %s is confirmed.",
			booking.VisitDate.Format("2006-01-02"), booking.VisitTime)
	} else {
		title = "Visit Booking Rejected"
		message = fmt.Sprintf("Your farm visit request for %s was declined.",
			booking.VisitDate.Format("2006-01-02"))
		severity = models.SeverityWarning
		if req.Feedback != nil && *req.Feedback != "" {
			message = fmt.Sprintf("%s Reason: %s", message, *req.Feedback)
		}
	}
	s.notify(ctx, booking.Email, title, message, severity)
	if s.mailer != nil {
		s.mailer.Enqueue(email.Message{
			To:      booking.Email,
			ToName:  booking.VisitorName,
			Subject: title,
			Body:    message,
		})
	}
	return booking, nil
}

// Delete removes a booking.
func (s *BookingService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == repository.ErrNoRowsUpdated {
			return appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete booking")
	}
	return nil
}

func (s *BookingService) notify(ctx context.Context, recipient, title, message string, severity models.NotificationSeverity) {
	if s.notifications == nil {
		return
	}
	err := s.notifications.Post(ctx, &models.Notification{
		Recipient: recipient,
		Title:     title,
		Message:   message,
		Severity:  severity,
	})
	if err != nil {
		s.logger.Warn("failed to post notification", zap.String("title", title), zap.Error(err))
	}
}
