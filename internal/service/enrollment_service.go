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

type preEnrollmentRepository interface {
	List(ctx context.Context, filter models.PreEnrollmentFilter) ([]models.PreEnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.PreEnrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.PreEnrollmentDetail, error)
	Submit(ctx context.Context, request *models.PreEnrollment) (repository.SubmitOutcome, *models.PreEnrollment, error)
	Transition(ctx context.Context, params repository.TransitionParams) (*repository.TransitionResult, error)
	Delete(ctx context.Context, id string) (*models.PreEnrollment, error)
	EffectiveStatus(ctx context.Context, studentID, courseID string) (models.EnrollmentStatus, error)
	AttachDocument(ctx context.Context, id, name, url, mimeType string) error
	AppendTransition(ctx context.Context, transition *models.EnrollmentTransition) error
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type mailEnqueuer interface {
	Enqueue(msg email.Message)
}

// SubmitEnrollmentRequest describes a student's enrollment submission.
type SubmitEnrollmentRequest struct {
	CourseID      string `json:"course_id" validate:"required"`
	FullName      string `json:"full_name" validate:"required,max=200"`
	Email         string `json:"email" validate:"required,email"`
	Phone         string `json:"phone" validate:"required,max=20"`
	DateOfBirth   string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	Address       string `json:"address" validate:"required,max=500"`
	GuardianName  string `json:"guardian_name" validate:"required,max=200"`
	GuardianPhone string `json:"guardian_phone" validate:"required,max=20"`
}

// DecideEnrollmentRequest describes the administrator decision payload.
type DecideEnrollmentRequest struct {
	Status   string  `json:"status" validate:"required,oneof=PENDING APPROVED REJECTED"`
	Feedback *string `json:"feedback" validate:"omitempty,max=1000"`
}

// SubmitResult reports what a submission did along with the resulting row.
type SubmitResult struct {
	Request *models.PreEnrollment
	Outcome repository.SubmitOutcome
}

// EnrollmentService orchestrates the pre-enrollment ledger.
type EnrollmentService struct {
	repo          preEnrollmentRepository
	courses       courseReader
	cache         *CacheService
	notifications notificationPoster
	mailer        mailEnqueuer
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo preEnrollmentRepository, courses courseReader, cache *CacheService, notifications notificationPoster, mailer mailEnqueuer, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, courses: courses, cache: cache, notifications: notifications, mailer: mailer, validator: validate, logger: logger}
}

// List returns ledger entries with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.PreEnrollmentFilter) ([]models.PreEnrollmentDetail, *models.Pagination, error) {
	requests, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollment requests")
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
	return requests, pagination, nil
}

// Get returns a ledger entry with course context.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.PreEnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment request")
	}
	return detail, nil
}

// Submit records a student's enrollment request for a course. A second
// submission against a pending or approved request returns the existing
// row unchanged; a submission against a rejected request resets it to
// pending in place.
func (s *EnrollmentService) Submit(ctx context.Context, studentID string, req SubmitEnrollmentRequest) (*SubmitResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.Status != models.CourseStatusActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course is not open for enrollment")
	}
	dob, err := time.Parse("2006-01-02", req.DateOfBirth)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date_of_birth must be YYYY-MM-DD")
	}

	request := &models.PreEnrollment{
		StudentID:     studentID,
		CourseID:      req.CourseID,
		FullName:      req.FullName,
		Email:         req.Email,
		Phone:         req.Phone,
		DateOfBirth:   dob,
		Address:       req.Address,
		GuardianName:  req.GuardianName,
		GuardianPhone: req.GuardianPhone,
	}
	outcome, stored, err := s.repo.Submit(ctx, request)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit enrollment request")
	}

	switch outcome {
	case repository.SubmitCreated:
		s.notify(ctx, models.RecipientAdmin, "New Enrollment Request",
			fmt.Sprintf("%s requested enrollment in %s.", req.FullName, course.Title), models.SeverityInfo)
	case repository.SubmitResubmitted:
		s.notify(ctx, models.RecipientAdmin, "Enrollment Request Resubmitted",
			fmt.Sprintf("%s resubmitted their enrollment request for %s.", req.FullName, course.Title), models.SeverityInfo)
	}

	if stored == nil {
		// Lost a create race; surface the surviving row.
		status, err := s.repo.EffectiveStatus(ctx, studentID, req.CourseID)
		if err != nil {
			return nil, err
		}
		request.Status = status
		stored = request
	}
	return &SubmitResult{Request: stored, Outcome: outcome}, nil
}

// validTransition reports whether an administrator decision is allowed.
// Re-approving or re-rejecting the same status is a conflict handled by
// the caller; an approved request can only move to rejected.
func validTransition(from, to models.EnrollmentStatus) bool {
	switch from {
	case models.EnrollmentStatusPending:
		return to == models.EnrollmentStatusApproved || to == models.EnrollmentStatusRejected
	case models.EnrollmentStatusApproved:
		return to == models.EnrollmentStatusRejected
	case models.EnrollmentStatusRejected:
		return to == models.EnrollmentStatusPending
	}
	return false
}

// Decide applies an administrator status decision: approval seats the
// student and occupies a slot, rejection of an approved request releases
// it. The counter movement commits atomically with the status change.
func (s *EnrollmentService) Decide(ctx context.Context, id, actorID string, req DecideEnrollmentRequest) (*models.PreEnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	newStatus := models.EnrollmentStatus(req.Status)

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment request")
	}
	if current.Status == newStatus {
		return nil, appErrors.Clone(appErrors.ErrConflict, "request already in that status")
	}
	if !validTransition(current.Status, newStatus) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("cannot move request from %s to %s", current.Status, newStatus))
	}

	result, err := s.repo.Transition(ctx, repository.TransitionParams{ID: id, NewStatus: newStatus, Feedback: req.Feedback})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment request")
	}
	if result.CounterMove != 0 {
		// Occupancy moved, so cached catalog pages are stale.
		_ = s.cache.Invalidate(ctx, courseCachePattern)
	}

	if err := s.repo.AppendTransition(ctx, &models.EnrollmentTransition{
		RequestID:  id,
		CourseID:   result.Request.CourseID,
		FromStatus: result.OldStatus,
		ToStatus:   newStatus,
		ActorID:    actorID,
		Feedback:   req.Feedback,
	}); err != nil {
		s.logger.Warn("failed to record enrollment transition", zap.String("request_id", id), zap.Error(err))
	}

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment request")
	}

	s.announceDecision(ctx, detail, newStatus, req.Feedback)
	return detail, nil
}

// announceDecision posts the student notification and queues the matching
// email. Both are fire and forget.
func (s *EnrollmentService) announceDecision(ctx context.Context, detail *models.PreEnrollmentDetail, status models.EnrollmentStatus, feedback *string) {
	var title, message string
	severity := models.SeverityInfo
	switch status {
	case models.EnrollmentStatusApproved:
		title = "Enrollment Approved"
		message = fmt.Sprintf("Your enrollment in %s has been approved.", detail.CourseTitle)
		severity = models.SeveritySuccess
	case models.EnrollmentStatusRejected:
		title = "Enrollment Rejected"
		message = fmt.Sprintf("Your enrollment request for %s was rejected.", detail.CourseTitle)
		severity = models.SeverityWarning
		if feedback != nil && *feedback != "" {
			message = fmt.Sprintf("%s Reason: %s", message, *feedback)
		}
	case models.EnrollmentStatusPending:
		title = "Enrollment Under Review"
		message = fmt.Sprintf("Your enrollment request for %s is back under review.", detail.CourseTitle)
	default:
		return
	}

	s.notify(ctx, detail.Email, title, message, severity)
	if s.mailer != nil {
		s.mailer.Enqueue(email.Message{
			To:      detail.Email,
			ToName:  detail.FullName,
			Subject: title,
			Body:    message,
		})
	}
}

// Unenroll lets a student leave an approved course, releasing the slot.
func (s *EnrollmentService) Unenroll(ctx context.Context, id, studentID string) (*models.PreEnrollmentDetail, error) {
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment request")
	}
	if current.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not your enrollment request")
	}
	if current.Status != models.EnrollmentStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only approved enrollments can be left")
	}

	feedback := "Unenrolled by student"
	result, err := s.repo.Transition(ctx, repository.TransitionParams{
		ID:        id,
		NewStatus: models.EnrollmentStatusRejected,
		Feedback:  &feedback,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unenroll")
	}
	if result.CounterMove != 0 {
		_ = s.cache.Invalidate(ctx, courseCachePattern)
	}

	if err := s.repo.AppendTransition(ctx, &models.EnrollmentTransition{
		RequestID:  id,
		CourseID:   result.Request.CourseID,
		FromStatus: result.OldStatus,
		ToStatus:   models.EnrollmentStatusRejected,
		ActorID:    studentID,
		Feedback:   &feedback,
	}); err != nil {
		s.logger.Warn("failed to record enrollment transition", zap.String("request_id", id), zap.Error(err))
	}

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment request")
	}
	s.notify(ctx, models.RecipientAdmin, "Student Unenrolled",
		fmt.Sprintf("%s left %s.", detail.FullName, detail.CourseTitle), models.SeverityInfo)
	return detail, nil
}

// Delete removes a ledger entry entirely, releasing its slot when it was
// approved. Administrator use only.
func (s *EnrollmentService) Delete(ctx context.Context, id string) error {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment request")
	}
	if deleted.Status == models.EnrollmentStatusApproved {
		_ = s.cache.Invalidate(ctx, courseCachePattern)
	}
	return nil
}

// Status derives the single current status of a (student, course) pair.
func (s *EnrollmentService) Status(ctx context.Context, studentID, courseID string) (models.EnrollmentStatus, error) {
	if studentID == "" || courseID == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "student and course are required")
	}
	status, err := s.repo.EffectiveStatus(ctx, studentID, courseID)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to derive enrollment status")
	}
	return status, nil
}

func (s *EnrollmentService) notify(ctx context.Context, recipient, title, message string, severity models.NotificationSeverity) {
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
