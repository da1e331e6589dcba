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
	appErrors "github.com/eutiquio/farm-portal-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	ToggleStatus(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	ListAvailableFor(ctx context.Context, studentID string) ([]models.Course, error)
}

// CreateCourseRequest describes course creation payload.
type CreateCourseRequest struct {
	Code            string  `json:"code" validate:"required,max=20"`
	Title           string  `json:"title" validate:"required,max=200"`
	Description     string  `json:"description" validate:"max=2000"`
	Department      string  `json:"department" validate:"required,max=100"`
	Instructor      string  `json:"instructor" validate:"required,max=100"`
	DurationWeeks   int     `json:"duration_weeks" validate:"required,min=1"`
	Schedule        string  `json:"schedule" validate:"required,max=200"`
	Fee             float64 `json:"fee" validate:"gte=0"`
	Units           int     `json:"units" validate:"required,min=1"`
	StartDate       string  `json:"start_date" validate:"required,datetime=2006-01-02"`
	EnrollmentLimit int     `json:"enrollment_limit" validate:"required,gt=0"`
}

// UpdateCourseRequest describes course update payload.
type UpdateCourseRequest struct {
	Code            string  `json:"code" validate:"required,max=20"`
	Title           string  `json:"title" validate:"required,max=200"`
	Description     string  `json:"description" validate:"max=2000"`
	Department      string  `json:"department" validate:"required,max=100"`
	Instructor      string  `json:"instructor" validate:"required,max=100"`
	DurationWeeks   int     `json:"duration_weeks" validate:"required,min=1"`
	Schedule        string  `json:"schedule" validate:"required,max=200"`
	Fee             float64 `json:"fee" validate:"gte=0"`
	Units           int     `json:"units" validate:"required,min=1"`
	StartDate       string  `json:"start_date" validate:"required,datetime=2006-01-02"`
	EnrollmentLimit int     `json:"enrollment_limit" validate:"required,gt=0"`
}

const courseCachePattern = "courses:*"

// CourseService orchestrates catalog workflows.
type CourseService struct {
	repo      courseRepository
	cache     *CacheService
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, cache *CacheService, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &CourseService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

type courseListPayload struct {
	Courses    []models.Course   `json:"courses"`
	Pagination models.Pagination `json:"pagination"`
}

// List returns catalog entries with pagination metadata, consulting the
// cache for repeatable queries.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	key := fmt.Sprintf("courses:list:%s:%s:%s:%d:%d:%s:%s",
		filter.Status, filter.Department, filter.Search, filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder)

	var cached courseListPayload
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached.Courses, &cached.Pagination, nil
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
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

	_ = s.cache.Set(ctx, key, courseListPayload{Courses: courses, Pagination: *pagination}, s.cacheTTL)
	return courses, pagination, nil
}

// Get returns a single course.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// Create registers a new course. New courses start active with an empty
// occupancy counter.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid start date")
	}
	if startDate.Before(time.Now().UTC().Truncate(24 * time.Hour)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start date must not be in the past")
	}

	course := &models.Course{
		Code:            req.Code,
		Title:           req.Title,
		Description:     req.Description,
		Department:      req.Department,
		Instructor:      req.Instructor,
		DurationWeeks:   req.DurationWeeks,
		Schedule:        req.Schedule,
		Fee:             req.Fee,
		Units:           req.Units,
		StartDate:       startDate,
		Status:          models.CourseStatusActive,
		EnrollmentLimit: req.EnrollmentLimit,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	_ = s.cache.Invalidate(ctx, courseCachePattern)
	return course, nil
}

// Update merges editable course fields. The occupancy counter and status
// are never written here.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid start date")
	}

	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if req.EnrollmentLimit < course.CurrentEnrollment {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment limit below current enrollment")
	}

	course.Code = req.Code
	course.Title = req.Title
	course.Description = req.Description
	course.Department = req.Department
	course.Instructor = req.Instructor
	course.DurationWeeks = req.DurationWeeks
	course.Schedule = req.Schedule
	course.Fee = req.Fee
	course.Units = req.Units
	course.StartDate = startDate
	course.EnrollmentLimit = req.EnrollmentLimit

	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	_ = s.cache.Invalidate(ctx, courseCachePattern)
	return course, nil
}

// ToggleStatus flips a course between active and inactive. Toggling off
// does not touch existing enrollments; it only hides the course from the
// available list.
func (s *CourseService) ToggleStatus(ctx context.Context, id string) (*models.Course, error) {
	if err := s.repo.ToggleStatus(ctx, id); err != nil {
		if err == repository.ErrNoRowsUpdated {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to toggle course status")
	}
	_ = s.cache.Invalidate(ctx, courseCachePattern)
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// Delete removes a course and its ledger rows.
func (s *CourseService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == repository.ErrNoRowsUpdated {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	_ = s.cache.Invalidate(ctx, courseCachePattern)
	return nil
}

// ListAvailableFor returns active courses without an approved enrollment
// for the student.
func (s *CourseService) ListAvailableFor(ctx context.Context, studentID string) ([]models.Course, error) {
	courses, err := s.repo.ListAvailableFor(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list available courses")
	}
	return courses, nil
}
