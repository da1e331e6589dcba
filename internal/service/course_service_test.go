package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eutiquio/farm-portal-api/internal/models"
	"github.com/eutiquio/farm-portal-api/internal/repository"
)

type fakeCourseRepo struct {
	courses map[string]*models.Course
	deleted []string
}

func (f *fakeCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var out []models.Course
	for _, c := range f.courses {
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (f *fakeCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := f.courses[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCourseRepo) Create(ctx context.Context, course *models.Course) error {
	if f.courses == nil {
		f.courses = make(map[string]*models.Course)
	}
	if course.ID == "" {
		course.ID = "course-new"
	}
	course.CurrentEnrollment = 0
	stored := *course
	f.courses[course.ID] = &stored
	return nil
}

func (f *fakeCourseRepo) Update(ctx context.Context, course *models.Course) error {
	stored, ok := f.courses[course.ID]
	if !ok {
		return repository.ErrNoRowsUpdated
	}
	counter := stored.CurrentEnrollment
	*stored = *course
	stored.CurrentEnrollment = counter
	return nil
}

func (f *fakeCourseRepo) ToggleStatus(ctx context.Context, id string) error {
	c, ok := f.courses[id]
	if !ok {
		return repository.ErrNoRowsUpdated
	}
	if c.Status == models.CourseStatusActive {
		c.Status = models.CourseStatusInactive
	} else {
		c.Status = models.CourseStatusActive
	}
	return nil
}

func (f *fakeCourseRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.courses[id]; !ok {
		return repository.ErrNoRowsUpdated
	}
	delete(f.courses, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeCourseRepo) ListAvailableFor(ctx context.Context, studentID string) ([]models.Course, error) {
	var out []models.Course
	for _, c := range f.courses {
		if c.Status == models.CourseStatusActive {
			out = append(out, *c)
		}
	}
	return out, nil
}

func validCourseRequest() CreateCourseRequest {
	return CreateCourseRequest{
		Code:            "AGRI101",
		Title:           "Intro to Crop Science",
		Department:      "Agriculture",
		Instructor:      "J. Reyes",
		DurationWeeks:   12,
		Schedule:        "Mon 09:00",
		Fee:             1500,
		Units:           3,
		StartDate:       time.Now().UTC().AddDate(0, 1, 0).Format("2006-01-02"),
		EnrollmentLimit: 30,
	}
}

func newCourseFixture() (*CourseService, *fakeCourseRepo) {
	repo := &fakeCourseRepo{courses: make(map[string]*models.Course)}
	svc := NewCourseService(repo, nil, 0, validator.New(), zap.NewNop())
	return svc, repo
}

func TestCourseServiceCreateStartsActiveAndEmpty(t *testing.T) {
	svc, repo := newCourseFixture()

	course, err := svc.Create(context.Background(), validCourseRequest())
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusActive, course.Status)
	assert.Equal(t, 0, course.CurrentEnrollment)
	assert.Len(t, repo.courses, 1)
}

func TestCourseServiceCreateRejectsZeroLimit(t *testing.T) {
	svc, _ := newCourseFixture()

	req := validCourseRequest()
	req.EnrollmentLimit = 0
	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
}

func TestCourseServiceCreateRejectsPastStartDate(t *testing.T) {
	svc, _ := newCourseFixture()

	req := validCourseRequest()
	req.StartDate = "2020-01-15"
	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
}

func TestCourseServiceUpdateKeepsCounter(t *testing.T) {
	svc, repo := newCourseFixture()
	repo.courses["course-1"] = &models.Course{
		ID: "course-1", Code: "AGRI101", Status: models.CourseStatusActive,
		EnrollmentLimit: 30, CurrentEnrollment: 12,
	}

	req := UpdateCourseRequest(validCourseRequest())
	req.Title = "Advanced Crop Science"
	course, err := svc.Update(context.Background(), "course-1", req)
	require.NoError(t, err)
	assert.Equal(t, "Advanced Crop Science", course.Title)
	assert.Equal(t, 12, repo.courses["course-1"].CurrentEnrollment)
}

func TestCourseServiceUpdateRejectsLimitBelowOccupancy(t *testing.T) {
	svc, repo := newCourseFixture()
	repo.courses["course-1"] = &models.Course{
		ID: "course-1", Status: models.CourseStatusActive,
		EnrollmentLimit: 30, CurrentEnrollment: 12,
	}

	req := UpdateCourseRequest(validCourseRequest())
	req.EnrollmentLimit = 10
	_, err := svc.Update(context.Background(), "course-1", req)
	require.Error(t, err)
}

func TestCourseServiceToggleStatus(t *testing.T) {
	svc, repo := newCourseFixture()
	repo.courses["course-1"] = &models.Course{ID: "course-1", Status: models.CourseStatusActive}

	course, err := svc.ToggleStatus(context.Background(), "course-1")
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusInactive, course.Status)

	course, err = svc.ToggleStatus(context.Background(), "course-1")
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusActive, course.Status)
}

func TestCourseServiceToggleStatusNotFound(t *testing.T) {
	svc, _ := newCourseFixture()
	_, err := svc.ToggleStatus(context.Background(), "missing")
	require.Error(t, err)
}
