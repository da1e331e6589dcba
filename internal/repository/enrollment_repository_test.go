package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/eutiquio/farm-portal-api/internal/models"
)

func preEnrollmentRows(status models.EnrollmentStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "student_id", "course_id", "status", "full_name", "email", "phone", "date_of_birth",
		"address", "guardian_name", "guardian_phone", "document_name", "document_url", "document_type",
		"admin_feedback", "created_at", "updated_at",
	}).AddRow(
		"req-1", "stu-1", "course-1", status, "Ana Cruz", "ana@example.com", "0917", time.Date(2008, 4, 2, 0, 0, 0, 0, time.UTC),
		"Bacolod", "Maria Cruz", "0918", nil, nil, nil,
		nil, time.Now(), time.Now(),
	)
}

func TestPreEnrollmentRepositorySubmitIgnoresPendingRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreEnrollmentRepository(db, NewCourseRepository(db))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM pre_enrollments WHERE student_id = $1 AND course_id = $2 FOR UPDATE")).
		WithArgs("stu-1", "course-1").
		WillReturnRows(preEnrollmentRows(models.EnrollmentStatusPending))
	mock.ExpectRollback()

	outcome, existing, err := repo.Submit(context.Background(), &models.PreEnrollment{
		StudentID: "stu-1",
		CourseID:  "course-1",
	})
	require.NoError(t, err)
	require.Equal(t, SubmitIgnored, outcome)
	require.Equal(t, "req-1", existing.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreEnrollmentRepositorySubmitResetsRejectedRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreEnrollmentRepository(db, NewCourseRepository(db))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM pre_enrollments WHERE student_id = $1 AND course_id = $2 FOR UPDATE")).
		WithArgs("stu-1", "course-1").
		WillReturnRows(preEnrollmentRows(models.EnrollmentStatusRejected))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pre_enrollments SET status = $2, admin_feedback = NULL, updated_at = $3")).
		WithArgs("req-1", models.EnrollmentStatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, reset, err := repo.Submit(context.Background(), &models.PreEnrollment{
		StudentID: "stu-1",
		CourseID:  "course-1",
	})
	require.NoError(t, err)
	require.Equal(t, SubmitResubmitted, outcome)
	require.Equal(t, models.EnrollmentStatusPending, reset.Status)
	require.Nil(t, reset.AdminFeedback)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreEnrollmentRepositoryTransitionApprovesWithCounter(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreEnrollmentRepository(db, NewCourseRepository(db))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM pre_enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("req-1").
		WillReturnRows(preEnrollmentRows(models.EnrollmentStatusPending))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pre_enrollments SET status = $2, admin_feedback = $3, updated_at = $4")).
		WithArgs("req-1", models.EnrollmentStatusApproved, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET current_enrollment = LEAST(enrollment_limit, GREATEST(0, current_enrollment + $2))")).
		WithArgs("course-1", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.Transition(context.Background(), TransitionParams{
		ID:        "req-1",
		NewStatus: models.EnrollmentStatusApproved,
	})
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusPending, result.OldStatus)
	require.Equal(t, 1, result.CounterMove)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreEnrollmentRepositoryTransitionRejectDoesNotTouchCounter(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreEnrollmentRepository(db, NewCourseRepository(db))

	feedback := "incomplete documents"
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM pre_enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("req-1").
		WillReturnRows(preEnrollmentRows(models.EnrollmentStatusPending))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pre_enrollments SET status = $2, admin_feedback = $3, updated_at = $4")).
		WithArgs("req-1", models.EnrollmentStatusRejected, &feedback, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.Transition(context.Background(), TransitionParams{
		ID:        "req-1",
		NewStatus: models.EnrollmentStatusRejected,
		Feedback:  &feedback,
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.CounterMove)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreEnrollmentRepositoryDeleteApprovedReleasesSlot(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreEnrollmentRepository(db, NewCourseRepository(db))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM pre_enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("req-1").
		WillReturnRows(preEnrollmentRows(models.EnrollmentStatusApproved))
	mock.ExpectExec(regexp.QuoteMeta("SET current_enrollment = LEAST(enrollment_limit, GREATEST(0, current_enrollment + $2))")).
		WithArgs("course-1", -1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM pre_enrollments WHERE id = $1")).
		WithArgs("req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	removed, err := repo.Delete(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusApproved, removed.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreEnrollmentRepositoryEffectiveStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreEnrollmentRepository(db, NewCourseRepository(db))

	rows := sqlmock.NewRows([]string{"status"}).AddRow(models.EnrollmentStatusApproved)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY updated_at DESC LIMIT 1")).
		WithArgs("stu-1", "course-1").
		WillReturnRows(rows)

	status, err := repo.EffectiveStatus(context.Background(), "stu-1", "course-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusApproved, status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreEnrollmentRepositoryEffectiveStatusNoRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPreEnrollmentRepository(db, NewCourseRepository(db))

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY updated_at DESC LIMIT 1")).
		WithArgs("stu-1", "course-9").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	status, err := repo.EffectiveStatus(context.Background(), "stu-1", "course-9")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusNone, status)
	require.NoError(t, mock.ExpectationsWereMet())
}
