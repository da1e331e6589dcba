package service

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eutiquio/farm-portal-api/internal/models"
)

type staticExportLedger struct {
	rows []models.PreEnrollmentDetail
}

func (s *staticExportLedger) List(ctx context.Context, filter models.PreEnrollmentFilter) ([]models.PreEnrollmentDetail, int, error) {
	return s.rows, len(s.rows), nil
}

type staticExportBookings struct {
	rows []models.Booking
}

func (s *staticExportBookings) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error) {
	return s.rows, len(s.rows), nil
}

func exportLedgerRow() models.PreEnrollmentDetail {
	return models.PreEnrollmentDetail{
		PreEnrollment: models.PreEnrollment{
			ID:          "req-1",
			StudentID:   "stu-1",
			CourseID:    "course-1",
			Status:      models.EnrollmentStatusApproved,
			FullName:    "Ana Cruz",
			Email:       "ana@example.com",
			DateOfBirth: time.Date(2008, 4, 2, 0, 0, 0, 0, time.UTC),
			CreatedAt:   time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
			UpdatedAt:   time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC),
		},
		CourseCode:  "CROP101",
		CourseTitle: "Intro to Crop Science",
	}
}

func TestExportServiceEnrollmentsCSV(t *testing.T) {
	svc := NewExportService(&staticExportLedger{rows: []models.PreEnrollmentDetail{exportLedgerRow()}}, &staticExportBookings{}, nil, nil)

	result, err := svc.Enrollments(context.Background(), models.PreEnrollmentFilter{}, ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Contains(t, string(result.Payload), "Ana Cruz")
	assert.Contains(t, string(result.Payload), "CROP101 Intro to Crop Science")
}

func TestExportServiceRejectsUnknownFormat(t *testing.T) {
	svc := NewExportService(&staticExportLedger{}, &staticExportBookings{}, nil, nil)

	_, err := svc.Enrollments(context.Background(), models.PreEnrollmentFilter{}, ExportFormat("xlsx"))
	require.Error(t, err)
}

func TestExportServiceRecordsQueryTiming(t *testing.T) {
	metrics := NewMetricsService()
	svc := NewExportService(
		&staticExportLedger{rows: []models.PreEnrollmentDetail{exportLedgerRow()}},
		&staticExportBookings{rows: []models.Booking{{
			VisitorName: "Jose Reyes",
			Email:       "jose@example.com",
			VisitDate:   time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC),
			VisitTime:   "09:00",
			GroupSize:   4,
			Purpose:     "farm tour",
			Status:      models.BookingStatusPending,
		}}},
		metrics, nil)

	_, err := svc.Enrollments(context.Background(), models.PreEnrollmentFilter{}, ExportFormatCSV)
	require.NoError(t, err)
	_, err = svc.Bookings(context.Background(), models.BookingFilter{}, ExportFormatCSV)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `db_query_duration_seconds_count{query="pre_enrollments_list"} 1`)
	assert.Contains(t, body, `db_query_duration_seconds_count{query="bookings_list"} 1`)
}
