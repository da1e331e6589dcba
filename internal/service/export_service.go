package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eutiquio/farm-portal-api/internal/models"
	appErrors "github.com/eutiquio/farm-portal-api/pkg/errors"
	"github.com/eutiquio/farm-portal-api/pkg/export"
)

// ExportFormat enumerates supported report formats.
type ExportFormat string

// Supported formats.
const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type exportLedger interface {
	List(ctx context.Context, filter models.PreEnrollmentFilter) ([]models.PreEnrollmentDetail, int, error)
}

type exportBookings interface {
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error)
}

// ExportResult is a rendered report ready for download.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders the enrollment ledger and booking list as files.
type ExportService struct {
	ledger   exportLedger
	bookings exportBookings
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(ledger exportLedger, bookings exportBookings, metrics *MetricsService, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{ledger: ledger, bookings: bookings, metrics: metrics, logger: logger}
}

// Enrollments renders the filtered ledger in the requested format.
func (s *ExportService) Enrollments(ctx context.Context, filter models.PreEnrollmentFilter, format ExportFormat) (*ExportResult, error) {
	filter.Page = 1
	filter.PageSize = 100
	var rows []map[string]string
	for {
		start := time.Now()
		page, total, err := s.ledger.List(ctx, filter)
		s.metrics.ObserveDBQuery("pre_enrollments_list", time.Since(start))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment requests")
		}
		for _, r := range page {
			feedback := ""
			if r.AdminFeedback != nil {
				feedback = *r.AdminFeedback
			}
			rows = append(rows, map[string]string{
				"Student":    r.FullName,
				"Email":      r.Email,
				"Course":     fmt.Sprintf("%s %s", r.CourseCode, r.CourseTitle),
				"Status":     string(r.Status),
				"Feedback":   feedback,
				"Submitted":  r.CreatedAt.UTC().Format(time.RFC3339),
				"Updated":    r.UpdatedAt.UTC().Format(time.RFC3339),
			})
		}
		if len(rows) >= total || len(page) == 0 {
			break
		}
		filter.Page++
	}

	dataset := export.Dataset{
		Headers: []string{"Student", "Email", "Course", "Status", "Feedback", "Submitted", "Updated"},
		Rows:    rows,
	}
	return s.render(dataset, "Enrollment Ledger", "enrollments", format)
}

// Bookings renders the filtered booking list in the requested format.
func (s *ExportService) Bookings(ctx context.Context, filter models.BookingFilter, format ExportFormat) (*ExportResult, error) {
	filter.Page = 1
	filter.PageSize = 100
	var rows []map[string]string
	for {
		start := time.Now()
		page, total, err := s.bookings.List(ctx, filter)
		s.metrics.ObserveDBQuery("bookings_list", time.Since(start))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bookings")
		}
		for _, b := range page {
			rows = append(rows, map[string]string{
				"Visitor":    b.VisitorName,
				"Email":      b.Email,
				"Visit Date": b.VisitDate.Format("2006-01-02"),
				"Time":       b.VisitTime,
				"Guests":     fmt.Sprintf("%d", b.GroupSize),
				"Purpose":    b.Purpose,
				"Status":     string(b.Status),
			})
		}
		if len(rows) >= total || len(page) == 0 {
			break
		}
		filter.Page++
	}

	dataset := export.Dataset{
		Headers: []string{"Visitor", "Email", "Visit Date", "Time", "Guests", "Purpose", "Status"},
		Rows:    rows,
	}
	return s.render(dataset, "Visit Bookings", "bookings", format)
}

func (s *ExportService) render(dataset export.Dataset, title, prefix string, format ExportFormat) (*ExportResult, error) {
	timestamp := time.Now().UTC().Format("20060102_150405")
	switch format {
	case ExportFormatCSV:
		payload, err := export.CSV(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("%s_%s.csv", prefix, timestamp),
			ContentType: "text/csv",
			Payload:     payload,
		}, nil
	case ExportFormatPDF:
		payload, err := export.PDF(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("%s_%s.pdf", prefix, timestamp),
			ContentType: "application/pdf",
			Payload:     payload,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}
