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

type fakeBookingRepo struct {
	bookings map[string]*models.Booking
}

func (f *fakeBookingRepo) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error) {
	var out []models.Booking
	for _, b := range f.bookings {
		if filter.Email != "" && b.Email != filter.Email {
			continue
		}
		out = append(out, *b)
	}
	return out, len(out), nil
}

func (f *fakeBookingRepo) FindByID(ctx context.Context, id string) (*models.Booking, error) {
	if b, ok := f.bookings[id]; ok {
		copied := *b
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeBookingRepo) Create(ctx context.Context, booking *models.Booking) error {
	if f.bookings == nil {
		f.bookings = make(map[string]*models.Booking)
	}
	if booking.ID == "" {
		booking.ID = "booking-new"
	}
	booking.Status = models.BookingStatusPending
	stored := *booking
	f.bookings[booking.ID] = &stored
	return nil
}

func (f *fakeBookingRepo) UpdateStatus(ctx context.Context, id string, status models.BookingStatus, feedback *string) error {
	b, ok := f.bookings[id]
	if !ok {
		return repository.ErrNoRowsUpdated
	}
	b.Status = status
	b.AdminFeedback = feedback
	return nil
}

func (f *fakeBookingRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.bookings[id]; !ok {
		return repository.ErrNoRowsUpdated
	}
	delete(f.bookings, id)
	return nil
}

func validBookingRequest() CreateBookingRequest {
	return CreateBookingRequest{
		VisitorName: "Paolo Santos",
		Email:       "paolo@example.com",
		Phone:       "0917",
		VisitDate:   time.Now().UTC().AddDate(0, 0, 7).Format("2006-01-02"),
		VisitTime:   "09:30",
		GroupSize:   8,
		Purpose:     "School field trip",
	}
}

func newBookingFixture() (*BookingService, *fakeBookingRepo, *capturedNotifications, *capturedMail) {
	repo := &fakeBookingRepo{bookings: make(map[string]*models.Booking)}
	notifications := &capturedNotifications{}
	mail := &capturedMail{}
	svc := NewBookingService(repo, notifications, mail, validator.New(), zap.NewNop())
	return svc, repo, notifications, mail
}

func TestBookingServiceCreateStartsPending(t *testing.T) {
	svc, repo, notifications, _ := newBookingFixture()

	booking, err := svc.Create(context.Background(), validBookingRequest())
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPending, booking.Status)
	assert.Len(t, repo.bookings, 1)

	require.Len(t, notifications.posted, 1)
	assert.Equal(t, models.RecipientAdmin, notifications.posted[0].Recipient)
	assert.Equal(t, "New Visit Booking", notifications.posted[0].Title)
}

func TestBookingServiceCreateRejectsOversizedGroup(t *testing.T) {
	svc, _, _, _ := newBookingFixture()

	req := validBookingRequest()
	req.GroupSize = 51
	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
}

func TestBookingServiceCreateRejectsPastDate(t *testing.T) {
	svc, _, _, _ := newBookingFixture()

	req := validBookingRequest()
	req.VisitDate = "2020-06-01"
	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
}

func TestBookingServiceDecideApprovesAndAnnounces(t *testing.T) {
	svc, _, notifications, mail := newBookingFixture()

	booking, err := svc.Create(context.Background(), validBookingRequest())
	require.NoError(t, err)

	decided, err := svc.Decide(context.Background(), booking.ID, DecideBookingRequest{Status: "APPROVED"})
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusApproved, decided.Status)

	require.Len(t, mail.sent, 1)
	assert.Equal(t, "paolo@example.com", mail.sent[0].To)
	assert.Equal(t, "Visit Booking Approved", mail.sent[0].Subject)

	var visitorNote *models.Notification
	for i, n := range notifications.posted {
		if n.Recipient == "paolo@example.com" {
			visitorNote = &notifications.posted[i]
		}
	}
	require.NotNil(t, visitorNote)
	assert.Equal(t, models.SeveritySuccess, visitorNote.Severity)
}

func TestBookingServiceDecideRejectsSameStatus(t *testing.T) {
	svc, _, _, _ := newBookingFixture()

	booking, err := svc.Create(context.Background(), validBookingRequest())
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), booking.ID, DecideBookingRequest{Status: "APPROVED"})
	require.NoError(t, err)
	_, err = svc.Decide(context.Background(), booking.ID, DecideBookingRequest{Status: "APPROVED"})
	require.Error(t, err)
}

func TestBookingServiceDecideRejectionIncludesReason(t *testing.T) {
	svc, _, _, mail := newBookingFixture()

	booking, err := svc.Create(context.Background(), validBookingRequest())
	require.NoError(t, err)

	reason := "farm closed for maintenance"
	decided, err := svc.Decide(context.Background(), booking.ID, DecideBookingRequest{Status: "REJECTED", Feedback: &reason})
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusRejected, decided.Status)
	require.Len(t, mail.sent, 1)
	assert.Contains(t, mail.sent[0].Body, reason)
}
