package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eutiquio/farm-portal-api/internal/models"
	"github.com/eutiquio/farm-portal-api/pkg/email"
	"github.com/eutiquio/farm-portal-api/pkg/jobs"
)

type stubSender struct {
	err   error
	calls int
}

func (s *stubSender) Send(ctx context.Context, msg email.Message) error {
	s.calls++
	return s.err
}

func TestMailerDeliverSuccess(t *testing.T) {
	sender := &stubSender{}
	store := &fakeNotificationStore{}
	notifications := NewNotificationService(store, zap.NewNop())
	mailer := NewMailerService(sender, notifications, nil, 1, 1, zap.NewNop())

	err := mailer.deliver(context.Background(), jobs.Job{
		Type:    "email",
		Payload: email.Message{To: "ana@example.com", Subject: "Enrollment Approved"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sender.calls)
	assert.Empty(t, store.stored)
}

func TestMailerDeliveryFailureIsSuppressed(t *testing.T) {
	sender := &stubSender{err: errors.New("connection refused")}
	store := &fakeNotificationStore{}
	notifications := NewNotificationService(store, zap.NewNop())
	mailer := NewMailerService(sender, notifications, nil, 1, 1, zap.NewNop())

	err := mailer.deliver(context.Background(), jobs.Job{
		Type:    "email",
		Payload: email.Message{To: "ana@example.com", Subject: "Enrollment Approved"},
	})
	// One attempt, no retry, no surfaced error.
	require.NoError(t, err)
	assert.Equal(t, 1, sender.calls)

	// The failure report is dropped by the suppression filter; the admin
	// feed stays clean.
	listed, listErr := notifications.ListFor(context.Background(), models.RecipientAdmin)
	require.NoError(t, listErr)
	assert.Empty(t, listed)
}

func TestMailerDeliverIgnoresUnknownPayload(t *testing.T) {
	sender := &stubSender{}
	mailer := NewMailerService(sender, nil, nil, 1, 1, zap.NewNop())

	err := mailer.deliver(context.Background(), jobs.Job{Type: "email", Payload: 42})
	require.NoError(t, err)
	assert.Zero(t, sender.calls)
}
