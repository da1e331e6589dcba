package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eutiquio/farm-portal-api/internal/middleware"
	"github.com/eutiquio/farm-portal-api/internal/models"
	"github.com/eutiquio/farm-portal-api/internal/repository"
	"github.com/eutiquio/farm-portal-api/internal/service"
	appErrors "github.com/eutiquio/farm-portal-api/pkg/errors"
)

type notificationRepoMock struct {
	feeds      map[string][]models.Notification
	markReadID string
	markReadTo string
}

func (m *notificationRepoMock) Create(ctx context.Context, n *models.Notification) error {
	m.feeds[n.Recipient] = append(m.feeds[n.Recipient], *n)
	return nil
}

func (m *notificationRepoMock) ListFor(ctx context.Context, recipient string) ([]models.Notification, error) {
	return m.feeds[recipient], nil
}

func (m *notificationRepoMock) UnreadCountFor(ctx context.Context, recipient string) (int, error) {
	count := 0
	for _, n := range m.feeds[recipient] {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

func (m *notificationRepoMock) MarkRead(ctx context.Context, id, recipient string) error {
	for _, n := range m.feeds[recipient] {
		if n.ID == id {
			m.markReadID = id
			m.markReadTo = recipient
			return nil
		}
	}
	return repository.ErrNoRowsUpdated
}

func (m *notificationRepoMock) MarkAllRead(ctx context.Context, recipient string) error {
	return nil
}

func (m *notificationRepoMock) Purge(ctx context.Context, recipient string, severity models.NotificationSeverity) (int64, error) {
	return int64(len(m.feeds[recipient])), nil
}

func newNotificationTestContext(t *testing.T, claims *models.JWTClaims, method, target string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func TestNotificationHandlerAdminReadsAdminFeed(t *testing.T) {
	repo := &notificationRepoMock{feeds: map[string][]models.Notification{
		models.RecipientAdmin: {{ID: "n-1", Recipient: models.RecipientAdmin, Title: "New Enrollment Request"}},
		"ana@example.com":     {{ID: "n-2", Recipient: "ana@example.com", Title: "Enrollment Approved"}},
	}}
	handler := NewNotificationHandler(service.NewNotificationService(repo, nil))

	c, w := newNotificationTestContext(t, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}, http.MethodGet, "/notifications")
	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "New Enrollment Request")
	assert.NotContains(t, w.Body.String(), "Enrollment Approved")
}

func TestNotificationHandlerStudentReadsOwnFeed(t *testing.T) {
	repo := &notificationRepoMock{feeds: map[string][]models.Notification{
		"ana@example.com": {{ID: "n-2", Recipient: "ana@example.com", Title: "Enrollment Approved"}},
	}}
	handler := NewNotificationHandler(service.NewNotificationService(repo, nil))

	claims := &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent, Email: "ana@example.com"}
	c, w := newNotificationTestContext(t, claims, http.MethodGet, "/notifications")
	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Enrollment Approved")
}

func TestNotificationHandlerMarkReadScopedToCaller(t *testing.T) {
	repo := &notificationRepoMock{feeds: map[string][]models.Notification{
		"ana@example.com": {{ID: "n-2", Recipient: "ana@example.com"}},
	}}
	handler := NewNotificationHandler(service.NewNotificationService(repo, nil))

	claims := &models.JWTClaims{UserID: "stu-2", Role: models.RoleStudent, Email: "other@example.com"}
	c, w := newNotificationTestContext(t, claims, http.MethodPut, "/notifications/n-2/read")
	c.Params = gin.Params{{Key: "id", Value: "n-2"}}
	handler.MarkRead(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, repo.markReadID)
}

func TestNotificationHandlerPurgeRejectsUnknownSeverity(t *testing.T) {
	repo := &notificationRepoMock{feeds: map[string][]models.Notification{}}
	handler := NewNotificationHandler(service.NewNotificationService(repo, nil))

	claims := &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent, Email: "ana@example.com"}
	c, w := newNotificationTestContext(t, claims, http.MethodDelete, "/notifications?severity=bogus")
	handler.Purge(c)

	assert.Equal(t, appErrors.ErrValidation.Status, w.Code)
}

func TestNotificationHandlerRequiresClaims(t *testing.T) {
	repo := &notificationRepoMock{feeds: map[string][]models.Notification{}}
	handler := NewNotificationHandler(service.NewNotificationService(repo, nil))

	c, w := newNotificationTestContext(t, nil, http.MethodGet, "/notifications")
	handler.List(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
