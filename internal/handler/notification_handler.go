package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/eutiquio/farm-portal-api/internal/models"
	"github.com/eutiquio/farm-portal-api/internal/service"
	appErrors "github.com/eutiquio/farm-portal-api/pkg/errors"
	"github.com/eutiquio/farm-portal-api/pkg/response"
)

// NotificationHandler exposes the notification feed endpoints.
type NotificationHandler struct {
	notifications *service.NotificationService
}

// NewNotificationHandler constructs NotificationHandler.
func NewNotificationHandler(notifications *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// recipientFor resolves the feed address for the caller: admins read the
// shared admin feed, everyone else reads the feed keyed by their email.
func recipientFor(claims *models.JWTClaims) string {
	if claims.Role == models.RoleAdmin {
		return models.RecipientAdmin
	}
	return claims.Email
}

// List godoc
// @Summary List the caller's notifications
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	notifications, err := h.notifications.ListFor(c.Request.Context(), recipientFor(claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, notifications, nil)
}

// UnreadCount godoc
// @Summary Count the caller's unread notifications
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /notifications/unread [get]
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	count, err := h.notifications.UnreadCountFor(c.Request.Context(), recipientFor(claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"unread": count}, nil)
}

// MarkRead godoc
// @Summary Mark a notification as read
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Param id path string true "Notification ID"
// @Success 204 "No Content"
// @Router /notifications/{id}/read [put]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), c.Param("id"), recipientFor(claims)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// MarkAllRead godoc
// @Summary Mark all of the caller's notifications as read
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Success 204 "No Content"
// @Router /notifications/read [put]
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.notifications.MarkAllRead(c.Request.Context(), recipientFor(claims)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Purge godoc
// @Summary Delete the caller's notifications, optionally by severity
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Param severity query string false "Severity filter"
// @Success 200 {object} response.Envelope
// @Router /notifications [delete]
func (h *NotificationHandler) Purge(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	severity := models.NotificationSeverity(strings.ToUpper(c.Query("severity")))
	removed, err := h.notifications.Purge(c.Request.Context(), recipientFor(claims), severity)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"removed": removed}, nil)
}
