package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/eutiquio/farm-portal-api/internal/models"
	"github.com/eutiquio/farm-portal-api/internal/service"
	appErrors "github.com/eutiquio/farm-portal-api/pkg/errors"
	"github.com/eutiquio/farm-portal-api/pkg/response"
)

// BookingHandler exposes visit booking endpoints.
type BookingHandler struct {
	bookings *service.BookingService
	exports  *service.ExportService
}

// NewBookingHandler constructs BookingHandler.
func NewBookingHandler(bookings *service.BookingService, exports *service.ExportService) *BookingHandler {
	return &BookingHandler{bookings: bookings, exports: exports}
}

func bookingFilterFromQuery(c *gin.Context) models.BookingFilter {
	var filter models.BookingFilter
	filter.Email = c.Query("email")
	filter.Status = models.BookingStatus(strings.ToUpper(c.Query("status")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")
	return filter
}

// List godoc
// @Summary List visit bookings
// @Tags Bookings
// @Produce json
// @Security BearerAuth
// @Param email query string false "Filter by visitor email"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /bookings [get]
func (h *BookingHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	filter := bookingFilterFromQuery(c)
	// Visitors only see their own bookings.
	if claims.Role == models.RoleVisitor {
		filter.Email = claims.Email
	}

	bookings, pagination, err := h.bookings.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bookings, pagination)
}

// Get godoc
// @Summary Get a booking
// @Tags Bookings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id} [get]
func (h *BookingHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	booking, err := h.bookings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if claims.Role == models.RoleVisitor && booking.Email != claims.Email {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Create godoc
// @Summary Request a farm visit
// @Tags Bookings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreateBookingRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Router /bookings [post]
func (h *BookingHandler) Create(c *gin.Context) {
	var req service.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	booking, err := h.bookings.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, booking)
}

// Decide godoc
// @Summary Approve or reject a booking
// @Tags Bookings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Booking ID"
// @Param payload body service.DecideBookingRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id}/status [put]
func (h *BookingHandler) Decide(c *gin.Context) {
	var req service.DecideBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	booking, err := h.bookings.Decide(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Delete godoc
// @Summary Delete a booking
// @Tags Bookings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Booking ID"
// @Success 204 "No Content"
// @Router /bookings/{id} [delete]
func (h *BookingHandler) Delete(c *gin.Context) {
	if err := h.bookings.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Export godoc
// @Summary Export the booking list
// @Tags Bookings
// @Produce octet-stream
// @Security BearerAuth
// @Param format query string false "csv or pdf"
// @Success 200
// @Router /bookings/export [get]
func (h *BookingHandler) Export(c *gin.Context) {
	filter := bookingFilterFromQuery(c)
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	result, err := h.exports.Bookings(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}
