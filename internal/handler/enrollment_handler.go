package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/eutiquio/farm-portal-api/internal/models"
	"github.com/eutiquio/farm-portal-api/internal/repository"
	"github.com/eutiquio/farm-portal-api/internal/service"
	appErrors "github.com/eutiquio/farm-portal-api/pkg/errors"
	"github.com/eutiquio/farm-portal-api/pkg/response"
)

// EnrollmentHandler exposes the pre-enrollment ledger endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
	documents   *service.DocumentService
	exports     *service.ExportService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService, documents *service.DocumentService, exports *service.ExportService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, documents: documents, exports: exports}
}

func enrollmentFilterFromQuery(c *gin.Context) models.PreEnrollmentFilter {
	var filter models.PreEnrollmentFilter
	filter.StudentID = c.Query("studentId")
	filter.CourseID = c.Query("courseId")
	filter.Status = models.EnrollmentStatus(strings.ToUpper(c.Query("status")))
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
// @Summary List enrollment requests
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param studentId query string false "Filter by student"
// @Param courseId query string false "Filter by course"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	filter := enrollmentFilterFromQuery(c)
	// Students only see their own ledger.
	if claims.Role == models.RoleStudent {
		filter.StudentID = claims.UserID
	}

	requests, pagination, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, pagination)
}

// Get godoc
// @Summary Get an enrollment request
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	detail, err := h.enrollments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if claims.Role == models.RoleStudent && detail.StudentID != claims.UserID {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Submit godoc
// @Summary Submit an enrollment request
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.SubmitEnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.SubmitEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.enrollments.Submit(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusCreated
	if result.Outcome != repository.SubmitCreated {
		status = http.StatusOK
	}
	response.JSON(c, status, result.Request, nil)
}

// Decide godoc
// @Summary Approve, reject, or reopen an enrollment request
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Param payload body service.DecideEnrollmentRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/status [put]
func (h *EnrollmentHandler) Decide(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.DecideEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	detail, err := h.enrollments.Decide(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Unenroll godoc
// @Summary Leave an approved course
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/unenroll [put]
func (h *EnrollmentHandler) Unenroll(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	detail, err := h.enrollments.Unenroll(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Delete godoc
// @Summary Delete an enrollment request
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Success 204 "No Content"
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Delete(c *gin.Context) {
	if err := h.enrollments.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Status godoc
// @Summary Derive the current status for a (student, course) pair
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param courseId query string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/status [get]
func (h *EnrollmentHandler) Status(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	studentID := claims.UserID
	if claims.Role == models.RoleAdmin && c.Query("studentId") != "" {
		studentID = c.Query("studentId")
	}
	status, err := h.enrollments.Status(c.Request.Context(), studentID, c.Query("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": status}, nil)
}

// UploadDocument godoc
// @Summary Attach a supporting document to a pending request
// @Tags Enrollments
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Param document formData file true "Document"
// @Success 201 {object} response.Envelope
// @Router /enrollments/{id}/documents [post]
func (h *EnrollmentHandler) UploadDocument(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	fileHeader, err := c.FormFile("document")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "document file is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return
	}
	defer file.Close()

	upload, err := h.documents.Upload(c.Request.Context(), c.Param("id"), claims.UserID,
		fileHeader.Filename, fileHeader.Header.Get("Content-Type"), fileHeader.Size, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, upload)
}

// DocumentURL godoc
// @Summary Mint a fresh signed URL for a request's document
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/documents [get]
func (h *EnrollmentHandler) DocumentURL(c *gin.Context) {
	upload, err := h.documents.SignedURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, upload, nil)
}

// DownloadDocument godoc
// @Summary Download a document through its signed token
// @Tags Enrollments
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Router /documents/{token} [get]
func (h *EnrollmentHandler) DownloadDocument(c *gin.Context) {
	f, err := h.documents.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat document"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name()))
	c.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", f, nil)
}

// Export godoc
// @Summary Export the enrollment ledger
// @Tags Enrollments
// @Produce octet-stream
// @Security BearerAuth
// @Param format query string false "csv or pdf"
// @Success 200
// @Router /enrollments/export [get]
func (h *EnrollmentHandler) Export(c *gin.Context) {
	filter := enrollmentFilterFromQuery(c)
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	result, err := h.exports.Enrollments(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}
