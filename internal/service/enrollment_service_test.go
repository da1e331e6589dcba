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
	"github.com/eutiquio/farm-portal-api/pkg/email"
	appErrors "github.com/eutiquio/farm-portal-api/pkg/errors"
)

// fakeLedger mirrors the persistence rules: one row per pair, a clamped
// occupancy counter, counter movement only on approved boundary crossings.
type fakeLedger struct {
	rows        map[string]*models.PreEnrollment
	course      *models.Course
	transitions []models.EnrollmentTransition
}

func newFakeLedger(course *models.Course) *fakeLedger {
	return &fakeLedger{rows: make(map[string]*models.PreEnrollment), course: course}
}

func (f *fakeLedger) adjust(delta int) {
	next := f.course.CurrentEnrollment + delta
	if next < 0 {
		next = 0
	}
	if next > f.course.EnrollmentLimit {
		next = f.course.EnrollmentLimit
	}
	f.course.CurrentEnrollment = next
}

func (f *fakeLedger) List(ctx context.Context, filter models.PreEnrollmentFilter) ([]models.PreEnrollmentDetail, int, error) {
	var details []models.PreEnrollmentDetail
	for _, r := range f.rows {
		details = append(details, models.PreEnrollmentDetail{PreEnrollment: *r, CourseTitle: f.course.Title})
	}
	return details, len(details), nil
}

func (f *fakeLedger) FindByID(ctx context.Context, id string) (*models.PreEnrollment, error) {
	if r, ok := f.rows[id]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeLedger) FindDetailByID(ctx context.Context, id string) (*models.PreEnrollmentDetail, error) {
	if r, ok := f.rows[id]; ok {
		return &models.PreEnrollmentDetail{PreEnrollment: *r, CourseTitle: f.course.Title}, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeLedger) Submit(ctx context.Context, request *models.PreEnrollment) (repository.SubmitOutcome, *models.PreEnrollment, error) {
	for _, r := range f.rows {
		if r.StudentID == request.StudentID && r.CourseID == request.CourseID {
			if r.Status != models.EnrollmentStatusRejected {
				copied := *r
				return repository.SubmitIgnored, &copied, nil
			}
			r.Status = models.EnrollmentStatusPending
			r.AdminFeedback = nil
			r.UpdatedAt = time.Now().UTC()
			copied := *r
			return repository.SubmitResubmitted, &copied, nil
		}
	}
	request.ID = "req-" + request.StudentID
	request.Status = models.EnrollmentStatusPending
	request.CreatedAt = time.Now().UTC()
	request.UpdatedAt = request.CreatedAt
	stored := *request
	f.rows[request.ID] = &stored
	copied := stored
	return repository.SubmitCreated, &copied, nil
}

func (f *fakeLedger) Transition(ctx context.Context, params repository.TransitionParams) (*repository.TransitionResult, error) {
	r, ok := f.rows[params.ID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	old := r.Status
	r.Status = params.NewStatus
	r.AdminFeedback = params.Feedback
	r.UpdatedAt = time.Now().UTC()

	result := &repository.TransitionResult{Request: *r, OldStatus: old}
	wasApproved := old == models.EnrollmentStatusApproved
	willBeApproved := params.NewStatus == models.EnrollmentStatusApproved
	if wasApproved != willBeApproved {
		delta := -1
		if willBeApproved {
			delta = 1
		}
		f.adjust(delta)
		result.CounterMove = delta
	}
	return result, nil
}

func (f *fakeLedger) Delete(ctx context.Context, id string) (*models.PreEnrollment, error) {
	r, ok := f.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if r.Status == models.EnrollmentStatusApproved {
		f.adjust(-1)
	}
	delete(f.rows, id)
	return r, nil
}

func (f *fakeLedger) EffectiveStatus(ctx context.Context, studentID, courseID string) (models.EnrollmentStatus, error) {
	var latest *models.PreEnrollment
	for _, r := range f.rows {
		if r.StudentID != studentID || r.CourseID != courseID {
			continue
		}
		if latest == nil || r.UpdatedAt.After(latest.UpdatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return models.EnrollmentStatusNone, nil
	}
	return latest.Status, nil
}

func (f *fakeLedger) AttachDocument(ctx context.Context, id, name, url, mimeType string) error {
	r, ok := f.rows[id]
	if !ok {
		return repository.ErrNoRowsUpdated
	}
	r.DocumentName = &name
	r.DocumentURL = &url
	r.DocumentType = &mimeType
	return nil
}

func (f *fakeLedger) AppendTransition(ctx context.Context, transition *models.EnrollmentTransition) error {
	f.transitions = append(f.transitions, *transition)
	return nil
}

type fakeCourseReader struct {
	course *models.Course
}

func (f *fakeCourseReader) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if f.course == nil || f.course.ID != id {
		return nil, sql.ErrNoRows
	}
	return f.course, nil
}

type capturedNotifications struct {
	posted []models.Notification
}

func (c *capturedNotifications) Post(ctx context.Context, n *models.Notification) error {
	c.posted = append(c.posted, *n)
	return nil
}

type capturedMail struct {
	sent []email.Message
}

func (c *capturedMail) Enqueue(msg email.Message) {
	c.sent = append(c.sent, msg)
}

func validSubmitRequest(courseID string) SubmitEnrollmentRequest {
	return SubmitEnrollmentRequest{
		CourseID:      courseID,
		FullName:      "Ana Cruz",
		Email:         "ana@example.com",
		Phone:         "0917",
		DateOfBirth:   "2008-04-02",
		Address:       "Bacolod",
		GuardianName:  "Maria Cruz",
		GuardianPhone: "0918",
	}
}

func newEnrollmentFixture(limit int) (*EnrollmentService, *fakeLedger, *capturedNotifications, *capturedMail) {
	course := &models.Course{ID: "course-1", Title: "Intro to Crop Science", Status: models.CourseStatusActive, EnrollmentLimit: limit}
	ledger := newFakeLedger(course)
	notifications := &capturedNotifications{}
	mail := &capturedMail{}
	svc := NewEnrollmentService(ledger, &fakeCourseReader{course: course}, nil, notifications, mail, validator.New(), zap.NewNop())
	return svc, ledger, notifications, mail
}

func TestEnrollmentServiceSubmitCreatesPendingRequest(t *testing.T) {
	svc, ledger, notifications, _ := newEnrollmentFixture(5)

	result, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)
	assert.Equal(t, repository.SubmitCreated, result.Outcome)
	assert.Equal(t, models.EnrollmentStatusPending, result.Request.Status)
	assert.Equal(t, 0, ledger.course.CurrentEnrollment)

	require.Len(t, notifications.posted, 1)
	assert.Equal(t, models.RecipientAdmin, notifications.posted[0].Recipient)
	assert.Equal(t, "New Enrollment Request", notifications.posted[0].Title)
}

func TestEnrollmentServiceSubmitIsIdempotentWhilePending(t *testing.T) {
	svc, ledger, notifications, _ := newEnrollmentFixture(5)

	first, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)
	second, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)

	assert.Equal(t, repository.SubmitIgnored, second.Outcome)
	assert.Equal(t, first.Request.ID, second.Request.ID)
	assert.Len(t, ledger.rows, 1)
	// Only the first submission announces itself.
	assert.Len(t, notifications.posted, 1)
}

func TestEnrollmentServiceResubmissionReusesRow(t *testing.T) {
	svc, ledger, notifications, _ := newEnrollmentFixture(5)

	created, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)

	feedback := "incomplete documents"
	_, err = svc.Decide(context.Background(), created.Request.ID, "admin-1", DecideEnrollmentRequest{
		Status: "REJECTED", Feedback: &feedback,
	})
	require.NoError(t, err)

	resubmitted, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)
	assert.Equal(t, repository.SubmitResubmitted, resubmitted.Outcome)
	assert.Equal(t, created.Request.ID, resubmitted.Request.ID)
	assert.Equal(t, models.EnrollmentStatusPending, resubmitted.Request.Status)
	assert.Nil(t, resubmitted.Request.AdminFeedback)
	assert.Len(t, ledger.rows, 1)

	var last models.Notification
	for _, n := range notifications.posted {
		if n.Recipient == models.RecipientAdmin {
			last = n
		}
	}
	assert.Equal(t, "Enrollment Request Resubmitted", last.Title)
}

func TestEnrollmentServiceApprovalCycleMovesCounterExactlyOnce(t *testing.T) {
	svc, ledger, _, mail := newEnrollmentFixture(5)

	created, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)
	id := created.Request.ID

	_, err = svc.Decide(context.Background(), id, "admin-1", DecideEnrollmentRequest{Status: "APPROVED"})
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.course.CurrentEnrollment)

	feedback := "slot reassigned"
	_, err = svc.Decide(context.Background(), id, "admin-1", DecideEnrollmentRequest{Status: "REJECTED", Feedback: &feedback})
	require.NoError(t, err)
	assert.Equal(t, 0, ledger.course.CurrentEnrollment)

	_, err = svc.Decide(context.Background(), id, "admin-1", DecideEnrollmentRequest{Status: "PENDING"})
	require.NoError(t, err)
	_, err = svc.Decide(context.Background(), id, "admin-1", DecideEnrollmentRequest{Status: "APPROVED"})
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.course.CurrentEnrollment)

	// One email per decision: approve, reject, re-review, approve.
	assert.Len(t, mail.sent, 4)
	assert.Len(t, ledger.transitions, 4)
}

func TestEnrollmentServiceDecideRejectsSameStatus(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture(5)

	created, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), created.Request.ID, "admin-1", DecideEnrollmentRequest{Status: "PENDING"})
	require.Error(t, err)
}

func TestEnrollmentServiceDecideRejectsApprovedToPending(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture(5)

	created, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)
	_, err = svc.Decide(context.Background(), created.Request.ID, "admin-1", DecideEnrollmentRequest{Status: "APPROVED"})
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), created.Request.ID, "admin-1", DecideEnrollmentRequest{Status: "PENDING"})
	require.Error(t, err)
}

func TestEnrollmentServiceCounterClampsAtLimit(t *testing.T) {
	svc, ledger, _, _ := newEnrollmentFixture(1)

	first, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)
	second, err := svc.Submit(context.Background(), "stu-2", validSubmitRequest("course-1"))
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), first.Request.ID, "admin-1", DecideEnrollmentRequest{Status: "APPROVED"})
	require.NoError(t, err)
	_, err = svc.Decide(context.Background(), second.Request.ID, "admin-1", DecideEnrollmentRequest{Status: "APPROVED"})
	require.NoError(t, err)

	assert.Equal(t, 1, ledger.course.CurrentEnrollment)
}

func TestEnrollmentServiceUnenrollReleasesSlot(t *testing.T) {
	svc, ledger, notifications, _ := newEnrollmentFixture(5)

	created, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)
	_, err = svc.Decide(context.Background(), created.Request.ID, "admin-1", DecideEnrollmentRequest{Status: "APPROVED"})
	require.NoError(t, err)
	require.Equal(t, 1, ledger.course.CurrentEnrollment)

	detail, err := svc.Unenroll(context.Background(), created.Request.ID, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusRejected, detail.Status)
	assert.Equal(t, 0, ledger.course.CurrentEnrollment)

	var titles []string
	for _, n := range notifications.posted {
		titles = append(titles, n.Title)
	}
	assert.Contains(t, titles, "Student Unenrolled")
}

func TestEnrollmentServiceUnenrollOnlyOwner(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture(5)

	created, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)
	_, err = svc.Decide(context.Background(), created.Request.ID, "admin-1", DecideEnrollmentRequest{Status: "APPROVED"})
	require.NoError(t, err)

	_, err = svc.Unenroll(context.Background(), created.Request.ID, "stu-2")
	require.Error(t, err)
}

func TestEnrollmentServiceUnenrollRequiresApproval(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture(5)

	created, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)

	_, err = svc.Unenroll(context.Background(), created.Request.ID, "stu-1")
	require.Error(t, err)
}

func TestEnrollmentServiceStatusDerivesLatest(t *testing.T) {
	svc, _, _, _ := newEnrollmentFixture(5)

	status, err := svc.Status(context.Background(), "stu-1", "course-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusNone, status)

	created, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)
	status, err = svc.Status(context.Background(), "stu-1", "course-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, status)

	_, err = svc.Decide(context.Background(), created.Request.ID, "admin-1", DecideEnrollmentRequest{Status: "APPROVED"})
	require.NoError(t, err)
	status, err = svc.Status(context.Background(), "stu-1", "course-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusApproved, status)
}

func TestEnrollmentServiceSubmitRejectsInactiveCourse(t *testing.T) {
	svc, ledger, _, _ := newEnrollmentFixture(5)
	ledger.course.Status = models.CourseStatusInactive

	_, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.Error(t, err)
}

func TestEnrollmentServiceDeleteReleasesApprovedSlot(t *testing.T) {
	svc, ledger, _, _ := newEnrollmentFixture(5)

	created, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)
	_, err = svc.Decide(context.Background(), created.Request.ID, "admin-1", DecideEnrollmentRequest{Status: "APPROVED"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), created.Request.ID))
	assert.Equal(t, 0, ledger.course.CurrentEnrollment)
	assert.Empty(t, ledger.rows)
}

// recordingCache remembers every invalidated pattern.
type recordingCache struct {
	flushed []string
}

func (r *recordingCache) Get(ctx context.Context, key string, dest interface{}) error {
	return appErrors.ErrCacheMiss
}

func (r *recordingCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return nil
}

func (r *recordingCache) DeleteByPattern(ctx context.Context, pattern string) error {
	r.flushed = append(r.flushed, pattern)
	return nil
}

func newCachedEnrollmentFixture(limit int) (*EnrollmentService, *fakeLedger, *recordingCache) {
	course := &models.Course{ID: "course-1", Title: "Intro to Crop Science", Status: models.CourseStatusActive, EnrollmentLimit: limit}
	ledger := newFakeLedger(course)
	rec := &recordingCache{}
	cache := NewCacheService(rec, nil, time.Minute, nil, true)
	svc := NewEnrollmentService(ledger, &fakeCourseReader{course: course}, cache, &capturedNotifications{}, &capturedMail{}, validator.New(), zap.NewNop())
	return svc, ledger, rec
}

func TestEnrollmentServiceDecisionFlushesCourseCache(t *testing.T) {
	svc, _, rec := newCachedEnrollmentFixture(5)

	created, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)
	assert.Empty(t, rec.flushed)

	// Approval seats the student, so catalog pages now understate occupancy.
	_, err = svc.Decide(context.Background(), created.Request.ID, "admin-1", DecideEnrollmentRequest{Status: "APPROVED"})
	require.NoError(t, err)
	require.Len(t, rec.flushed, 1)
	assert.Equal(t, courseCachePattern, rec.flushed[0])

	// Rejecting the approved request releases the slot.
	_, err = svc.Decide(context.Background(), created.Request.ID, "admin-1", DecideEnrollmentRequest{Status: "REJECTED"})
	require.NoError(t, err)
	assert.Len(t, rec.flushed, 2)
}

func TestEnrollmentServicePendingRejectionKeepsCache(t *testing.T) {
	svc, _, rec := newCachedEnrollmentFixture(5)

	created, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)

	// Pending to rejected never touches the counter.
	_, err = svc.Decide(context.Background(), created.Request.ID, "admin-1", DecideEnrollmentRequest{Status: "REJECTED"})
	require.NoError(t, err)
	assert.Empty(t, rec.flushed)
}

func TestEnrollmentServiceUnenrollFlushesCourseCache(t *testing.T) {
	svc, _, rec := newCachedEnrollmentFixture(5)

	created, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)
	_, err = svc.Decide(context.Background(), created.Request.ID, "admin-1", DecideEnrollmentRequest{Status: "APPROVED"})
	require.NoError(t, err)

	_, err = svc.Unenroll(context.Background(), created.Request.ID, "stu-1")
	require.NoError(t, err)
	assert.Len(t, rec.flushed, 2)
}

func TestEnrollmentServiceDeleteOfApprovedFlushesCourseCache(t *testing.T) {
	svc, _, rec := newCachedEnrollmentFixture(5)

	created, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)
	_, err = svc.Decide(context.Background(), created.Request.ID, "admin-1", DecideEnrollmentRequest{Status: "APPROVED"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), created.Request.ID))
	assert.Len(t, rec.flushed, 2)
}

func TestEnrollmentServiceSubmitParsesDateOfBirth(t *testing.T) {
	svc, ledger, _, _ := newEnrollmentFixture(5)

	created, err := svc.Submit(context.Background(), "stu-1", validSubmitRequest("course-1"))
	require.NoError(t, err)

	want := time.Date(2008, 4, 2, 0, 0, 0, 0, time.UTC)
	assert.True(t, created.Request.DateOfBirth.Equal(want))
	assert.True(t, ledger.rows[created.Request.ID].DateOfBirth.Equal(want))
}
