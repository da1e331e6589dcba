package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/eutiquio/farm-portal-api/internal/models"
)

// SubmitOutcome reports what a ledger submission did.
type SubmitOutcome int

// Submission outcomes. A submission against an existing pending or approved
// row is silently ignored to keep the at-most-one-active-record invariant.
const (
	SubmitIgnored SubmitOutcome = iota
	SubmitCreated
	SubmitResubmitted
)

// TransitionParams describes an administrator status decision.
type TransitionParams struct {
	ID        string
	NewStatus models.EnrollmentStatus
	Feedback  *string
}

// TransitionResult reports the applied transition.
type TransitionResult struct {
	Request     models.PreEnrollment
	OldStatus   models.EnrollmentStatus
	CounterMove int
}

type counterAdjuster interface {
	AdjustEnrollment(ctx context.Context, ext sqlx.ExtContext, courseID string, delta int) (bool, error)
}

// PreEnrollmentRepository handles persistence of the enrollment ledger.
// Counter movements go through the catalog's AdjustEnrollment inside the
// ledger transaction, so a status change and its counter effect commit or
// roll back together.
type PreEnrollmentRepository struct {
	db      *sqlx.DB
	counter counterAdjuster
}

// NewPreEnrollmentRepository constructs the repository.
func NewPreEnrollmentRepository(db *sqlx.DB, counter counterAdjuster) *PreEnrollmentRepository {
	return &PreEnrollmentRepository{db: db, counter: counter}
}

const preEnrollmentColumns = `id, student_id, course_id, status, full_name, email, phone, date_of_birth,
        address, guardian_name, guardian_phone, document_name, document_url, document_type,
        admin_feedback, created_at, updated_at`

// List returns ledger entries with course context.
func (r *PreEnrollmentRepository) List(ctx context.Context, filter models.PreEnrollmentFilter) ([]models.PreEnrollmentDetail, int, error) {
	base := `FROM pre_enrollments p LEFT JOIN courses c ON c.id = p.course_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("p.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("p.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("p.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "p.created_at",
		"updated_at":   "p.updated_at",
		"student_name": "p.full_name",
		"course_title": "c.title",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "p.updated_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s, c.code AS course_code, c.title AS course_title
        %s%s ORDER BY %s %s LIMIT %d OFFSET %d`,
		prefixColumns("p", preEnrollmentColumns), base, clause, orderBy, order, size, offset)

	var details []models.PreEnrollmentDetail
	if err := r.db.SelectContext(ctx, &details, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list pre-enrollments: %w", err)
	}

	countQuery := "SELECT COUNT(*) " + base + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count pre-enrollments: %w", err)
	}
	return details, total, nil
}

// FindByID returns a ledger entry by its ID.
func (r *PreEnrollmentRepository) FindByID(ctx context.Context, id string) (*models.PreEnrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM pre_enrollments WHERE id = $1", preEnrollmentColumns)
	var request models.PreEnrollment
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// FindDetailByID returns a ledger entry with course context.
func (r *PreEnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.PreEnrollmentDetail, error) {
	query := fmt.Sprintf(`SELECT %s, c.code AS course_code, c.title AS course_title
        FROM pre_enrollments p LEFT JOIN courses c ON c.id = p.course_id
        WHERE p.id = $1`, prefixColumns("p", preEnrollmentColumns))
	var detail models.PreEnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Submit applies the ledger submission rules for one (student, course) pair
// inside a transaction: create when no row exists, reset a rejected row to
// pending in place, and ignore a pending or approved row. The pair's row is
// locked for the duration, and an insert that loses a create race to the
// pair's unique index is reported as ignored.
func (r *PreEnrollmentRepository) Submit(ctx context.Context, request *models.PreEnrollment) (SubmitOutcome, *models.PreEnrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return SubmitIgnored, nil, fmt.Errorf("begin submit: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := fmt.Sprintf("SELECT %s FROM pre_enrollments WHERE student_id = $1 AND course_id = $2 FOR UPDATE", preEnrollmentColumns)
	var existing models.PreEnrollment
	err = tx.GetContext(ctx, &existing, query, request.StudentID, request.CourseID)
	switch {
	case err == nil:
		if existing.Status != models.EnrollmentStatusRejected {
			return SubmitIgnored, &existing, nil
		}
		existing.Status = models.EnrollmentStatusPending
		existing.UpdatedAt = time.Now().UTC()
		const reset = `UPDATE pre_enrollments SET status = $2, admin_feedback = NULL, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, reset, existing.ID, existing.Status, existing.UpdatedAt); err != nil {
			return SubmitIgnored, nil, fmt.Errorf("reset rejected pre-enrollment: %w", err)
		}
		existing.AdminFeedback = nil
		if err := tx.Commit(); err != nil {
			return SubmitIgnored, nil, fmt.Errorf("commit resubmission: %w", err)
		}
		return SubmitResubmitted, &existing, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to create
	default:
		return SubmitIgnored, nil, fmt.Errorf("lookup pre-enrollment pair: %w", err)
	}

	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	request.Status = models.EnrollmentStatusPending
	request.CreatedAt = now
	request.UpdatedAt = now
	const insert = `INSERT INTO pre_enrollments (id, student_id, course_id, status, full_name, email, phone,
        date_of_birth, address, guardian_name, guardian_phone, document_name, document_url, document_type,
        admin_feedback, created_at, updated_at)
        VALUES (:id, :student_id, :course_id, :status, :full_name, :email, :phone,
        :date_of_birth, :address, :guardian_name, :guardian_phone, :document_name, :document_url, :document_type,
        :admin_feedback, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insert, request); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return SubmitIgnored, nil, nil
		}
		return SubmitIgnored, nil, fmt.Errorf("create pre-enrollment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return SubmitIgnored, nil, fmt.Errorf("commit submission: %w", err)
	}
	return SubmitCreated, request, nil
}

// Transition persists an administrator decision. The row is locked while
// status, feedback and updated_at are written, and when the transition
// crosses the approved boundary the course counter is adjusted in the same
// transaction.
func (r *PreEnrollmentRepository) Transition(ctx context.Context, params TransitionParams) (*TransitionResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := fmt.Sprintf("SELECT %s FROM pre_enrollments WHERE id = $1 FOR UPDATE", preEnrollmentColumns)
	var request models.PreEnrollment
	if err := tx.GetContext(ctx, &request, query, params.ID); err != nil {
		return nil, err
	}

	oldStatus := request.Status
	request.Status = params.NewStatus
	request.AdminFeedback = params.Feedback
	request.UpdatedAt = time.Now().UTC()

	const update = `UPDATE pre_enrollments SET status = $2, admin_feedback = $3, updated_at = $4 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update, request.ID, request.Status, request.AdminFeedback, request.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update pre-enrollment status: %w", err)
	}

	result := &TransitionResult{Request: request, OldStatus: oldStatus}
	wasApproved := oldStatus == models.EnrollmentStatusApproved
	willBeApproved := params.NewStatus == models.EnrollmentStatusApproved
	if wasApproved != willBeApproved {
		delta := -1
		if willBeApproved {
			delta = 1
		}
		if _, err := r.counter.AdjustEnrollment(ctx, tx, request.CourseID, delta); err != nil {
			return nil, err
		}
		result.CounterMove = delta
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return result, nil
}

// Delete removes a ledger entry, releasing its occupancy slot when the
// entry was approved.
func (r *PreEnrollmentRepository) Delete(ctx context.Context, id string) (*models.PreEnrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := fmt.Sprintf("SELECT %s FROM pre_enrollments WHERE id = $1 FOR UPDATE", preEnrollmentColumns)
	var request models.PreEnrollment
	if err := tx.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}

	if request.Status == models.EnrollmentStatusApproved {
		if _, err := r.counter.AdjustEnrollment(ctx, tx, request.CourseID, -1); err != nil {
			return nil, err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pre_enrollments WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete pre-enrollment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}
	return &request, nil
}

// EffectiveStatus derives the single current status for a pair from the
// most recently updated row, so a resubmission surfaces as pending even
// when its row is old.
func (r *PreEnrollmentRepository) EffectiveStatus(ctx context.Context, studentID, courseID string) (models.EnrollmentStatus, error) {
	const query = `SELECT status FROM pre_enrollments WHERE student_id = $1 AND course_id = $2
        ORDER BY updated_at DESC LIMIT 1`
	var status models.EnrollmentStatus
	if err := r.db.GetContext(ctx, &status, query, studentID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.EnrollmentStatusNone, nil
		}
		return "", fmt.Errorf("derive enrollment status: %w", err)
	}
	return status, nil
}

// AttachDocument stores the uploaded document reference on a pending entry.
func (r *PreEnrollmentRepository) AttachDocument(ctx context.Context, id, name, url, mimeType string) error {
	const query = `UPDATE pre_enrollments SET document_name = $2, document_url = $3, document_type = $4, updated_at = $5
        WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, name, url, mimeType, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("attach document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

// AppendTransition records an audit entry for a status change.
func (r *PreEnrollmentRepository) AppendTransition(ctx context.Context, transition *models.EnrollmentTransition) error {
	if transition.ID == "" {
		transition.ID = uuid.NewString()
	}
	if transition.CreatedAt.IsZero() {
		transition.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollment_transitions (id, request_id, course_id, from_status, to_status, actor_id, feedback, created_at)
        VALUES (:id, :request_id, :course_id, :from_status, :to_status, :actor_id, :feedback, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, transition); err != nil {
		return fmt.Errorf("append enrollment transition: %w", err)
	}
	return nil
}
