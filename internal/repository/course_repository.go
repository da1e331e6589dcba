package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/eutiquio/farm-portal-api/internal/models"
)

// CourseRepository handles persistence of the course catalog.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

const courseColumns = `id, code, title, description, department, instructor, duration_weeks, schedule,
        fee, units, start_date, status, enrollment_limit, current_enrollment, created_at, updated_at`

// List returns courses filtered by the provided criteria.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Department != "" {
		conditions = append(conditions, fmt.Sprintf("department = $%d", len(args)+1))
		args = append(args, filter.Department)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR code ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"code":       "code",
		"title":      "title",
		"start_date": "start_date",
		"fee":        "fee",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "start_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf("SELECT %s FROM courses%s ORDER BY %s %s LIMIT %d OFFSET %d",
		courseColumns, clause, orderBy, order, size, offset)

	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM courses" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := fmt.Sprintf("SELECT %s FROM courses WHERE id = $1", courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// Create persists a new course with an empty occupancy counter.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CurrentEnrollment = 0
	course.CreatedAt = now
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, code, title, description, department, instructor, duration_weeks,
        schedule, fee, units, start_date, status, enrollment_limit, current_enrollment, created_at, updated_at)
        VALUES (:id, :code, :title, :description, :department, :instructor, :duration_weeks,
        :schedule, :fee, :units, :start_date, :status, :enrollment_limit, :current_enrollment, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update merges editable fields. The occupancy counter is not part of this
// statement; AdjustEnrollment is its only mutator.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET code = :code, title = :title, description = :description,
        department = :department, instructor = :instructor, duration_weeks = :duration_weeks,
        schedule = :schedule, fee = :fee, units = :units, start_date = :start_date,
        enrollment_limit = :enrollment_limit, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// ToggleStatus flips a course between active and inactive.
func (r *CourseRepository) ToggleStatus(ctx context.Context, id string) error {
	const query = `UPDATE courses SET status = CASE WHEN status = $2 THEN $3 ELSE $2 END, updated_at = $4 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, models.CourseStatusActive, models.CourseStatusInactive, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("toggle course status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

// AdjustEnrollment applies a single-statement clamped counter update. The
// result stays within [0, enrollment_limit] and updated_at is bumped only
// when the clamped value actually changes. It returns whether a change was
// applied. The statement runs on the provided execer so ledger transitions
// can include it in their transaction.
func (r *CourseRepository) AdjustEnrollment(ctx context.Context, ext sqlx.ExtContext, id string, delta int) (bool, error) {
	if ext == nil {
		ext = r.db
	}
	const query = `UPDATE courses
        SET current_enrollment = LEAST(enrollment_limit, GREATEST(0, current_enrollment + $2)), updated_at = $3
        WHERE id = $1 AND LEAST(enrollment_limit, GREATEST(0, current_enrollment + $2)) <> current_enrollment`
	res, err := ext.ExecContext(ctx, query, id, delta, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("adjust enrollment counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("adjust enrollment counter: %w", err)
	}
	return n > 0, nil
}

// Delete removes a course and its referencing pre-enrollment rows in one
// transaction, so the ledger never points at a missing course.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin course delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM pre_enrollments WHERE course_id = $1`, id); err != nil {
		return fmt.Errorf("cascade pre-enrollments: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoRowsUpdated
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit course delete: %w", err)
	}
	return nil
}

// ListAvailableFor returns active courses the student can still request:
// everything without an approved ledger row for the pair.
func (r *CourseRepository) ListAvailableFor(ctx context.Context, studentID string) ([]models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses c
        WHERE c.status = $1 AND NOT EXISTS (
            SELECT 1 FROM pre_enrollments p
            WHERE p.course_id = c.id AND p.student_id = $2 AND p.status = $3
        ) ORDER BY c.start_date ASC`, prefixColumns("c", courseColumns))
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, models.CourseStatusActive, studentID, models.EnrollmentStatusApproved); err != nil {
		return nil, fmt.Errorf("list available courses: %w", err)
	}
	return courses, nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
