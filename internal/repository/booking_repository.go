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

// BookingRepository handles persistence of visit bookings.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository constructs the repository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `id, visitor_name, email, phone, visit_date, visit_time, group_size, purpose,
        special_requirements, status, admin_feedback, created_at, updated_at`

// List returns bookings filtered by the provided criteria.
func (r *BookingRepository) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Email != "" {
		conditions = append(conditions, fmt.Sprintf("email = $%d", len(args)+1))
		args = append(args, filter.Email)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"visit_date": "visit_date",
		"created_at": "created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "created_at"
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

	query := fmt.Sprintf("SELECT %s FROM bookings%s ORDER BY %s %s LIMIT %d OFFSET %d",
		bookingColumns, clause, orderBy, order, size, offset)

	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM bookings" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}
	return bookings, total, nil
}

// FindByID returns a booking by its ID.
func (r *BookingRepository) FindByID(ctx context.Context, id string) (*models.Booking, error) {
	query := fmt.Sprintf("SELECT %s FROM bookings WHERE id = $1", bookingColumns)
	var booking models.Booking
	if err := r.db.GetContext(ctx, &booking, query, id); err != nil {
		return nil, err
	}
	return &booking, nil
}

// Create persists a new pending booking.
func (r *BookingRepository) Create(ctx context.Context, booking *models.Booking) error {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	booking.Status = models.BookingStatusPending
	booking.CreatedAt = now
	booking.UpdatedAt = now
	const query = `INSERT INTO bookings (id, visitor_name, email, phone, visit_date, visit_time, group_size,
        purpose, special_requirements, status, admin_feedback, created_at, updated_at)
        VALUES (:id, :visitor_name, :email, :phone, :visit_date, :visit_time, :group_size,
        :purpose, :special_requirements, :status, :admin_feedback, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, booking); err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

// UpdateStatus persists the administrator decision and feedback.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id string, status models.BookingStatus, feedback *string) error {
	const query = `UPDATE bookings SET status = $2, admin_feedback = $3, updated_at = $4 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, feedback, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

// Delete removes a booking.
func (r *BookingRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}
