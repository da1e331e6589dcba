package models

import "time"

// BookingStatus represents the lifecycle of a visit booking.
type BookingStatus string

// Possible booking statuses.
const (
	BookingStatusPending  BookingStatus = "PENDING"
	BookingStatusApproved BookingStatus = "APPROVED"
	BookingStatusRejected BookingStatus = "REJECTED"
)

// Booking is a visitor's request for a farm visit. Bookings have no
// capacity coupling; status transitions only drive notifications.
type Booking struct {
	ID                  string        `db:"id" json:"id"`
	VisitorName         string        `db:"visitor_name" json:"visitor_name"`
	Email               string        `db:"email" json:"email"`
	Phone               string        `db:"phone" json:"phone"`
	VisitDate           time.Time     `db:"visit_date" json:"visit_date"`
	VisitTime           string        `db:"visit_time" json:"visit_time"`
	GroupSize           int           `db:"group_size" json:"group_size"`
	Purpose             string        `db:"purpose" json:"purpose"`
	SpecialRequirements *string       `db:"special_requirements" json:"special_requirements,omitempty"`
	Status              BookingStatus `db:"status" json:"status"`
	AdminFeedback       *string       `db:"admin_feedback" json:"admin_feedback,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
}

// BookingFilter provides filters for listing bookings.
type BookingFilter struct {
	Email     string
	Status    BookingStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
