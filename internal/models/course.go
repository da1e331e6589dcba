package models

import "time"

// CourseStatus toggles catalog visibility.
type CourseStatus string

// Possible course statuses.
const (
	CourseStatusActive   CourseStatus = "ACTIVE"
	CourseStatusInactive CourseStatus = "INACTIVE"
)

// Course describes an offered course and its occupancy counter.
// CurrentEnrollment is mutated only through the catalog's clamp update,
// never by catalog edits.
type Course struct {
	ID                string       `db:"id" json:"id"`
	Code              string       `db:"code" json:"code"`
	Title             string       `db:"title" json:"title"`
	Description       string       `db:"description" json:"description"`
	Department        string       `db:"department" json:"department"`
	Instructor        string       `db:"instructor" json:"instructor"`
	DurationWeeks     int          `db:"duration_weeks" json:"duration_weeks"`
	Schedule          string       `db:"schedule" json:"schedule"`
	Fee               float64      `db:"fee" json:"fee"`
	Units             int          `db:"units" json:"units"`
	StartDate         time.Time    `db:"start_date" json:"start_date"`
	Status            CourseStatus `db:"status" json:"status"`
	EnrollmentLimit   int          `db:"enrollment_limit" json:"enrollment_limit"`
	CurrentEnrollment int          `db:"current_enrollment" json:"current_enrollment"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at" json:"updated_at"`
}

// CourseFilter provides filters for listing courses.
type CourseFilter struct {
	Status     CourseStatus
	Department string
	Search     string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
