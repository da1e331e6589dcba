package models

import "time"

// EnrollmentStatus represents the lifecycle of a pre-enrollment request.
type EnrollmentStatus string

// Possible enrollment statuses. StatusNone is the derived value for a
// (student, course) pair without any ledger record; it is never persisted.
const (
	EnrollmentStatusPending  EnrollmentStatus = "PENDING"
	EnrollmentStatusApproved EnrollmentStatus = "APPROVED"
	EnrollmentStatusRejected EnrollmentStatus = "REJECTED"
	EnrollmentStatusNone     EnrollmentStatus = "NONE"
)

// PreEnrollment is a student's request to join a course, subject to
// administrator approval before counting against course capacity. At most
// one row exists per (student, course) pair; a rejected request is
// resubmitted in place by resetting its status to pending.
type PreEnrollment struct {
	ID            string           `db:"id" json:"id"`
	StudentID     string           `db:"student_id" json:"student_id"`
	CourseID      string           `db:"course_id" json:"course_id"`
	Status        EnrollmentStatus `db:"status" json:"status"`
	FullName      string           `db:"full_name" json:"full_name"`
	Email         string           `db:"email" json:"email"`
	Phone         string           `db:"phone" json:"phone"`
	DateOfBirth   time.Time        `db:"date_of_birth" json:"date_of_birth"`
	Address       string           `db:"address" json:"address"`
	GuardianName  string           `db:"guardian_name" json:"guardian_name"`
	GuardianPhone string           `db:"guardian_phone" json:"guardian_phone"`
	DocumentName  *string          `db:"document_name" json:"document_name,omitempty"`
	DocumentURL   *string          `db:"document_url" json:"document_url,omitempty"`
	DocumentType  *string          `db:"document_type" json:"document_type,omitempty"`
	AdminFeedback *string          `db:"admin_feedback" json:"admin_feedback,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// PreEnrollmentDetail enriches PreEnrollment with course info.
type PreEnrollmentDetail struct {
	PreEnrollment
	CourseCode  string `db:"course_code" json:"course_code"`
	CourseTitle string `db:"course_title" json:"course_title"`
}

// PreEnrollmentFilter provides filters for listing the ledger.
type PreEnrollmentFilter struct {
	StudentID string
	CourseID  string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// EnrollmentTransition is the audit record appended for each status change.
type EnrollmentTransition struct {
	ID         string           `db:"id" json:"id"`
	RequestID  string           `db:"request_id" json:"request_id"`
	CourseID   string           `db:"course_id" json:"course_id"`
	FromStatus EnrollmentStatus `db:"from_status" json:"from_status"`
	ToStatus   EnrollmentStatus `db:"to_status" json:"to_status"`
	ActorID    string           `db:"actor_id" json:"actor_id"`
	Feedback   *string          `db:"feedback" json:"feedback,omitempty"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
}
