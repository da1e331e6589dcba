package models

import "time"

// NotificationSeverity classifies notification entries.
type NotificationSeverity string

// Possible severities.
const (
	SeverityInfo    NotificationSeverity = "INFO"
	SeveritySuccess NotificationSeverity = "SUCCESS"
	SeverityWarning NotificationSeverity = "WARNING"
	SeverityError   NotificationSeverity = "ERROR"
)

// RecipientAdmin is the role tag addressing the administrator feed.
const RecipientAdmin = "admin"

// Notification is a user-facing message derived from a ledger transition.
// Recipient is either a role tag or a user email.
type Notification struct {
	ID        string               `db:"id" json:"id"`
	Recipient string               `db:"recipient" json:"recipient"`
	Title     string               `db:"title" json:"title"`
	Message   string               `db:"message" json:"message"`
	Severity  NotificationSeverity `db:"severity" json:"severity"`
	Read      bool                 `db:"read" json:"read"`
	CreatedAt time.Time            `db:"created_at" json:"created_at"`
}
