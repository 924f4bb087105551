package alerts

import (
	"time"

	"github.com/google/uuid"
)

// Alert maps to the alert table. Alerts are raised by alert-type rules and
// surfaced on the displays listed in DisplayOn until dismissed or expired.
type Alert struct {
	ID                     uuid.UUID  `db:"id" json:"id"`
	OrgID                  uuid.UUID  `db:"org_id" json:"org_id"`
	RuleID                 *uuid.UUID `db:"rule_id" json:"rule_id,omitempty"`
	PatientID              *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	Severity               string     `db:"severity" json:"severity"`
	Title                  string     `db:"title" json:"title"`
	Message                string     `db:"message" json:"message"`
	DisplayOn              []string   `db:"display_on" json:"display_on"`
	RequiresAcknowledgment bool       `db:"requires_acknowledgment" json:"requires_acknowledgment"`
	AutoDismissHours       *int       `db:"auto_dismiss_hours" json:"auto_dismiss_hours,omitempty"`
	AcknowledgedByUserID   *uuid.UUID `db:"acknowledged_by_user_id" json:"acknowledged_by_user_id,omitempty"`
	AcknowledgedAt         *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	CreatedByUserID        *uuid.UUID `db:"created_by_user_id" json:"created_by_user_id,omitempty"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at"`
}
