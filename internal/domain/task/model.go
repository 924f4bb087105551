package task

import (
	"time"

	"github.com/google/uuid"
)

// Task maps to the task table. Tasks are created by task_assignment rules
// and worked by clinical staff; assignment may target a user, a pool, or
// the patient themselves.
type Task struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	OrgID               uuid.UUID  `db:"org_id" json:"org_id"`
	Description         string     `db:"description" json:"description"`
	Status              string     `db:"status" json:"status"`
	Priority            string     `db:"priority" json:"priority"`
	Intent              string     `db:"intent" json:"intent"`
	TaskType            string     `db:"task_type" json:"task_type"`
	Category            *string    `db:"category" json:"category,omitempty"`
	Labels              []string   `db:"labels" json:"labels,omitempty"`
	Notes               *string    `db:"notes" json:"notes,omitempty"`
	DueDate             *time.Time `db:"due_date" json:"due_date,omitempty"`
	PatientID           *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	OrderID             *uuid.UUID `db:"order_id" json:"order_id,omitempty"`
	AppointmentID       *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	AssignedByUserID    *uuid.UUID `db:"assigned_by_user_id" json:"assigned_by_user_id,omitempty"`
	AssignedToUserID    *uuid.UUID `db:"assigned_to_user_id" json:"assigned_to_user_id,omitempty"`
	AssignedToPoolID    *uuid.UUID `db:"assigned_to_pool_id" json:"assigned_to_pool_id,omitempty"`
	AssignedToPatientID *uuid.UUID `db:"assigned_to_patient_id" json:"assigned_to_patient_id,omitempty"`
	DeletedAt           *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}
