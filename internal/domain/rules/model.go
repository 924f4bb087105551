package rules

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Rule types select the action handler a rule dispatches to.
const (
	RuleTypeTaskAssignment       = "task_assignment"
	RuleTypeAlert                = "alert"
	RuleTypeCDSHook              = "cds_hook"
	RuleTypeMedicationAssignment = "medication_assignment"
	RuleTypeReminder             = "reminder"
	RuleTypeNotification         = "notification"
	RuleTypeWorkflowAutomation   = "workflow_automation"
)

// Trigger event catalog. Rules bind to exactly one of these keys.
const (
	EventPatientView          = "patient_view"
	EventLabResult            = "lab_result"
	EventVitalRecorded        = "vital_recorded"
	EventMedicationOrdered    = "medication_ordered"
	EventLabOrderCreated      = "lab_order_created"
	EventImagingOrderCreated  = "imaging_order_created"
	EventAppointmentScheduled = "appointment_scheduled"
	EventFormSubmitted        = "form_submitted"
	EventAdmission            = "admission"
	EventDischarge            = "discharge"
	EventPrescriptionCreated  = "prescription_created"
	EventLabResultReceived    = "lab_result_received"
)

var validTriggerEvents = map[string]bool{
	EventPatientView:          true,
	EventLabResult:            true,
	EventVitalRecorded:        true,
	EventMedicationOrdered:    true,
	EventLabOrderCreated:      true,
	EventImagingOrderCreated:  true,
	EventAppointmentScheduled: true,
	EventFormSubmitted:        true,
	EventAdmission:            true,
	EventDischarge:            true,
	EventPrescriptionCreated:  true,
	EventLabResultReceived:    true,
}

// ValidTriggerEvent reports whether key is in the trigger event catalog.
func ValidTriggerEvent(key string) bool { return validTriggerEvents[key] }

// Rule maps to the rule table. Rules are authored externally and read-only
// here; a rule must not change while an evaluation pass is running.
type Rule struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	OrgID               uuid.UUID       `db:"org_id" json:"org_id"`
	Name                string          `db:"name" json:"name"`
	RuleType            string          `db:"rule_type" json:"rule_type"`
	Category            *string         `db:"category" json:"category,omitempty"`
	IsActive            bool            `db:"is_active" json:"is_active"`
	Priority            int             `db:"priority" json:"priority"`
	TriggerEvent        string          `db:"trigger_event" json:"trigger_event"`
	TriggerTiming       *string         `db:"trigger_timing" json:"trigger_timing,omitempty"`
	Conditions          json.RawMessage `db:"conditions" json:"conditions,omitempty"`
	ConditionsJSONLogic json.RawMessage `db:"conditions_json_logic" json:"conditions_json_logic,omitempty"`
	UsedVariables       []string        `db:"used_variables" json:"used_variables"`
	Actions             json.RawMessage `db:"actions" json:"actions"`
	Config              json.RawMessage `db:"config" json:"config,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// EffectiveConditions prefers the normalized logic tree when both condition
// columns are populated.
func (r *Rule) EffectiveConditions() json.RawMessage {
	if len(r.ConditionsJSONLogic) > 0 && string(r.ConditionsJSONLogic) != "null" {
		return r.ConditionsJSONLogic
	}
	return r.Conditions
}

// ExecutionRecord maps to the rule_execution table, one append-only row per
// rule per evaluation attempt.
type ExecutionRecord struct {
	ID                uuid.UUID              `db:"id" json:"id"`
	RuleID            uuid.UUID              `db:"rule_id" json:"rule_id"`
	TriggerEvent      string                 `db:"trigger_event" json:"trigger_event"`
	TriggerData       map[string]interface{} `db:"trigger_data" json:"trigger_data,omitempty"`
	PatientID         *uuid.UUID             `db:"patient_id" json:"patient_id,omitempty"`
	UserID            *uuid.UUID             `db:"user_id" json:"user_id,omitempty"`
	ComputedVariables map[string]interface{} `db:"computed_variables" json:"computed_variables,omitempty"`
	ConditionsMet     bool                   `db:"conditions_met" json:"conditions_met"`
	ActionsPerformed  []string               `db:"actions_performed" json:"actions_performed,omitempty"`
	ActionsSuccess    bool                   `db:"actions_success" json:"actions_success"`
	ResultData        map[string]interface{} `db:"result_data" json:"result_data,omitempty"`
	ErrorMessage      *string                `db:"error_message" json:"error_message,omitempty"`
	ExecutionTimeMs   int64                  `db:"execution_time_ms" json:"execution_time_ms"`
	ExecutedAt        time.Time              `db:"executed_at" json:"executed_at"`
}

// ExecutionResult is the per-rule outcome returned to the caller of
// EvaluateRules.
type ExecutionResult struct {
	RuleID        uuid.UUID              `json:"rule_id"`
	RuleName      string                 `json:"rule_name"`
	ConditionsMet bool                   `json:"conditions_met"`
	ActionsResult map[string]interface{} `json:"actions_result,omitempty"`
}

// EvaluationContext is the transient data bag one rule's conditions and
// action templates are resolved against. Built fresh per rule, never stored.
type EvaluationContext struct {
	Patient map[string]interface{} `json:"patient"`
	Event   map[string]interface{} `json:"event"`
	Var     map[string]interface{} `json:"var"`
	Context map[string]interface{} `json:"context"`
}

// Lookup resolves a dotted path (e.g. "var.bp_systolic_avg_24h",
// "event.value", "context.user_role") into the context. The second return
// is false when any path segment is absent.
func (c *EvaluationContext) Lookup(path string) (interface{}, bool) {
	root := map[string]interface{}{
		"patient": c.Patient,
		"event":   c.Event,
		"var":     c.Var,
		"context": c.Context,
	}
	var current interface{} = root
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
