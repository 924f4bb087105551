package variables

import (
	"time"

	"github.com/google/uuid"
)

// Computation types.
const (
	ComputationAggregate = "aggregate"
	ComputationFormula   = "formula"
	ComputationLookup    = "lookup"
	ComputationTimeBased = "time_based"
)

// Result types.
const (
	ResultNumber  = "number"
	ResultString  = "string"
	ResultBoolean = "boolean"
)

// DefaultCacheDuration applies when a variable does not set its own TTL.
const DefaultCacheDuration = 5 * time.Minute

// Variable maps to the rule_variable table. A variable is a named, computed
// value (aggregate, formula or lookup) that rule conditions reference.
type Variable struct {
	ID                   uuid.UUID              `db:"id" json:"id"`
	OrgID                uuid.UUID              `db:"org_id" json:"org_id"`
	VariableKey          string                 `db:"variable_key" json:"variable_key"`
	Description          *string                `db:"description" json:"description,omitempty"`
	ComputationType      string                 `db:"computation_type" json:"computation_type"`
	DataSource           *string                `db:"data_source" json:"data_source,omitempty"`
	AggregateFunction    *string                `db:"aggregate_function" json:"aggregate_function,omitempty"`
	AggregateField       *string                `db:"aggregate_field" json:"aggregate_field,omitempty"`
	AggregateFilters     map[string]interface{} `db:"aggregate_filters" json:"aggregate_filters,omitempty"`
	TimeWindowHours      *int                   `db:"time_window_hours" json:"time_window_hours,omitempty"`
	Formula              *string                `db:"formula" json:"formula,omitempty"`
	LookupTable          *string                `db:"lookup_table" json:"lookup_table,omitempty"`
	LookupKey            *string                `db:"lookup_key" json:"lookup_key,omitempty"`
	LookupValue          *string                `db:"lookup_value" json:"lookup_value,omitempty"`
	ResultType           string                 `db:"result_type" json:"result_type"`
	Unit                 *string                `db:"unit" json:"unit,omitempty"`
	CacheDurationMinutes int                    `db:"cache_duration_minutes" json:"cache_duration_minutes"`
	IsActive             bool                   `db:"is_active" json:"is_active"`
	CreatedAt            time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time              `db:"updated_at" json:"updated_at"`
}

// CacheTTL returns the variable's cache duration, falling back to the default.
func (v *Variable) CacheTTL() time.Duration {
	if v.CacheDurationMinutes > 0 {
		return time.Duration(v.CacheDurationMinutes) * time.Minute
	}
	return DefaultCacheDuration
}

// Context carries the data a variable computation may draw on: the raw
// trigger payload and any values already computed during the same pass.
// It is transient and never persisted.
type Context struct {
	Event map[string]interface{}
	Vars  map[string]interface{}
}

// NewContext returns a Context with an empty variable map.
func NewContext(event map[string]interface{}) *Context {
	return &Context{Event: event, Vars: make(map[string]interface{})}
}

// TestResult is what rule authors get back from the variable debug endpoint.
type TestResult struct {
	Success         bool        `json:"success"`
	Value           interface{} `json:"value,omitempty"`
	Error           string      `json:"error,omitempty"`
	ResultType      string      `json:"result_type,omitempty"`
	Unit            *string     `json:"unit,omitempty"`
	ExecutionTimeMs int64       `json:"execution_time_ms"`
}
