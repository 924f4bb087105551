package variables

import (
	"context"

	"github.com/google/uuid"
)

// Aggregate functions.
const (
	AggSum   = "sum"
	AggAvg   = "avg"
	AggCount = "count"
	AggMin   = "min"
	AggMax   = "max"
	AggLast  = "last"
	AggFirst = "first"
)

type VariableRepository interface {
	GetByID(ctx context.Context, id, orgID uuid.UUID) (*Variable, error)
	GetByKey(ctx context.Context, orgID uuid.UUID, key string) (*Variable, error)
	ListByKeys(ctx context.Context, orgID uuid.UUID, keys []string) ([]*Variable, error)
}

// Filter is one equality predicate of an aggregate query. Column is always
// allow-list validated; a non-empty Path selects one level into a jsonb
// column instead of comparing the column itself.
type Filter struct {
	Column string
	Path   string
	Value  interface{}
}

// AggregateQuery is a fully validated aggregation request. Instances are
// built by BuildAggregateQuery; every identifier in it has passed the
// source allow-list.
type AggregateQuery struct {
	Source          Source
	Function        string
	Field           string
	OrgID           uuid.UUID
	PatientID       uuid.UUID
	TimeWindowHours int
	Filters         []Filter
	// NumberResult selects the cast applied to first/last row values.
	NumberResult bool
}

// ClinicalStore executes validated aggregate and lookup queries against the
// clinical source tables.
type ClinicalStore interface {
	Aggregate(ctx context.Context, q AggregateQuery) (interface{}, error)
	Lookup(ctx context.Context, table, keyColumn, valueColumn string, orgID, patientID uuid.UUID) (interface{}, error)
}
