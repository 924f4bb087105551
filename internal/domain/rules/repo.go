package rules

import (
	"context"

	"github.com/google/uuid"
)

type RuleRepository interface {
	// ListActiveRules returns the active rules bound to (orgID, triggerEvent)
	// ordered by priority descending, then creation time ascending.
	ListActiveRules(ctx context.Context, orgID uuid.UUID, triggerEvent string) ([]*Rule, error)
	GetByID(ctx context.Context, id, orgID uuid.UUID) (*Rule, error)
}

// ExecutionFilter narrows the audit-trail listing. Zero-value fields are
// ignored.
type ExecutionFilter struct {
	RuleID    uuid.UUID
	PatientID uuid.UUID
}

type ExecutionRepository interface {
	Insert(ctx context.Context, rec *ExecutionRecord) error
	List(ctx context.Context, filter ExecutionFilter, limit, offset int) ([]*ExecutionRecord, int, error)
}
