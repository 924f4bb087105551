package rules

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carepath/ruleengine/internal/domain/directory"
)

// Assignment strategy names accepted in action config.
const (
	StrategyPool             = "pool"
	StrategyUser             = "user"
	StrategyPatient          = "patient"
	StrategyRole             = "role"
	StrategyRoundRobin       = "round_robin"
	StrategyWorkloadBalanced = "workload_balanced"
)

// Assignment holds the resolved assignee fields for a dispatched task. At
// most one field is set; all nil means unassigned.
type Assignment struct {
	UserID    *uuid.UUID
	PoolID    *uuid.UUID
	PatientID *uuid.UUID
}

type AssignmentResolver struct {
	directory directory.DirectoryRepository
	log       zerolog.Logger
}

func NewAssignmentResolver(d directory.DirectoryRepository, log zerolog.Logger) *AssignmentResolver {
	return &AssignmentResolver{directory: d, log: log}
}

// Resolve picks the assignee for a task per the configured strategy. An
// unknown strategy logs a warning and returns an empty assignment; a
// strategy that finds no candidate also returns empty. Store failures
// propagate so the action can be recorded as failed.
func (r *AssignmentResolver) Resolve(ctx context.Context, strategy string, target map[string]interface{}, orgID uuid.UUID) (Assignment, error) {
	switch strategy {
	case StrategyPool:
		id, err := targetUUID(target, "pool_id", "poolId")
		if err != nil {
			return Assignment{}, err
		}
		return Assignment{PoolID: id}, nil

	case StrategyUser:
		id, err := targetUUID(target, "user_id", "userId")
		if err != nil {
			return Assignment{}, err
		}
		return Assignment{UserID: id}, nil

	case StrategyPatient:
		id, err := targetUUID(target, "patient_id", "patientId")
		if err != nil {
			return Assignment{}, err
		}
		return Assignment{PatientID: id}, nil

	case StrategyRole:
		role, _ := target["role"].(string)
		if role == "" {
			return Assignment{}, fmt.Errorf("role strategy requires a role")
		}
		user, err := r.directory.FirstUserByRole(ctx, orgID, role)
		if err != nil {
			return Assignment{}, fmt.Errorf("find user by role: %w", err)
		}
		return userAssignment(user), nil

	case StrategyRoundRobin:
		poolID, err := targetUUID(target, "pool_id", "poolId")
		if err != nil {
			return Assignment{}, err
		}
		if poolID == nil {
			return Assignment{}, fmt.Errorf("round_robin strategy requires a pool_id")
		}
		user, err := r.directory.NextRoundRobinUser(ctx, *poolID)
		if err != nil {
			return Assignment{}, fmt.Errorf("find round-robin user: %w", err)
		}
		return userAssignment(user), nil

	case StrategyWorkloadBalanced:
		poolID, err := targetUUID(target, "pool_id", "poolId")
		if err != nil {
			return Assignment{}, err
		}
		if poolID == nil {
			return Assignment{}, fmt.Errorf("workload_balanced strategy requires a pool_id")
		}
		user, err := r.directory.LeastBusyUser(ctx, *poolID)
		if err != nil {
			return Assignment{}, fmt.Errorf("find least busy user: %w", err)
		}
		return userAssignment(user), nil

	default:
		r.log.Warn().Str("strategy", strategy).Msg("unknown assignment strategy, leaving task unassigned")
		return Assignment{}, nil
	}
}

func userAssignment(u *directory.User) Assignment {
	if u == nil {
		return Assignment{}
	}
	id := u.ID
	return Assignment{UserID: &id}
}

// targetUUID reads the first present key from the target config, accepting
// both snake_case and camelCase spellings.
func targetUUID(target map[string]interface{}, keys ...string) (*uuid.UUID, error) {
	for _, key := range keys {
		raw, ok := target[key]
		if !ok || raw == nil {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string", key)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", key, err)
		}
		return &id, nil
	}
	return nil, nil
}
