package directory

import (
	"context"

	"github.com/google/uuid"
)

// DirectoryRepository answers the candidate-selection queries behind task
// assignment strategies. Each method returns (nil, nil) when no candidate
// qualifies.
type DirectoryRepository interface {
	// FirstUserByRole returns the first active user holding role in the
	// org, ordered by account creation time then id so the pick is stable.
	FirstUserByRole(ctx context.Context, orgID uuid.UUID, role string) (*User, error)

	// NextRoundRobinUser returns the available pool member whose most
	// recent task assignment is oldest. Members with no prior assignment
	// win first; ties among them break by user id ascending.
	NextRoundRobinUser(ctx context.Context, poolID uuid.UUID) (*User, error)

	// LeastBusyUser returns the available pool member with the fewest
	// tasks in ready or in-progress status (soft-deleted tasks excluded),
	// ties broken by earliest account creation.
	LeastBusyUser(ctx context.Context, poolID uuid.UUID) (*User, error)
}
