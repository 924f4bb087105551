package directory

import (
	"time"

	"github.com/google/uuid"
)

// User maps to the app_user table.
type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	OrgID     uuid.UUID `db:"org_id" json:"org_id"`
	Name      string    `db:"name" json:"name"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Role      string    `db:"role" json:"role"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TaskPool maps to the task_pool table.
type TaskPool struct {
	ID        uuid.UUID `db:"id" json:"id"`
	OrgID     uuid.UUID `db:"org_id" json:"org_id"`
	Name      string    `db:"name" json:"name"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PoolMember maps to the task_pool_member table.
type PoolMember struct {
	PoolID      uuid.UUID `db:"pool_id" json:"pool_id"`
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	IsAvailable bool      `db:"is_available" json:"is_available"`
	JoinedAt    time.Time `db:"joined_at" json:"joined_at"`
}
