package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carepath/ruleengine/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type directoryRepoPG struct{ pool *pgxpool.Pool }

func NewDirectoryRepoPG(pool *pgxpool.Pool) DirectoryRepository { return &directoryRepoPG{pool: pool} }

func (r *directoryRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const userCols = `u.id, u.org_id, u.name, u.email, u.role, u.is_active, u.created_at, u.updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.OrgID, &u.Name, &u.Email, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// firstUserByRoleQuery picks the first active match by account creation
// time, id breaking ties, so repeated role lookups are stable.
const firstUserByRoleQuery = `
	SELECT ` + userCols + `
	FROM app_user u
	WHERE u.org_id = $1 AND u.role = $2 AND u.is_active = TRUE
	ORDER BY u.created_at ASC, u.id ASC
	LIMIT 1`

// nextRoundRobinQuery picks the available pool member whose most recent
// task assignment is oldest. Members who never received a task sort first
// (NULLS FIRST); among them the id breaks the tie so the pick does not
// depend on store order.
const nextRoundRobinQuery = `
	SELECT ` + userCols + `
	FROM app_user u
	INNER JOIN task_pool_member tpm ON tpm.user_id = u.id
	WHERE tpm.pool_id = $1 AND tpm.is_available = TRUE AND u.is_active = TRUE
	ORDER BY (
		SELECT MAX(t.created_at)
		FROM task t
		WHERE t.assigned_to_user_id = u.id
	) ASC NULLS FIRST, u.id ASC
	LIMIT 1`

// leastBusyQuery counts open tasks only (ready or in-progress, not
// soft-deleted) and picks the available member with the strictly fewest.
const leastBusyQuery = `
	SELECT ` + userCols + `
	FROM app_user u
	INNER JOIN task_pool_member tpm ON tpm.user_id = u.id
	LEFT JOIN task t ON t.assigned_to_user_id = u.id
		AND t.status IN ('ready', 'in-progress')
		AND t.deleted_at IS NULL
	WHERE tpm.pool_id = $1 AND tpm.is_available = TRUE AND u.is_active = TRUE
	GROUP BY u.id
	ORDER BY COUNT(t.id) ASC, u.created_at ASC, u.id ASC
	LIMIT 1`

func (r *directoryRepoPG) FirstUserByRole(ctx context.Context, orgID uuid.UUID, role string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, firstUserByRoleQuery, orgID, role))
}

func (r *directoryRepoPG) NextRoundRobinUser(ctx context.Context, poolID uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, nextRoundRobinQuery, poolID))
}

func (r *directoryRepoPG) LeastBusyUser(ctx context.Context, poolID uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, leastBusyQuery, poolID))
}
