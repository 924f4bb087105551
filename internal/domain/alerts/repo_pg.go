package alerts

import (
	"context"

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

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewAlertRepoPG(pool *pgxpool.Pool) AlertRepository { return &alertRepoPG{pool: pool} }

func (r *alertRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const alertCols = `id, org_id, rule_id, patient_id, severity, title, message, display_on,
	requires_acknowledgment, auto_dismiss_hours, acknowledged_by_user_id, acknowledged_at,
	created_by_user_id, created_at, updated_at`

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.OrgID, &a.RuleID, &a.PatientID, &a.Severity, &a.Title, &a.Message,
		&a.DisplayOn, &a.RequiresAcknowledgment, &a.AutoDismissHours, &a.AcknowledgedByUserID,
		&a.AcknowledgedAt, &a.CreatedByUserID, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *alertRepoPG) Create(ctx context.Context, a *Alert) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO alert (id, org_id, rule_id, patient_id, severity, title, message, display_on,
			requires_acknowledgment, auto_dismiss_hours, created_by_user_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.OrgID, a.RuleID, a.PatientID, a.Severity, a.Title, a.Message, a.DisplayOn,
		a.RequiresAcknowledgment, a.AutoDismissHours, a.CreatedByUserID)
	return err
}

func (r *alertRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return scanAlert(r.conn(ctx).QueryRow(ctx,
		`SELECT `+alertCols+` FROM alert WHERE id = $1`, id))
}

func (r *alertRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Alert, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM alert WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+alertCols+` FROM alert WHERE patient_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *alertRepoPG) Acknowledge(ctx context.Context, id, userID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE alert SET acknowledged_by_user_id = $2, acknowledged_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND acknowledged_at IS NULL`, id, userID)
	return err
}
