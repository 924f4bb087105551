package task

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

type taskRepoPG struct{ pool *pgxpool.Pool }

func NewTaskRepoPG(pool *pgxpool.Pool) TaskRepository { return &taskRepoPG{pool: pool} }

func (r *taskRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const taskCols = `id, org_id, description, status, priority, intent, task_type, category, labels,
	notes, due_date, patient_id, order_id, appointment_id, assigned_by_user_id,
	assigned_to_user_id, assigned_to_pool_id, assigned_to_patient_id, deleted_at, created_at, updated_at`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.OrgID, &t.Description, &t.Status, &t.Priority, &t.Intent, &t.TaskType,
		&t.Category, &t.Labels, &t.Notes, &t.DueDate, &t.PatientID, &t.OrderID, &t.AppointmentID,
		&t.AssignedByUserID, &t.AssignedToUserID, &t.AssignedToPoolID, &t.AssignedToPatientID,
		&t.DeletedAt, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *taskRepoPG) Create(ctx context.Context, t *Task) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO task (id, org_id, description, status, priority, intent, task_type, category,
			labels, notes, due_date, patient_id, order_id, appointment_id, assigned_by_user_id,
			assigned_to_user_id, assigned_to_pool_id, assigned_to_patient_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		t.ID, t.OrgID, t.Description, t.Status, t.Priority, t.Intent, t.TaskType, t.Category,
		t.Labels, t.Notes, t.DueDate, t.PatientID, t.OrderID, t.AppointmentID, t.AssignedByUserID,
		t.AssignedToUserID, t.AssignedToPoolID, t.AssignedToPatientID)
	return err
}

func (r *taskRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	return scanTask(r.conn(ctx).QueryRow(ctx,
		`SELECT `+taskCols+` FROM task WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *taskRepoPG) Update(ctx context.Context, t *Task) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE task SET description=$2, status=$3, priority=$4, category=$5, labels=$6, notes=$7,
			due_date=$8, assigned_to_user_id=$9, assigned_to_pool_id=$10, assigned_to_patient_id=$11,
			updated_at=NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		t.ID, t.Description, t.Status, t.Priority, t.Category, t.Labels, t.Notes,
		t.DueDate, t.AssignedToUserID, t.AssignedToPoolID, t.AssignedToPatientID)
	return err
}

func (r *taskRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Task, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM task WHERE patient_id = $1 AND deleted_at IS NULL`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+taskCols+` FROM task WHERE patient_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *taskRepoPG) ListByAssignee(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Task, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM task WHERE assigned_to_user_id = $1 AND deleted_at IS NULL`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+taskCols+` FROM task WHERE assigned_to_user_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}
