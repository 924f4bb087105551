package task

import (
	"context"

	"github.com/google/uuid"
)

type TaskRepository interface {
	Create(ctx context.Context, t *Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*Task, error)
	Update(ctx context.Context, t *Task) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Task, int, error)
	ListByAssignee(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Task, int, error)
}
