package task

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	tasks TaskRepository
}

func NewService(tasks TaskRepository) *Service {
	return &Service{tasks: tasks}
}

var validTaskStatuses = map[string]bool{
	"draft":       true,
	"ready":       true,
	"in-progress": true,
	"on-hold":     true,
	"completed":   true,
	"cancelled":   true,
	"failed":      true,
}

var validTaskPriorities = map[string]bool{
	"routine": true,
	"urgent":  true,
	"asap":    true,
	"stat":    true,
}

var validTaskIntents = map[string]bool{
	"proposal": true,
	"plan":     true,
	"order":    true,
}

var validTaskTypes = map[string]bool{
	"internal": true,
	"patient":  true,
	"external": true,
}

func (s *Service) CreateTask(ctx context.Context, t *Task) error {
	if t.OrgID == uuid.Nil {
		return fmt.Errorf("org_id is required")
	}
	if t.Description == "" {
		return fmt.Errorf("description is required")
	}
	if t.Status == "" {
		t.Status = "ready"
	}
	if !validTaskStatuses[t.Status] {
		return fmt.Errorf("invalid status: %s", t.Status)
	}
	if t.Priority == "" {
		t.Priority = "routine"
	}
	if !validTaskPriorities[t.Priority] {
		return fmt.Errorf("invalid priority: %s", t.Priority)
	}
	if t.Intent == "" {
		t.Intent = "order"
	}
	if !validTaskIntents[t.Intent] {
		return fmt.Errorf("invalid intent: %s", t.Intent)
	}
	if t.TaskType == "" {
		t.TaskType = "internal"
	}
	if !validTaskTypes[t.TaskType] {
		return fmt.Errorf("invalid task_type: %s", t.TaskType)
	}
	return s.tasks.Create(ctx, t)
}

func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	return s.tasks.GetByID(ctx, id)
}

func (s *Service) UpdateTask(ctx context.Context, t *Task) error {
	if t.Status != "" && !validTaskStatuses[t.Status] {
		return fmt.Errorf("invalid status: %s", t.Status)
	}
	if t.Priority != "" && !validTaskPriorities[t.Priority] {
		return fmt.Errorf("invalid priority: %s", t.Priority)
	}
	return s.tasks.Update(ctx, t)
}

func (s *Service) ListTasksByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Task, int, error) {
	return s.tasks.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListTasksByAssignee(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Task, int, error) {
	return s.tasks.ListByAssignee(ctx, userID, limit, offset)
}
