package alerts

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

var validSeverities = map[string]bool{
	"info":     true,
	"low":      true,
	"medium":   true,
	"high":     true,
	"warning":  true,
	"critical": true,
}

type Service struct {
	alerts AlertRepository
}

func NewService(alerts AlertRepository) *Service {
	return &Service{alerts: alerts}
}

func (s *Service) CreateAlert(ctx context.Context, a *Alert) error {
	if a.OrgID == uuid.Nil {
		return fmt.Errorf("org_id is required")
	}
	if a.Message == "" {
		return fmt.Errorf("message is required")
	}
	if a.Severity == "" {
		a.Severity = "info"
	}
	if !validSeverities[a.Severity] {
		return fmt.Errorf("invalid severity: %s", a.Severity)
	}
	if len(a.DisplayOn) == 0 {
		a.DisplayOn = []string{"patient_chart"}
	}
	return s.alerts.Create(ctx, a)
}

func (s *Service) GetAlert(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return s.alerts.GetByID(ctx, id)
}

func (s *Service) ListAlertsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Alert, int, error) {
	return s.alerts.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) AcknowledgeAlert(ctx context.Context, id, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	return s.alerts.Acknowledge(ctx, id, userID)
}
