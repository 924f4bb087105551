package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carepath/ruleengine/internal/domain/alerts"
	"github.com/carepath/ruleengine/internal/domain/task"
)

// DefaultTaskDueHours is applied when a task_assignment action config does
// not set due_in_hours.
const DefaultTaskDueHours = 24

type TaskCreator interface {
	CreateTask(ctx context.Context, t *task.Task) error
}

type AlertCreator interface {
	CreateAlert(ctx context.Context, a *alerts.Alert) error
}

// Notifier delivers reminder and notification payloads. Delivery transport
// is an external concern; the engine only hands off.
type Notifier interface {
	Notify(ctx context.Context, orgID uuid.UUID, recipients []string, subject, message string) error
}

// LogNotifier records notification hand-offs without delivering anything.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, orgID uuid.UUID, recipients []string, subject, _ string) error {
	n.Log.Info().
		Str("org_id", orgID.String()).
		Strs("recipients", recipients).
		Str("subject", subject).
		Msg("notification handed off")
	return nil
}

// Dispatcher executes a matched rule's configured actions. Each handler
// returns a result payload for the audit trail; handler errors are isolated
// per rule by the engine.
type Dispatcher struct {
	tasks    TaskCreator
	alerts   AlertCreator
	assigner *AssignmentResolver
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

func NewDispatcher(tasks TaskCreator, alertStore AlertCreator, assigner *AssignmentResolver, notifier Notifier, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		tasks:    tasks,
		alerts:   alertStore,
		assigner: assigner,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Execute dispatches on the rule type. An unknown rule type yields a
// non-fatal failure result, not an error.
func (d *Dispatcher) Execute(ctx context.Context, rule *Rule, ec *EvaluationContext, orgID uuid.UUID, userID, patientID *uuid.UUID) (map[string]interface{}, error) {
	var actions map[string]interface{}
	if len(rule.Actions) > 0 {
		if err := json.Unmarshal(rule.Actions, &actions); err != nil {
			return nil, fmt.Errorf("malformed actions config: %w", err)
		}
	}

	switch rule.RuleType {
	case RuleTypeTaskAssignment:
		return d.executeTaskAssignment(ctx, rule, actions, ec, orgID, userID, patientID)
	case RuleTypeAlert:
		return d.executeAlert(ctx, rule, actions, ec, orgID, userID, patientID)
	case RuleTypeCDSHook:
		return d.executeCDSHook(actions, ec)
	case RuleTypeMedicationAssignment:
		return d.executeMedicationAssignment(ctx, actions, ec, orgID)
	case RuleTypeReminder:
		return d.executeHandoff(ctx, RuleTypeReminder, actions, ec, orgID)
	case RuleTypeNotification:
		return d.executeHandoff(ctx, RuleTypeNotification, actions, ec, orgID)
	case RuleTypeWorkflowAutomation:
		return d.executeHandoff(ctx, RuleTypeWorkflowAutomation, actions, ec, orgID)
	default:
		d.log.Warn().Str("rule_type", rule.RuleType).Msg("unknown rule type")
		return map[string]interface{}{"success": false, "error": "Unknown rule type"}, nil
	}
}

func (d *Dispatcher) executeTaskAssignment(ctx context.Context, rule *Rule, actions map[string]interface{}, ec *EvaluationContext, orgID uuid.UUID, userID, patientID *uuid.UUID) (map[string]interface{}, error) {
	cfg, ok := actions["task"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("task configuration is required for task_assignment rules")
	}

	dueInHours := DefaultTaskDueHours
	if h, ok := toFloat(cfg["due_in_hours"]); ok && h > 0 {
		dueInHours = int(h)
	}
	dueDate := d.now().Add(time.Duration(dueInHours) * time.Hour)

	t := &task.Task{
		OrgID:            orgID,
		Description:      ReplaceTokens(stringOr(cfg["description"], ""), ec),
		Priority:         stringOr(cfg["priority"], ""),
		Status:           stringOr(cfg["status"], ""),
		Labels:           stringSlice(cfg["labels"]),
		DueDate:          &dueDate,
		AssignedByUserID: userID,
	}
	if c := stringOr(cfg["category"], ""); c != "" {
		t.Category = &c
	}
	if n := stringOr(cfg["notes"], ""); n != "" {
		notes := ReplaceTokens(n, ec)
		t.Notes = &notes
	}
	t.PatientID = patientID
	if t.PatientID == nil {
		if pid, err := eventUUID(ec, "patientId", "patient_id"); err == nil {
			t.PatientID = pid
		}
	}

	if assignCfg, ok := cfg["assignment"].(map[string]interface{}); ok {
		strategy, _ := assignCfg["strategy"].(string)
		assignment, err := d.assigner.Resolve(ctx, strategy, assignCfg, orgID)
		if err != nil {
			return nil, fmt.Errorf("resolve assignment: %w", err)
		}
		t.AssignedToUserID = assignment.UserID
		t.AssignedToPoolID = assignment.PoolID
		t.AssignedToPatientID = assignment.PatientID
	}

	if err := d.tasks.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	d.log.Info().Str("task_id", t.ID.String()).Str("rule", rule.Name).Msg("task created")

	return map[string]interface{}{
		"success":     true,
		"action_type": RuleTypeTaskAssignment,
		"task_id":     t.ID.String(),
		"task":        t,
	}, nil
}

func (d *Dispatcher) executeAlert(ctx context.Context, rule *Rule, actions map[string]interface{}, ec *EvaluationContext, orgID uuid.UUID, userID, patientID *uuid.UUID) (map[string]interface{}, error) {
	cfg, ok := actions["alert"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("alert configuration is required for alert rules")
	}

	ruleID := rule.ID
	a := &alerts.Alert{
		OrgID:                  orgID,
		RuleID:                 &ruleID,
		PatientID:              patientID,
		Severity:               stringOr(cfg["severity"], "medium"),
		Title:                  ReplaceTokens(stringOr(cfg["title"], ""), ec),
		Message:                ReplaceTokens(stringOr(cfg["message"], ""), ec),
		DisplayOn:              stringSlice(cfg["display_on"]),
		RequiresAcknowledgment: boolOr(cfg["requires_acknowledgment"], false),
		CreatedByUserID:        userID,
	}
	if h, ok := toFloat(cfg["auto_dismiss_hours"]); ok {
		hours := int(h)
		a.AutoDismissHours = &hours
	}

	if err := d.alerts.CreateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}

	result := map[string]interface{}{
		"success":     true,
		"action_type": RuleTypeAlert,
		"alert_id":    a.ID.String(),
		"alert":       a,
	}

	if notify := stringSlice(cfg["notify_users"]); len(notify) > 0 {
		if err := d.notifier.Notify(ctx, orgID, notify, a.Title, a.Message); err != nil {
			d.log.Error().Err(err).Msg("notify alert recipients")
		} else {
			result["notified_users"] = notify
		}
	}
	return result, nil
}

func (d *Dispatcher) executeCDSHook(actions map[string]interface{}, ec *EvaluationContext) (map[string]interface{}, error) {
	cfg, ok := actions["cds"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("cds configuration is required for cds_hook rules")
	}

	rawCards, _ := cfg["cards"].([]interface{})
	cards := make([]map[string]interface{}, 0, len(rawCards))
	for _, raw := range rawCards {
		card, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		suggestions, _ := card["suggestions"].([]interface{})
		if suggestions == nil {
			suggestions = []interface{}{}
		}
		cards = append(cards, map[string]interface{}{
			"summary":     ReplaceTokens(stringOr(card["summary"], ""), ec),
			"indicator":   stringOr(card["indicator"], "info"),
			"source":      card["source"],
			"suggestions": suggestions,
		})
	}

	return map[string]interface{}{
		"success":     true,
		"action_type": RuleTypeCDSHook,
		"hook_type":   cfg["hook_type"],
		"cards":       cards,
	}, nil
}

func (d *Dispatcher) executeMedicationAssignment(ctx context.Context, actions map[string]interface{}, ec *EvaluationContext, orgID uuid.UUID) (map[string]interface{}, error) {
	cfg, ok := actions["medication"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("medication configuration is required for medication_assignment rules")
	}

	requiresApproval := true
	if b, ok := cfg["requires_approval"].(bool); ok {
		requiresApproval = b
	}

	rawMeds, _ := cfg["medications"].([]interface{})
	suggestions := make([]map[string]interface{}, 0, len(rawMeds))
	for _, raw := range rawMeds {
		med, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		suggestions = append(suggestions, map[string]interface{}{
			"code":              med["code"],
			"display":           med["display"],
			"dosage":            ReplaceTokens(stringOr(med["dosage"], ""), ec),
			"route":             med["route"],
			"reason":            ReplaceTokens(stringOr(med["reason"], ""), ec),
			"requires_approval": requiresApproval,
		})
	}

	if boolOr(cfg["notify_provider"], false) {
		if err := d.notifier.Notify(ctx, orgID, stringSlice(cfg["providers"]), "Medication suggestion", ""); err != nil {
			d.log.Error().Err(err).Msg("notify provider")
		}
	}

	return map[string]interface{}{
		"success":         true,
		"action_type":     RuleTypeMedicationAssignment,
		"suggestion_type": cfg["suggestion_type"],
		"medications":     suggestions,
	}, nil
}

// executeHandoff covers the rule types whose real work is done by an
// external collaborator: the engine records the hand-off and, when
// recipients are configured, forwards through the notifier.
func (d *Dispatcher) executeHandoff(ctx context.Context, actionType string, actions map[string]interface{}, ec *EvaluationContext, orgID uuid.UUID) (map[string]interface{}, error) {
	cfg, _ := actions[actionType].(map[string]interface{})
	if recipients := stringSlice(cfg["recipients"]); len(recipients) > 0 {
		subject := ReplaceTokens(stringOr(cfg["subject"], ""), ec)
		message := ReplaceTokens(stringOr(cfg["message"], ""), ec)
		if err := d.notifier.Notify(ctx, orgID, recipients, subject, message); err != nil {
			return nil, fmt.Errorf("notify: %w", err)
		}
	}
	return map[string]interface{}{"success": true, "action_type": actionType}, nil
}

var tokenRE = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// ReplaceTokens substitutes {{dotted.path}} tokens with values looked up in
// the evaluation context. Unresolved tokens are left verbatim so authoring
// mistakes stay visible in the rendered text.
func ReplaceTokens(template string, ec *EvaluationContext) string {
	if template == "" {
		return template
	}
	return tokenRE.ReplaceAllStringFunc(template, func(match string) string {
		path := strings.TrimSpace(tokenRE.FindStringSubmatch(match)[1])
		value, ok := ec.Lookup(path)
		if !ok || value == nil {
			return match
		}
		return formatTokenValue(value)
	})
}

func formatTokenValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(v)
	}
}

func eventUUID(ec *EvaluationContext, keys ...string) (*uuid.UUID, error) {
	for _, key := range keys {
		raw, ok := ec.Event[key]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		return &id, nil
	}
	return nil, fmt.Errorf("no patient id in event")
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func boolOr(v interface{}, fallback bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return fallback
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
