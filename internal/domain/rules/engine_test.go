package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carepath/ruleengine/internal/domain/variables"
)

type mockRuleRepo struct {
	rules []*Rule
	err   error
}

func (m *mockRuleRepo) ListActiveRules(_ context.Context, _ uuid.UUID, _ string) ([]*Rule, error) {
	return m.rules, m.err
}
func (m *mockRuleRepo) GetByID(_ context.Context, id, _ uuid.UUID) (*Rule, error) {
	for _, r := range m.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

type mockComputer struct {
	values map[string]interface{}
	calls  int
}

func (m *mockComputer) ComputeVariables(_ context.Context, keys []string, _, _ uuid.UUID, _ *variables.Context) map[string]interface{} {
	m.calls++
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		if v, ok := m.values[k]; ok {
			out[k] = v
		} else {
			out[k] = nil
		}
	}
	return out
}

type mockExecRepo struct {
	records []*ExecutionRecord
	err     error
}

func (m *mockExecRepo) Insert(_ context.Context, rec *ExecutionRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}
func (m *mockExecRepo) List(_ context.Context, _ ExecutionFilter, _, _ int) ([]*ExecutionRecord, int, error) {
	return m.records, len(m.records), nil
}

type engineFixture struct {
	engine   *Engine
	rules    *mockRuleRepo
	computer *mockComputer
	execs    *mockExecRepo
	tasks    *mockTaskCreator
	alerts   *mockAlertCreator
}

func newEngineFixture(ruleList []*Rule, varValues map[string]interface{}) *engineFixture {
	f := &engineFixture{
		rules:    &mockRuleRepo{rules: ruleList},
		computer: &mockComputer{values: varValues},
		execs:    &mockExecRepo{},
		tasks:    &mockTaskCreator{},
		alerts:   &mockAlertCreator{},
	}
	log := zerolog.Nop()
	assigner := NewAssignmentResolver(&mockDirectory{}, log)
	dispatcher := NewDispatcher(f.tasks, f.alerts, assigner, &mockNotifier{}, log)
	dispatcher.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	f.engine = NewEngine(f.rules, f.computer, NewConditionEvaluator(log), dispatcher, NewRecorder(f.execs, log), log)
	return f
}

func TestEvaluateRulesHighBPScenario(t *testing.T) {
	rule := &Rule{
		ID:           uuid.New(),
		Name:         "high systolic average",
		RuleType:     RuleTypeAlert,
		TriggerEvent: EventVitalRecorded,
		UsedVariables: []string{
			"bp_systolic_avg_24h",
		},
		ConditionsJSONLogic: json.RawMessage(`{">": [{"var":"var.bp_systolic_avg_24h"}, 140]}`),
		Actions:             json.RawMessage(`{"alert": {"severity": "high", "title": "High BP", "message": "Avg {{var.bp_systolic_avg_24h}}"}}`),
	}
	// Readings 150, 145, 130 average to 141.67.
	f := newEngineFixture([]*Rule{rule}, map[string]interface{}{"bp_systolic_avg_24h": 141.67})

	patientID := uuid.New()
	results, err := f.engine.EvaluateRules(context.Background(), EventVitalRecorded,
		map[string]interface{}{"code": "85354-9"}, uuid.New(), nil, &patientID)
	if err != nil {
		t.Fatalf("EvaluateRules: %v", err)
	}
	if len(results) != 1 || !results[0].ConditionsMet {
		t.Fatalf("results = %+v, want one met rule", results)
	}
	if len(f.alerts.created) != 1 {
		t.Fatalf("expected alert dispatch, got %d alerts", len(f.alerts.created))
	}
	if f.alerts.created[0].Message != "Avg 141.67" {
		t.Errorf("alert message = %q", f.alerts.created[0].Message)
	}
	if len(f.execs.records) != 1 {
		t.Fatalf("expected 1 execution record, got %d", len(f.execs.records))
	}
	rec := f.execs.records[0]
	if !rec.ConditionsMet || !rec.ActionsSuccess {
		t.Errorf("record = %+v", rec)
	}
	if len(rec.ActionsPerformed) != 1 || rec.ActionsPerformed[0] != RuleTypeAlert {
		t.Errorf("actions_performed = %v", rec.ActionsPerformed)
	}
}

func TestEvaluateRulesConditionsNotMet(t *testing.T) {
	rule := &Rule{
		ID:                  uuid.New(),
		Name:                "never fires",
		RuleType:            RuleTypeAlert,
		UsedVariables:       []string{"bp_systolic_avg_24h"},
		ConditionsJSONLogic: json.RawMessage(`{">": [{"var":"var.bp_systolic_avg_24h"}, 140]}`),
		Actions:             json.RawMessage(`{"alert": {"title": "t", "message": "m"}}`),
	}
	f := newEngineFixture([]*Rule{rule}, map[string]interface{}{"bp_systolic_avg_24h": 120.0})

	results, err := f.engine.EvaluateRules(context.Background(), EventVitalRecorded, map[string]interface{}{}, uuid.New(), nil, nil)
	if err != nil {
		t.Fatalf("EvaluateRules: %v", err)
	}
	if len(results) != 1 || results[0].ConditionsMet {
		t.Fatalf("results = %+v, want one unmet rule", results)
	}
	if len(f.alerts.created) != 0 {
		t.Error("no action should dispatch when conditions are unmet")
	}
	if len(f.execs.records) != 1 || f.execs.records[0].ConditionsMet {
		t.Errorf("record should capture conditions_met=false: %+v", f.execs.records)
	}
}

func TestEvaluateRulesFailureIsolation(t *testing.T) {
	broken := &Rule{
		ID:       uuid.New(),
		Name:     "broken task rule",
		RuleType: RuleTypeTaskAssignment,
		Priority: 10,
		Actions:  json.RawMessage(`{}`),
	}
	healthy := &Rule{
		ID:       uuid.New(),
		Name:     "healthy alert rule",
		RuleType: RuleTypeAlert,
		Priority: 5,
		Actions:  json.RawMessage(`{"alert": {"title": "t", "message": "m"}}`),
	}
	f := newEngineFixture([]*Rule{broken, healthy}, nil)

	results, err := f.engine.EvaluateRules(context.Background(), EventLabResult, map[string]interface{}{}, uuid.New(), nil, nil)
	if err != nil {
		t.Fatalf("EvaluateRules: %v", err)
	}
	if len(results) != 1 || results[0].RuleID != healthy.ID {
		t.Fatalf("results = %+v, want only the healthy rule", results)
	}
	if len(f.execs.records) != 2 {
		t.Fatalf("both attempts must be recorded, got %d", len(f.execs.records))
	}
	failed := f.execs.records[0]
	if failed.RuleID != broken.ID || failed.ActionsSuccess || failed.ErrorMessage == nil {
		t.Errorf("failed record = %+v", failed)
	}
	if !f.execs.records[1].ActionsSuccess {
		t.Errorf("healthy record = %+v", f.execs.records[1])
	}
}

func TestEvaluateRulesCatalogFailureIsFatal(t *testing.T) {
	f := newEngineFixture(nil, nil)
	f.rules.err = fmt.Errorf("connection refused")
	if _, err := f.engine.EvaluateRules(context.Background(), EventLabResult, map[string]interface{}{}, uuid.New(), nil, nil); err == nil {
		t.Error("catalog load failure must propagate")
	}
}

func TestEvaluateRulesRecorderFailureIsIsolated(t *testing.T) {
	rule := &Rule{
		ID:       uuid.New(),
		Name:     "open rule",
		RuleType: RuleTypeAlert,
		Actions:  json.RawMessage(`{"alert": {"title": "t", "message": "m"}}`),
	}
	f := newEngineFixture([]*Rule{rule}, nil)
	f.execs.err = fmt.Errorf("insert failed")

	results, err := f.engine.EvaluateRules(context.Background(), EventLabResult, map[string]interface{}{}, uuid.New(), nil, nil)
	if err != nil {
		t.Fatalf("recording failure must not fail the pass: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("results = %+v", results)
	}
}

func TestEvaluateRulesIdempotent(t *testing.T) {
	rule := &Rule{
		ID:                  uuid.New(),
		Name:                "stable",
		RuleType:            RuleTypeAlert,
		UsedVariables:       []string{"risk"},
		ConditionsJSONLogic: json.RawMessage(`{">": [{"var":"var.risk"}, 5]}`),
		Actions:             json.RawMessage(`{"alert": {"title": "t", "message": "m"}}`),
	}
	f := newEngineFixture([]*Rule{rule}, map[string]interface{}{"risk": 7.0})

	first, err := f.engine.EvaluateRules(context.Background(), EventPatientView, map[string]interface{}{}, uuid.New(), nil, nil)
	if err != nil {
		t.Fatalf("EvaluateRules: %v", err)
	}
	second, err := f.engine.EvaluateRules(context.Background(), EventPatientView, map[string]interface{}{}, uuid.New(), nil, nil)
	if err != nil {
		t.Fatalf("EvaluateRules: %v", err)
	}
	if first[0].ConditionsMet != second[0].ConditionsMet {
		t.Error("unchanged definitions must evaluate identically")
	}
	if f.execs.records[0].ComputedVariables["risk"] != f.execs.records[1].ComputedVariables["risk"] {
		t.Error("computed variables must match across identical runs")
	}
}

func TestTestRuleDryRun(t *testing.T) {
	rule := &Rule{
		Name:                "dry run",
		RuleType:            RuleTypeAlert,
		UsedVariables:       []string{"risk"},
		ConditionsJSONLogic: json.RawMessage(`{">": [{"var":"var.risk"}, 5]}`),
		Actions:             json.RawMessage(`{"alert": {"title": "t", "message": "m"}}`),
	}
	f := newEngineFixture(nil, map[string]interface{}{"risk": 9.0})

	result := f.engine.TestRule(context.Background(), rule, map[string]interface{}{}, uuid.New(), nil)
	if !result.ConditionsMet {
		t.Error("conditions should be met")
	}
	if result.ComputedVariables["risk"] != 9.0 {
		t.Errorf("computed = %+v", result.ComputedVariables)
	}
	if len(f.alerts.created) != 0 {
		t.Error("dry run must not dispatch actions")
	}
	if len(f.execs.records) != 0 {
		t.Error("dry run must not write audit rows")
	}
}
