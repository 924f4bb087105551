package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carepath/ruleengine/internal/domain/variables"
)

// VariableComputer resolves the variable keys a rule references. The
// production implementation is variables.Resolver.
type VariableComputer interface {
	ComputeVariables(ctx context.Context, keys []string, patientID, orgID uuid.UUID, ec *variables.Context) map[string]interface{}
}

// Engine runs the full evaluation pass for one event: load the ordered rule
// catalog, compute variables, evaluate conditions, dispatch actions and
// record every attempt. Rules are evaluated sequentially in priority order;
// a failing rule is recorded and skipped, never aborting the pass.
type Engine struct {
	rules      RuleRepository
	vars       VariableComputer
	conditions *ConditionEvaluator
	dispatcher *Dispatcher
	recorder   *Recorder
	log        zerolog.Logger
	now        func() time.Time
}

func NewEngine(rules RuleRepository, vars VariableComputer, conditions *ConditionEvaluator, dispatcher *Dispatcher, recorder *Recorder, log zerolog.Logger) *Engine {
	return &Engine{
		rules:      rules,
		vars:       vars,
		conditions: conditions,
		dispatcher: dispatcher,
		recorder:   recorder,
		log:        log,
		now:        time.Now,
	}
}

// EvaluateRules evaluates every active rule bound to (orgID, eventType).
// A catalog load failure is fatal; everything after that is isolated per
// rule. Returns one result per rule that completed, in priority order.
func (e *Engine) EvaluateRules(ctx context.Context, eventType string, eventData map[string]interface{}, orgID uuid.UUID, userID, patientID *uuid.UUID) ([]ExecutionResult, error) {
	start := e.now()

	catalog, err := e.rules.ListActiveRules(ctx, orgID, eventType)
	if err != nil {
		return nil, fmt.Errorf("load rule catalog: %w", err)
	}
	e.log.Info().
		Str("event_type", eventType).
		Int("rules", len(catalog)).
		Msg("evaluating rules")

	results := make([]ExecutionResult, 0, len(catalog))
	for _, rule := range catalog {
		ruleStart := e.now()

		computed := e.computeRuleVariables(ctx, rule, eventData, orgID, patientID)
		ec := e.buildContext(eventData, computed)
		met := e.conditions.Evaluate(rule.EffectiveConditions(), ec)
		e.log.Debug().Str("rule", rule.Name).Bool("conditions_met", met).Msg("rule evaluated")

		var actionsResult map[string]interface{}
		if met {
			actionsResult, err = e.dispatcher.Execute(ctx, rule, ec, orgID, userID, patientID)
			if err != nil {
				e.log.Error().Err(err).Str("rule", rule.Name).Msg("rule action dispatch failed")
				msg := err.Error()
				e.recorder.Record(ctx, &ExecutionRecord{
					RuleID:            rule.ID,
					TriggerEvent:      eventType,
					TriggerData:       eventData,
					PatientID:         patientID,
					UserID:            userID,
					ComputedVariables: computed,
					ConditionsMet:     true,
					ActionsSuccess:    false,
					ErrorMessage:      &msg,
					ExecutionTimeMs:   e.now().Sub(ruleStart).Milliseconds(),
				})
				continue
			}
		}

		rec := &ExecutionRecord{
			RuleID:            rule.ID,
			TriggerEvent:      eventType,
			TriggerData:       eventData,
			PatientID:         patientID,
			UserID:            userID,
			ComputedVariables: computed,
			ConditionsMet:     met,
			ResultData:        actionsResult,
			ExecutionTimeMs:   e.now().Sub(ruleStart).Milliseconds(),
		}
		if actionsResult != nil {
			if at, ok := actionsResult["action_type"].(string); ok {
				rec.ActionsPerformed = []string{at}
			}
			rec.ActionsSuccess = boolOr(actionsResult["success"], false)
		}
		e.recorder.Record(ctx, rec)

		results = append(results, ExecutionResult{
			RuleID:        rule.ID,
			RuleName:      rule.Name,
			ConditionsMet: met,
			ActionsResult: actionsResult,
		})
	}

	e.log.Info().
		Str("event_type", eventType).
		Int("executed", len(results)).
		Dur("elapsed", e.now().Sub(start)).
		Msg("rule evaluation complete")
	return results, nil
}

// TestRuleResult is the dry-run outcome for the author-facing debug
// endpoint.
type TestRuleResult struct {
	RuleName          string                 `json:"rule_name"`
	ConditionsMet     bool                   `json:"conditions_met"`
	ComputedVariables map[string]interface{} `json:"computed_variables"`
	ExecutionTimeMs   int64                  `json:"execution_time_ms"`
}

// TestRule evaluates an inline rule definition without dispatching actions
// or writing audit rows.
func (e *Engine) TestRule(ctx context.Context, rule *Rule, eventData map[string]interface{}, orgID uuid.UUID, patientID *uuid.UUID) TestRuleResult {
	start := e.now()
	computed := e.computeRuleVariables(ctx, rule, eventData, orgID, patientID)
	ec := e.buildContext(eventData, computed)
	met := e.conditions.Evaluate(rule.EffectiveConditions(), ec)
	return TestRuleResult{
		RuleName:          rule.Name,
		ConditionsMet:     met,
		ComputedVariables: computed,
		ExecutionTimeMs:   e.now().Sub(start).Milliseconds(),
	}
}

func (e *Engine) computeRuleVariables(ctx context.Context, rule *Rule, eventData map[string]interface{}, orgID uuid.UUID, patientID *uuid.UUID) map[string]interface{} {
	pid := uuid.Nil
	if patientID != nil {
		pid = *patientID
	}
	return e.vars.ComputeVariables(ctx, rule.UsedVariables, pid, orgID, variables.NewContext(eventData))
}

func (e *Engine) buildContext(eventData map[string]interface{}, computed map[string]interface{}) *EvaluationContext {
	patient, _ := eventData["patient"].(map[string]interface{})
	if patient == nil {
		patient = map[string]interface{}{}
	}
	now := e.now()
	return &EvaluationContext{
		Patient: patient,
		Event:   eventData,
		Var:     computed,
		Context: map[string]interface{}{
			"user_role":   eventData["userRole"],
			"location":    eventData["location"],
			"time_of_day": float64(now.Hour()),
			"day_of_week": float64(now.Weekday()),
		},
	}
}
