package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

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

type ruleRepoPG struct{ pool *pgxpool.Pool }

func NewRuleRepoPG(pool *pgxpool.Pool) RuleRepository { return &ruleRepoPG{pool: pool} }

func (r *ruleRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const ruleCols = `id, org_id, name, rule_type, category, is_active, priority, trigger_event,
	trigger_timing, conditions, conditions_json_logic, used_variables, actions, config,
	created_at, updated_at`

func scanRule(row pgx.Row) (*Rule, error) {
	var (
		r                              Rule
		conditions, jsonLogic, actions []byte
		config                         []byte
	)
	err := row.Scan(&r.ID, &r.OrgID, &r.Name, &r.RuleType, &r.Category, &r.IsActive, &r.Priority,
		&r.TriggerEvent, &r.TriggerTiming, &conditions, &jsonLogic, &r.UsedVariables,
		&actions, &config, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Conditions = json.RawMessage(conditions)
	r.ConditionsJSONLogic = json.RawMessage(jsonLogic)
	r.Actions = json.RawMessage(actions)
	r.Config = json.RawMessage(config)
	return &r, nil
}

func (r *ruleRepoPG) ListActiveRules(ctx context.Context, orgID uuid.UUID, triggerEvent string) ([]*Rule, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+ruleCols+`
		FROM rule
		WHERE org_id = $1 AND trigger_event = $2 AND is_active = TRUE
		ORDER BY priority DESC, created_at ASC`, orgID, triggerEvent)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	defer rows.Close()
	var out []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *ruleRepoPG) GetByID(ctx context.Context, id, orgID uuid.UUID) (*Rule, error) {
	return scanRule(r.conn(ctx).QueryRow(ctx,
		`SELECT `+ruleCols+` FROM rule WHERE id = $1 AND org_id = $2`, id, orgID))
}

type executionRepoPG struct{ pool *pgxpool.Pool }

func NewExecutionRepoPG(pool *pgxpool.Pool) ExecutionRepository { return &executionRepoPG{pool: pool} }

func (r *executionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *executionRepoPG) Insert(ctx context.Context, rec *ExecutionRecord) error {
	rec.ID = uuid.New()
	triggerData, err := json.Marshal(rec.TriggerData)
	if err != nil {
		return fmt.Errorf("marshal trigger_data: %w", err)
	}
	computedVars, err := json.Marshal(rec.ComputedVariables)
	if err != nil {
		return fmt.Errorf("marshal computed_variables: %w", err)
	}
	var resultData []byte
	if rec.ResultData != nil {
		if resultData, err = json.Marshal(rec.ResultData); err != nil {
			return fmt.Errorf("marshal result_data: %w", err)
		}
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO rule_execution (id, rule_id, trigger_event, trigger_data, patient_id, user_id,
			computed_variables, conditions_met, actions_performed, actions_success, result_data,
			error_message, execution_time_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		rec.ID, rec.RuleID, rec.TriggerEvent, triggerData, rec.PatientID, rec.UserID,
		computedVars, rec.ConditionsMet, rec.ActionsPerformed, rec.ActionsSuccess, resultData,
		rec.ErrorMessage, rec.ExecutionTimeMs)
	return err
}

func (r *executionRepoPG) List(ctx context.Context, filter ExecutionFilter, limit, offset int) ([]*ExecutionRecord, int, error) {
	where := "TRUE"
	args := []interface{}{}
	if filter.RuleID != uuid.Nil {
		args = append(args, filter.RuleID)
		where += " AND rule_id = $" + strconv.Itoa(len(args))
	}
	if filter.PatientID != uuid.Nil {
		args = append(args, filter.PatientID)
		where += " AND patient_id = $" + strconv.Itoa(len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM rule_execution WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, rule_id, trigger_event, trigger_data, patient_id, user_id, computed_variables,
			conditions_met, actions_performed, actions_success, result_data, error_message,
			execution_time_ms, executed_at
		FROM rule_execution
		WHERE `+where+`
		ORDER BY executed_at DESC
		LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		var (
			rec                                   ExecutionRecord
			triggerData, computedVars, resultData []byte
		)
		if err := rows.Scan(&rec.ID, &rec.RuleID, &rec.TriggerEvent, &triggerData, &rec.PatientID,
			&rec.UserID, &computedVars, &rec.ConditionsMet, &rec.ActionsPerformed,
			&rec.ActionsSuccess, &resultData, &rec.ErrorMessage, &rec.ExecutionTimeMs,
			&rec.ExecutedAt); err != nil {
			return nil, 0, err
		}
		if len(triggerData) > 0 {
			if err := json.Unmarshal(triggerData, &rec.TriggerData); err != nil {
				return nil, 0, fmt.Errorf("unmarshal trigger_data: %w", err)
			}
		}
		if len(computedVars) > 0 {
			if err := json.Unmarshal(computedVars, &rec.ComputedVariables); err != nil {
				return nil, 0, fmt.Errorf("unmarshal computed_variables: %w", err)
			}
		}
		if len(resultData) > 0 {
			if err := json.Unmarshal(resultData, &rec.ResultData); err != nil {
				return nil, 0, fmt.Errorf("unmarshal result_data: %w", err)
			}
		}
		out = append(out, &rec)
	}
	return out, total, rows.Err()
}
