package variables

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

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

// =========== Variable Repository ===========

type variableRepoPG struct{ pool *pgxpool.Pool }

func NewVariableRepoPG(pool *pgxpool.Pool) VariableRepository { return &variableRepoPG{pool: pool} }

func (r *variableRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const variableCols = `id, org_id, variable_key, description, computation_type, data_source,
	aggregate_function, aggregate_field, aggregate_filters, time_window_hours, formula,
	lookup_table, lookup_key, lookup_value, result_type, unit, cache_duration_minutes,
	is_active, created_at, updated_at`

func scanVariable(row pgx.Row) (*Variable, error) {
	var v Variable
	var filters []byte
	err := row.Scan(&v.ID, &v.OrgID, &v.VariableKey, &v.Description, &v.ComputationType, &v.DataSource,
		&v.AggregateFunction, &v.AggregateField, &filters, &v.TimeWindowHours, &v.Formula,
		&v.LookupTable, &v.LookupKey, &v.LookupValue, &v.ResultType, &v.Unit, &v.CacheDurationMinutes,
		&v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &v.AggregateFilters); err != nil {
			return nil, fmt.Errorf("decode aggregate_filters for %s: %w", v.VariableKey, err)
		}
	}
	return &v, nil
}

func (r *variableRepoPG) GetByID(ctx context.Context, id, orgID uuid.UUID) (*Variable, error) {
	v, err := scanVariable(r.conn(ctx).QueryRow(ctx,
		`SELECT `+variableCols+` FROM rule_variable WHERE id = $1 AND org_id = $2 AND is_active = TRUE`,
		id, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVariableNotFound
	}
	return v, err
}

func (r *variableRepoPG) GetByKey(ctx context.Context, orgID uuid.UUID, key string) (*Variable, error) {
	v, err := scanVariable(r.conn(ctx).QueryRow(ctx,
		`SELECT `+variableCols+` FROM rule_variable WHERE org_id = $1 AND variable_key = $2 AND is_active = TRUE`,
		orgID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVariableNotFound
	}
	return v, err
}

func (r *variableRepoPG) ListByKeys(ctx context.Context, orgID uuid.UUID, keys []string) ([]*Variable, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+variableCols+` FROM rule_variable WHERE org_id = $1 AND variable_key = ANY($2) AND is_active = TRUE`,
		orgID, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Variable
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

// =========== Clinical Store ===========

type clinicalStorePG struct{ pool *pgxpool.Pool }

func NewClinicalStorePG(pool *pgxpool.Pool) ClinicalStore { return &clinicalStorePG{pool: pool} }

func (s *clinicalStorePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// whereClause renders the validated filters as parameterized SQL. Only
// allow-listed identifiers reach this point.
func (q AggregateQuery) whereClause() (string, []interface{}) {
	conds := []string{"org_id = $1"}
	args := []interface{}{q.OrgID}

	if q.PatientID != uuid.Nil {
		args = append(args, q.PatientID)
		conds = append(conds, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if q.TimeWindowHours > 0 {
		args = append(args, q.TimeWindowHours)
		conds = append(conds, fmt.Sprintf("%s >= NOW() - ($%d * INTERVAL '1 hour')", q.Source.TimeColumn, len(args)))
	}
	for _, f := range q.Filters {
		args = append(args, f.Value)
		if f.Path != "" {
			conds = append(conds, fmt.Sprintf("%s->>'%s' = $%d::text", f.Column, f.Path, len(args)))
		} else {
			conds = append(conds, fmt.Sprintf("%s = $%d", f.Column, len(args)))
		}
	}
	return strings.Join(conds, " AND "), args
}

// extremeRowSQL renders the first/last query: the extreme row by the
// source's effective-time column, record creation time breaking ties in
// the same direction.
func (q AggregateQuery) extremeRowSQL(where string) string {
	dir := "ASC"
	if q.Function == AggLast {
		dir = "DESC"
	}
	cast := "text"
	if q.NumberResult {
		cast = "float8"
	}
	return fmt.Sprintf(
		"SELECT (%s)::%s FROM %s WHERE %s ORDER BY %s %s NULLS LAST, created_at %s LIMIT 1",
		q.Field, cast, q.Source.Table, where, q.Source.TimeColumn, dir, dir)
}

func (s *clinicalStorePG) Aggregate(ctx context.Context, q AggregateQuery) (interface{}, error) {
	where, args := q.whereClause()

	switch q.Function {
	case AggSum, AggAvg, AggCount, AggMin, AggMax:
		var expr string
		switch q.Function {
		case AggSum:
			expr = fmt.Sprintf("COALESCE(SUM((%s)::numeric), 0)::float8", q.Field)
		case AggAvg:
			expr = fmt.Sprintf("COALESCE(AVG((%s)::numeric), 0)::float8", q.Field)
		case AggCount:
			expr = "COUNT(*)::float8"
		case AggMin:
			expr = fmt.Sprintf("MIN((%s)::numeric)::float8", q.Field)
		case AggMax:
			expr = fmt.Sprintf("MAX((%s)::numeric)::float8", q.Field)
		}
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", expr, q.Source.Table, where)
		var out *float64
		if err := s.conn(ctx).QueryRow(ctx, query, args...).Scan(&out); err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}
		return *out, nil

	case AggFirst, AggLast:
		query := q.extremeRowSQL(where)
		if q.NumberResult {
			var out *float64
			err := s.conn(ctx).QueryRow(ctx, query, args...).Scan(&out)
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			if out == nil {
				return nil, nil
			}
			return *out, nil
		}
		var out *string
		err := s.conn(ctx).QueryRow(ctx, query, args...).Scan(&out)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}
		return *out, nil

	default:
		return nil, fmt.Errorf("unknown aggregate function %q", q.Function)
	}
}

func (s *clinicalStorePG) Lookup(ctx context.Context, table, keyColumn, valueColumn string, orgID, patientID uuid.UUID) (interface{}, error) {
	if err := ResolveLookup(table, keyColumn, valueColumn); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT (%s)::text FROM %s WHERE org_id = $1 AND %s = $2 LIMIT 1",
		valueColumn, table, keyColumn)
	var out *string
	err := s.conn(ctx).QueryRow(ctx, query, orgID, patientID).Scan(&out)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return *out, nil
}
