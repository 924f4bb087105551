package variables

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carepath/ruleengine/internal/platform/cache"
)

// Resolver computes variable values for rule evaluation: aggregates over
// clinical source tables, formulas over other variables, and single-row
// lookups. Results are write-through cached per variable TTL.
type Resolver struct {
	vars  VariableRepository
	store ClinicalStore
	cache *cache.TTLCache
	log   zerolog.Logger
}

func NewResolver(vars VariableRepository, store ClinicalStore, c *cache.TTLCache, log zerolog.Logger) *Resolver {
	return &Resolver{vars: vars, store: store, cache: c, log: log}
}

// ComputeVariable resolves one variable by id for a patient. Failures are
// wrapped as *ComputationError; the cache is only written on success.
func (r *Resolver) ComputeVariable(ctx context.Context, variableID, patientID, orgID uuid.UUID, ec *Context) (interface{}, error) {
	v, err := r.vars.GetByID(ctx, variableID, orgID)
	if err != nil {
		return nil, err
	}
	return r.compute(ctx, v, patientID, orgID, ec, map[string]bool{v.VariableKey: true})
}

// ComputeVariables resolves each key independently. A failing key maps to
// nil and is logged; the other keys are unaffected. The result always has
// exactly one entry per requested key.
func (r *Resolver) ComputeVariables(ctx context.Context, keys []string, patientID, orgID uuid.UUID, ec *Context) map[string]interface{} {
	results := make(map[string]interface{}, len(keys))
	if len(keys) == 0 {
		return results
	}
	if ec == nil {
		ec = NewContext(nil)
	}

	defs, err := r.vars.ListByKeys(ctx, orgID, keys)
	if err != nil {
		r.log.Error().Err(err).Msg("load variable definitions")
		for _, k := range keys {
			results[k] = nil
		}
		return results
	}
	byKey := make(map[string]*Variable, len(defs))
	for _, v := range defs {
		byKey[v.VariableKey] = v
	}

	for _, key := range keys {
		v, ok := byKey[key]
		if !ok {
			r.log.Warn().Str("variable_key", key).Msg("variable not found or inactive")
			results[key] = nil
			continue
		}
		value, err := r.compute(ctx, v, patientID, orgID, ec, map[string]bool{key: true})
		if err != nil {
			r.log.Error().Err(err).Str("variable_key", key).Msg("variable computation failed")
			results[key] = nil
			continue
		}
		results[key] = value
		// Later formulas in the same pass can reuse this value.
		ec.Vars[key] = value
	}
	return results
}

// TestVariable computes an inline (possibly unsaved) definition without
// touching the cache, for the author-facing debug endpoint.
func (r *Resolver) TestVariable(ctx context.Context, v *Variable, patientID, orgID uuid.UUID) TestResult {
	start := time.Now()
	value, err := r.dispatch(ctx, v, patientID, orgID, NewContext(nil), map[string]bool{v.VariableKey: true})
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return TestResult{Success: false, Error: err.Error(), ExecutionTimeMs: elapsed}
	}
	return TestResult{
		Success:         true,
		Value:           value,
		ResultType:      v.ResultType,
		Unit:            v.Unit,
		ExecutionTimeMs: elapsed,
	}
}

// compute wraps dispatch with the cache and the ComputationError boundary.
func (r *Resolver) compute(ctx context.Context, v *Variable, patientID, orgID uuid.UUID, ec *Context, visited map[string]bool) (interface{}, error) {
	key := r.cacheKey(v, patientID, ec)
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}

	value, err := r.dispatch(ctx, v, patientID, orgID, ec, visited)
	if err != nil {
		return nil, err
	}

	r.cache.Set(key, value, v.CacheTTL())
	return value, nil
}

func (r *Resolver) dispatch(ctx context.Context, v *Variable, patientID, orgID uuid.UUID, ec *Context, visited map[string]bool) (interface{}, error) {
	var (
		value interface{}
		err   error
	)
	switch v.ComputationType {
	case ComputationAggregate, ComputationTimeBased:
		value, err = r.computeAggregate(ctx, v, patientID, orgID)
	case ComputationFormula:
		value, err = r.computeFormula(ctx, v, patientID, orgID, ec, visited)
	case ComputationLookup:
		value, err = r.computeLookup(ctx, v, patientID, orgID)
	default:
		err = fmt.Errorf("unknown computation type %q", v.ComputationType)
	}
	if err != nil {
		var cycle *CyclicDependencyError
		if errors.As(err, &cycle) {
			return nil, err
		}
		return nil, &ComputationError{VariableKey: v.VariableKey, Err: err}
	}
	return value, nil
}

var identPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// BuildAggregateQuery validates a variable's aggregate configuration
// against the data-source allow-list and returns the executable query.
func BuildAggregateQuery(v *Variable, patientID, orgID uuid.UUID) (AggregateQuery, error) {
	if v.DataSource == nil || *v.DataSource == "" {
		return AggregateQuery{}, fmt.Errorf("data_source is required for aggregate variables")
	}
	if v.AggregateFunction == nil || *v.AggregateFunction == "" {
		return AggregateQuery{}, fmt.Errorf("aggregate_function is required for aggregate variables")
	}
	src, err := ResolveSource(*v.DataSource)
	if err != nil {
		return AggregateQuery{}, err
	}

	fn := *v.AggregateFunction
	q := AggregateQuery{
		Source:       src,
		Function:     fn,
		OrgID:        orgID,
		PatientID:    patientID,
		NumberResult: v.ResultType == ResultNumber,
	}
	if v.TimeWindowHours != nil {
		q.TimeWindowHours = *v.TimeWindowHours
	}

	if fn != AggCount {
		if v.AggregateField == nil || *v.AggregateField == "" {
			return AggregateQuery{}, fmt.Errorf("aggregate_field is required for %s", fn)
		}
		if err := src.ValidateColumn(*v.AggregateField); err != nil {
			return AggregateQuery{}, err
		}
		q.Field = *v.AggregateField
	}

	// Sort filter keys so the generated SQL is deterministic.
	filterKeys := make([]string, 0, len(v.AggregateFilters))
	for k := range v.AggregateFilters {
		filterKeys = append(filterKeys, k)
	}
	sort.Strings(filterKeys)
	for _, k := range filterKeys {
		col, path, nested := strings.Cut(k, ".")
		if nested {
			if err := src.ValidateJSONColumn(col); err != nil {
				return AggregateQuery{}, err
			}
			if !identPattern.MatchString(path) {
				return AggregateQuery{}, fmt.Errorf("invalid filter path %q", path)
			}
			q.Filters = append(q.Filters, Filter{Column: col, Path: path, Value: v.AggregateFilters[k]})
			continue
		}
		if err := src.ValidateColumn(col); err != nil {
			return AggregateQuery{}, err
		}
		q.Filters = append(q.Filters, Filter{Column: col, Value: v.AggregateFilters[k]})
	}
	return q, nil
}

func (r *Resolver) computeAggregate(ctx context.Context, v *Variable, patientID, orgID uuid.UUID) (interface{}, error) {
	q, err := BuildAggregateQuery(v, patientID, orgID)
	if err != nil {
		return nil, err
	}
	value, err := r.store.Aggregate(ctx, q)
	if err != nil {
		return nil, err
	}
	return castResult(value, v.ResultType)
}

func (r *Resolver) computeFormula(ctx context.Context, v *Variable, patientID, orgID uuid.UUID, ec *Context, visited map[string]bool) (interface{}, error) {
	if v.Formula == nil || *v.Formula == "" {
		return nil, fmt.Errorf("formula is required for formula variables")
	}
	if ec == nil {
		ec = NewContext(nil)
	}

	for _, depKey := range ExtractTokens(*v.Formula) {
		if _, ok := ec.Vars[depKey]; ok {
			continue
		}
		if visited[depKey] {
			chain := make([]string, 0, len(visited)+1)
			for k := range visited {
				chain = append(chain, k)
			}
			sort.Strings(chain)
			return nil, &CyclicDependencyError{Chain: append(chain, depKey)}
		}
		dep, err := r.vars.GetByKey(ctx, orgID, depKey)
		if err != nil {
			return nil, fmt.Errorf("resolve dependency %q: %w", depKey, err)
		}
		visited[depKey] = true
		value, err := r.compute(ctx, dep, patientID, orgID, ec, visited)
		if err != nil {
			return nil, err
		}
		ec.Vars[depKey] = value
	}

	substituted := SubstituteTokens(*v.Formula, ec.Vars)
	value, err := EvalFormula(substituted)
	if err != nil {
		return nil, err
	}
	return castResult(value, v.ResultType)
}

func (r *Resolver) computeLookup(ctx context.Context, v *Variable, patientID, orgID uuid.UUID) (interface{}, error) {
	if v.LookupTable == nil || v.LookupKey == nil || v.LookupValue == nil {
		return nil, fmt.Errorf("lookup_table, lookup_key and lookup_value are required for lookup variables")
	}
	value, err := r.store.Lookup(ctx, *v.LookupTable, *v.LookupKey, *v.LookupValue, orgID, patientID)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	return castResult(value, v.ResultType)
}

// cacheKey scopes cached values by variable and patient. Formula values can
// depend on event-derived inputs, so their keys also carry a hash of the
// trigger payload; aggregates and lookups stay reusable across events.
func (r *Resolver) cacheKey(v *Variable, patientID uuid.UUID, ec *Context) string {
	key := fmt.Sprintf("var:%s:%s", v.ID, patientID)
	if v.ComputationType == ComputationFormula && ec != nil && len(ec.Event) > 0 {
		key += ":" + contextHash(ec.Event)
	}
	return key
}

func contextHash(event map[string]interface{}) string {
	raw, err := json.Marshal(event)
	if err != nil {
		return "0"
	}
	h := fnv.New64a()
	h.Write(raw)
	return strconv.FormatUint(h.Sum64(), 16)
}

// castResult coerces a computed value to the variable's declared type.
func castResult(value interface{}, resultType string) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch resultType {
	case ResultNumber:
		switch t := value.(type) {
		case float64:
			return t, nil
		case int:
			return float64(t), nil
		case int64:
			return float64(t), nil
		case string:
			n, err := strconv.ParseFloat(t, 64)
			if err != nil {
				return nil, fmt.Errorf("cast %q to number: %w", t, err)
			}
			return n, nil
		case bool:
			if t {
				return 1.0, nil
			}
			return 0.0, nil
		default:
			return nil, fmt.Errorf("cannot cast %T to number", value)
		}
	case ResultBoolean:
		switch t := value.(type) {
		case bool:
			return t, nil
		case float64:
			return t != 0, nil
		case string:
			b, err := strconv.ParseBool(t)
			if err != nil {
				return nil, fmt.Errorf("cast %q to boolean: %w", t, err)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("cannot cast %T to boolean", value)
		}
	case ResultString:
		switch t := value.(type) {
		case string:
			return t, nil
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(t), nil
		default:
			return fmt.Sprint(value), nil
		}
	default:
		return value, nil
	}
}
