package variables

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carepath/ruleengine/internal/platform/cache"
)

// ── Mock Repositories ──

type mockVarRepo struct {
	byID  map[uuid.UUID]*Variable
	byKey map[string]*Variable
}

func newMockVarRepo(vars ...*Variable) *mockVarRepo {
	m := &mockVarRepo{byID: map[uuid.UUID]*Variable{}, byKey: map[string]*Variable{}}
	for _, v := range vars {
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		m.byID[v.ID] = v
		m.byKey[v.VariableKey] = v
	}
	return m
}

func (m *mockVarRepo) GetByID(_ context.Context, id, _ uuid.UUID) (*Variable, error) {
	if v, ok := m.byID[id]; ok && v.IsActive {
		return v, nil
	}
	return nil, ErrVariableNotFound
}

func (m *mockVarRepo) GetByKey(_ context.Context, _ uuid.UUID, key string) (*Variable, error) {
	if v, ok := m.byKey[key]; ok && v.IsActive {
		return v, nil
	}
	return nil, ErrVariableNotFound
}

func (m *mockVarRepo) ListByKeys(_ context.Context, _ uuid.UUID, keys []string) ([]*Variable, error) {
	var out []*Variable
	for _, k := range keys {
		if v, ok := m.byKey[k]; ok && v.IsActive {
			out = append(out, v)
		}
	}
	return out, nil
}

type mockClinicalStore struct {
	aggCalls    int
	lookupCalls int
	aggFn       func(q AggregateQuery) (interface{}, error)
	lookupFn    func(table, key, value string) (interface{}, error)
}

func (m *mockClinicalStore) Aggregate(_ context.Context, q AggregateQuery) (interface{}, error) {
	m.aggCalls++
	if m.aggFn == nil {
		return nil, errors.New("no aggregate configured")
	}
	return m.aggFn(q)
}

func (m *mockClinicalStore) Lookup(_ context.Context, table, key, value string, _, _ uuid.UUID) (interface{}, error) {
	m.lookupCalls++
	if m.lookupFn == nil {
		return nil, nil
	}
	return m.lookupFn(table, key, value)
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func aggregateVar(key string, fn string) *Variable {
	return &Variable{
		ID:                uuid.New(),
		VariableKey:       key,
		ComputationType:   ComputationAggregate,
		DataSource:        strPtr("observations"),
		AggregateFunction: strPtr(fn),
		AggregateField:    strPtr("value_quantity"),
		TimeWindowHours:   intPtr(24),
		ResultType:        ResultNumber,
		IsActive:          true,
	}
}

func formulaVar(key, formula string) *Variable {
	return &Variable{
		ID:              uuid.New(),
		VariableKey:     key,
		ComputationType: ComputationFormula,
		Formula:         strPtr(formula),
		ResultType:      ResultNumber,
		IsActive:        true,
	}
}

func newTestResolver(repo VariableRepository, store ClinicalStore) *Resolver {
	return NewResolver(repo, store, cache.New(), zerolog.Nop())
}

// ── Tests ──

func TestComputeVariableAggregateAvg(t *testing.T) {
	v := aggregateVar("bp_systolic_avg_24h", AggAvg)
	store := &mockClinicalStore{aggFn: func(q AggregateQuery) (interface{}, error) {
		if q.Function != AggAvg || q.Field != "value_quantity" {
			t.Errorf("unexpected query: %+v", q)
		}
		if q.TimeWindowHours != 24 {
			t.Errorf("expected 24h window, got %d", q.TimeWindowHours)
		}
		// avg of 150, 145, 130
		return 141.66666666666666, nil
	}}
	r := newTestResolver(newMockVarRepo(v), store)

	value, err := r.ComputeVariable(context.Background(), v.ID, uuid.New(), uuid.New(), NewContext(nil))
	if err != nil {
		t.Fatalf("ComputeVariable: %v", err)
	}
	if value.(float64) <= 140 {
		t.Errorf("expected avg above 140, got %v", value)
	}
}

func TestComputeVariableNotFound(t *testing.T) {
	r := newTestResolver(newMockVarRepo(), &mockClinicalStore{})
	_, err := r.ComputeVariable(context.Background(), uuid.New(), uuid.New(), uuid.New(), nil)
	if !errors.Is(err, ErrVariableNotFound) {
		t.Errorf("expected ErrVariableNotFound, got %v", err)
	}
}

func TestComputeVariableCachesResult(t *testing.T) {
	v := aggregateVar("hr_count", AggCount)
	store := &mockClinicalStore{aggFn: func(AggregateQuery) (interface{}, error) { return 7.0, nil }}
	r := newTestResolver(newMockVarRepo(v), store)

	patient := uuid.New()
	org := uuid.New()
	for i := 0; i < 3; i++ {
		if _, err := r.ComputeVariable(context.Background(), v.ID, patient, org, NewContext(nil)); err != nil {
			t.Fatalf("ComputeVariable: %v", err)
		}
	}
	if store.aggCalls != 1 {
		t.Errorf("expected one store call, got %d", store.aggCalls)
	}
}

func TestComputeVariableCacheExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	c := cache.NewWithClock(func() time.Time { return now })

	v := aggregateVar("hr_count", AggCount)
	v.CacheDurationMinutes = 10
	store := &mockClinicalStore{aggFn: func(AggregateQuery) (interface{}, error) { return 1.0, nil }}
	r := NewResolver(newMockVarRepo(v), store, c, zerolog.Nop())

	patient := uuid.New()
	org := uuid.New()
	r.ComputeVariable(context.Background(), v.ID, patient, org, nil)
	now = now.Add(11 * time.Minute)
	r.ComputeVariable(context.Background(), v.ID, patient, org, nil)
	if store.aggCalls != 2 {
		t.Errorf("expected recompute after TTL, got %d calls", store.aggCalls)
	}
}

func TestComputeVariableFailureNotCached(t *testing.T) {
	v := aggregateVar("flaky", AggSum)
	fail := true
	store := &mockClinicalStore{aggFn: func(AggregateQuery) (interface{}, error) {
		if fail {
			return nil, errors.New("store down")
		}
		return 5.0, nil
	}}
	r := newTestResolver(newMockVarRepo(v), store)

	patient := uuid.New()
	org := uuid.New()
	if _, err := r.ComputeVariable(context.Background(), v.ID, patient, org, nil); err == nil {
		t.Fatal("expected error")
	}
	fail = false
	value, err := r.ComputeVariable(context.Background(), v.ID, patient, org, nil)
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if value.(float64) != 5.0 {
		t.Errorf("expected 5.0, got %v", value)
	}
}

func TestComputeVariablesPartialFailure(t *testing.T) {
	good := aggregateVar("good", AggCount)
	bad := aggregateVar("bad", AggSum)
	store := &mockClinicalStore{aggFn: func(q AggregateQuery) (interface{}, error) {
		if q.Function == AggSum {
			return nil, errors.New("boom")
		}
		return 3.0, nil
	}}
	r := newTestResolver(newMockVarRepo(good, bad), store)

	results := r.ComputeVariables(context.Background(), []string{"good", "bad", "missing"}, uuid.New(), uuid.New(), nil)
	if len(results) != 3 {
		t.Fatalf("expected one entry per requested key, got %d", len(results))
	}
	if results["good"].(float64) != 3.0 {
		t.Errorf("good = %v", results["good"])
	}
	if results["bad"] != nil {
		t.Errorf("failed key should map to nil, got %v", results["bad"])
	}
	if results["missing"] != nil {
		t.Errorf("unknown key should map to nil, got %v", results["missing"])
	}
}

func TestComputeFormulaWithDependencies(t *testing.T) {
	sys := aggregateVar("sys", AggLast)
	dia := aggregateVar("dia", AggFirst)
	pulse := formulaVar("pulse_pressure", "{{var.sys}} - {{var.dia}}")
	store := &mockClinicalStore{aggFn: func(q AggregateQuery) (interface{}, error) {
		if q.Function == AggLast {
			return 150.0, nil
		}
		return 90.0, nil
	}}
	r := newTestResolver(newMockVarRepo(sys, dia, pulse), store)

	value, err := r.ComputeVariable(context.Background(), pulse.ID, uuid.New(), uuid.New(), NewContext(nil))
	if err != nil {
		t.Fatalf("ComputeVariable: %v", err)
	}
	if value.(float64) != 60.0 {
		t.Errorf("expected 60, got %v", value)
	}
}

func TestComputeFormulaNullOperandFails(t *testing.T) {
	a := aggregateVar("a", AggCount)
	b := &Variable{
		ID:              uuid.New(),
		VariableKey:     "b",
		ComputationType: ComputationLookup,
		LookupTable:     strPtr("patients"),
		LookupKey:       strPtr("id"),
		LookupValue:     strPtr("risk_level"),
		ResultType:      ResultString,
		IsActive:        true,
	}
	sum := formulaVar("sum_ab", "{{var.a}} + {{var.b}}")
	store := &mockClinicalStore{
		aggFn:    func(AggregateQuery) (interface{}, error) { return 5.0, nil },
		lookupFn: func(string, string, string) (interface{}, error) { return nil, nil },
	}
	r := newTestResolver(newMockVarRepo(a, b, sum), store)

	_, err := r.ComputeVariable(context.Background(), sum.ID, uuid.New(), uuid.New(), NewContext(nil))
	var ce *ComputationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ComputationError, got %v", err)
	}
	if !errors.Is(err, errNullOperand) {
		t.Errorf("expected null operand cause, got %v", err)
	}
}

func TestComputeFormulaCycleDetected(t *testing.T) {
	f1 := formulaVar("f1", "{{var.f2}} + 1")
	f2 := formulaVar("f2", "{{var.f1}} + 1")
	r := newTestResolver(newMockVarRepo(f1, f2), &mockClinicalStore{})

	_, err := r.ComputeVariable(context.Background(), f1.ID, uuid.New(), uuid.New(), NewContext(nil))
	var cycle *CyclicDependencyError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
}

func TestFormulaCacheKeyIncludesEventContext(t *testing.T) {
	f := formulaVar("f", "1 + 1")
	r := newTestResolver(newMockVarRepo(f), &mockClinicalStore{})

	patient := uuid.New()
	org := uuid.New()
	k1 := r.cacheKey(f, patient, NewContext(map[string]interface{}{"value": 1.0}))
	k2 := r.cacheKey(f, patient, NewContext(map[string]interface{}{"value": 2.0}))
	if k1 == k2 {
		t.Error("formula cache keys should differ across event payloads")
	}

	agg := aggregateVar("agg", AggCount)
	a1 := r.cacheKey(agg, patient, NewContext(map[string]interface{}{"value": 1.0}))
	a2 := r.cacheKey(agg, patient, NewContext(map[string]interface{}{"value": 2.0}))
	if a1 != a2 {
		t.Error("aggregate cache keys should not depend on event payload")
	}
	_ = org
}

func TestTestVariableReportsErrorsAndTiming(t *testing.T) {
	store := &mockClinicalStore{aggFn: func(AggregateQuery) (interface{}, error) { return 42.0, nil }}
	r := newTestResolver(newMockVarRepo(), store)

	ok := r.TestVariable(context.Background(), aggregateVar("x", AggMax), uuid.New(), uuid.New())
	if !ok.Success || ok.Value.(float64) != 42.0 {
		t.Errorf("unexpected result: %+v", ok)
	}
	if ok.ExecutionTimeMs < 0 {
		t.Errorf("negative execution time")
	}

	bad := r.TestVariable(context.Background(), &Variable{VariableKey: "y", ComputationType: "bogus"}, uuid.New(), uuid.New())
	if bad.Success || bad.Error == "" {
		t.Errorf("expected failure result, got %+v", bad)
	}
}

func TestTestVariableBypassesCache(t *testing.T) {
	v := aggregateVar("x", AggCount)
	store := &mockClinicalStore{aggFn: func(AggregateQuery) (interface{}, error) { return 1.0, nil }}
	r := newTestResolver(newMockVarRepo(v), store)

	patient := uuid.New()
	org := uuid.New()
	r.TestVariable(context.Background(), v, patient, org)
	r.TestVariable(context.Background(), v, patient, org)
	if store.aggCalls != 2 {
		t.Errorf("test runs must not cache, got %d calls", store.aggCalls)
	}
}

func TestBuildAggregateQueryValidation(t *testing.T) {
	org := uuid.New()
	patient := uuid.New()

	v := aggregateVar("v", AggAvg)
	v.AggregateFilters = map[string]interface{}{
		"code_value":     "8480-6",
		"component.code": "systolic",
	}
	q, err := BuildAggregateQuery(v, patient, org)
	if err != nil {
		t.Fatalf("BuildAggregateQuery: %v", err)
	}
	if len(q.Filters) != 2 {
		t.Fatalf("expected 2 filters, got %d", len(q.Filters))
	}
	// Filters are sorted by key for deterministic SQL.
	if q.Filters[0].Column != "code_value" || q.Filters[1].Column != "component" || q.Filters[1].Path != "code" {
		t.Errorf("unexpected filters: %+v", q.Filters)
	}

	bad := aggregateVar("bad", AggAvg)
	bad.DataSource = strPtr("users; DROP TABLE users")
	if _, err := BuildAggregateQuery(bad, patient, org); err == nil {
		t.Error("expected unknown source error")
	}

	badCol := aggregateVar("badcol", AggAvg)
	badCol.AggregateField = strPtr("value_quantity); DELETE FROM observations; --")
	if _, err := BuildAggregateQuery(badCol, patient, org); err == nil {
		t.Error("expected disallowed column error")
	}

	badFilter := aggregateVar("badfilter", AggCount)
	badFilter.AggregateFilters = map[string]interface{}{"evil'col": "x"}
	if _, err := BuildAggregateQuery(badFilter, patient, org); err == nil {
		t.Error("expected disallowed filter column error")
	}
}
