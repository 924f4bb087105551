package variables

import "fmt"

// Source describes one queryable clinical data source. Table and column
// names come exclusively from this allow-list; identifiers supplied by rule
// authors are looked up here and never interpolated into SQL directly.
type Source struct {
	Table string
	// TimeColumn orders rows for time windows and first/last selection.
	TimeColumn string
	// Columns are plain columns permitted as aggregate fields or equality
	// filters.
	Columns map[string]bool
	// JSONColumns are jsonb columns permitted as the base of a one-level
	// nested filter path (e.g. "component.code").
	JSONColumns map[string]bool
}

var observationColumns = map[string]bool{
	"code_system": true, "code_value": true, "code_display": true,
	"category_code": true, "status": true,
	"value_quantity": true, "value_unit": true, "value_string": true,
}

var sources = map[string]Source{
	"observations": {
		Table:       "observations",
		TimeColumn:  "effective_time",
		Columns:     observationColumns,
		JSONColumns: map[string]bool{"component": true},
	},
	// lab_results share the observation table, distinguished by category.
	"lab_results": {
		Table:       "observations",
		TimeColumn:  "effective_time",
		Columns:     observationColumns,
		JSONColumns: map[string]bool{"component": true},
	},
	"medications": {
		Table:      "medication_requests",
		TimeColumn: "authored_on",
		Columns: map[string]bool{
			"medication_code": true, "medication_display": true,
			"status": true, "intent": true, "dose_quantity": true,
		},
	},
	"appointments": {
		Table:      "appointments",
		TimeColumn: "start_time",
		Columns: map[string]bool{
			"status": true, "appointment_type": true, "minutes_duration": true,
		},
	},
	"conditions": {
		Table:      "conditions",
		TimeColumn: "onset_datetime",
		Columns: map[string]bool{
			"code_system": true, "code_value": true, "code_display": true,
			"clinical_status": true, "severity_code": true,
		},
	},
	"procedures": {
		Table:      "procedures",
		TimeColumn: "performed_at",
		Columns: map[string]bool{
			"code_system": true, "code_value": true, "code_display": true,
			"status": true,
		},
	},
}

// lookupTables allow-lists single-row lookup sources and their readable
// columns. The key column must also appear here.
var lookupTables = map[string]map[string]bool{
	"patients": {
		"id": true, "mrn": true, "birth_date": true, "gender": true,
		"risk_level": true, "primary_care_provider_id": true,
	},
	"patient_flags": {
		"patient_id": true, "flag": true, "value": true,
	},
}

// ResolveSource maps a data_source name to its allow-listed definition.
func ResolveSource(name string) (Source, error) {
	s, ok := sources[name]
	if !ok {
		return Source{}, fmt.Errorf("unknown data source %q", name)
	}
	return s, nil
}

// ResolveLookup validates a lookup table and its key/value columns.
func ResolveLookup(table, keyColumn, valueColumn string) error {
	cols, ok := lookupTables[table]
	if !ok {
		return fmt.Errorf("unknown lookup table %q", table)
	}
	if !cols[keyColumn] {
		return fmt.Errorf("column %q not allowed for lookup table %q", keyColumn, table)
	}
	if !cols[valueColumn] {
		return fmt.Errorf("column %q not allowed for lookup table %q", valueColumn, table)
	}
	return nil
}

// ValidateColumn checks that col is a plain allow-listed column of s.
func (s Source) ValidateColumn(col string) error {
	if !s.Columns[col] {
		return fmt.Errorf("column %q not allowed for table %q", col, s.Table)
	}
	return nil
}

// ValidateJSONColumn checks that col may be used as a nested filter base.
func (s Source) ValidateJSONColumn(col string) error {
	if !s.JSONColumns[col] {
		return fmt.Errorf("json column %q not allowed for table %q", col, s.Table)
	}
	return nil
}
