package variables

import (
	"errors"
	"testing"
)

func TestExtractTokens(t *testing.T) {
	tests := []struct {
		formula string
		want    []string
	}{
		{"{{var.a}} + {{var.b}}", []string{"a", "b"}},
		{"{{var.a}} * {{var.a}}", []string{"a"}},
		{"42", nil},
		{"{{var. spaced }} > 1", []string{"spaced"}},
	}
	for _, tc := range tests {
		got := ExtractTokens(tc.formula)
		if len(got) != len(tc.want) {
			t.Errorf("ExtractTokens(%q) = %v, want %v", tc.formula, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("ExtractTokens(%q) = %v, want %v", tc.formula, got, tc.want)
			}
		}
	}
}

func TestSubstituteTokens(t *testing.T) {
	vars := map[string]interface{}{
		"n": 141.5,
		"i": 3,
		"b": true,
		"s": "high",
	}
	got := SubstituteTokens("{{var.n}} {{var.i}} {{var.b}} {{var.s}} {{var.missing}}", vars)
	want := `141.5 3 true "high" null`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEvalFormulaArithmetic(t *testing.T) {
	tests := []struct {
		src  string
		want float64
	}{
		{"1 + 2", 3},
		{"2 * 3 + 4", 10},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"-5 + 3", -2},
		{"120 / 2 - 10", 50},
	}
	for _, tc := range tests {
		v, err := EvalFormula(tc.src)
		if err != nil {
			t.Errorf("EvalFormula(%q): %v", tc.src, err)
			continue
		}
		if v.(float64) != tc.want {
			t.Errorf("EvalFormula(%q) = %v, want %v", tc.src, v, tc.want)
		}
	}
}

func TestEvalFormulaComparisonsAndLogic(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{"141.67 > 140", true},
		{"5 <= 4", false},
		{"1 == 1 and 2 == 2", true},
		{"1 == 2 or 3 == 3", true},
		{"not (1 == 1)", false},
		{"!(2 > 3)", true},
		{"1 < 2 && 3 < 2", false},
		{"1 > 2 || 2 > 1", true},
		{`"abc" == "abc"`, true},
		{`"abc" < "abd"`, true},
		{"true != false", true},
	}
	for _, tc := range tests {
		v, err := EvalFormula(tc.src)
		if err != nil {
			t.Errorf("EvalFormula(%q): %v", tc.src, err)
			continue
		}
		if v.(bool) != tc.want {
			t.Errorf("EvalFormula(%q) = %v, want %v", tc.src, v, tc.want)
		}
	}
}

func TestEvalFormulaNullOperand(t *testing.T) {
	for _, src := range []string{
		"5 + null",
		"null * 2",
		"null > 1",
		"null and true",
		"not null",
	} {
		_, err := EvalFormula(src)
		if !errors.Is(err, errNullOperand) {
			t.Errorf("EvalFormula(%q): expected null operand error, got %v", src, err)
		}
	}
}

func TestEvalFormulaRejectsUnknownSyntax(t *testing.T) {
	for _, src := range []string{
		"process.exit(1)",
		"a.b",
		"1 + ",
		"(1 + 2",
		"1 @ 2",
		"foo",
	} {
		if _, err := EvalFormula(src); err == nil {
			t.Errorf("EvalFormula(%q): expected error", src)
		}
	}
}

func TestEvalFormulaDivisionByZero(t *testing.T) {
	if _, err := EvalFormula("1 / 0"); err == nil {
		t.Error("expected division by zero error")
	}
}

func TestEvalFormulaTypeMismatch(t *testing.T) {
	for _, src := range []string{
		`"a" + 1`,
		`1 == "1"`,
		"true > false",
		"1 and 2",
	} {
		if _, err := EvalFormula(src); err == nil {
			t.Errorf("EvalFormula(%q): expected type error", src)
		}
	}
}
