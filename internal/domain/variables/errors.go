package variables

import (
	"errors"
	"fmt"
	"strings"
)

// ErrVariableNotFound is returned when a referenced variable does not exist,
// belongs to another org, or is inactive.
var ErrVariableNotFound = errors.New("variable not found or inactive")

// ComputationError wraps a failure while computing a single variable.
type ComputationError struct {
	VariableKey string
	Err         error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("compute variable %q: %v", e.VariableKey, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// CyclicDependencyError is returned when formula resolution revisits a
// variable already on the resolution path.
type CyclicDependencyError struct {
	Chain []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic variable dependency: %s", strings.Join(e.Chain, " -> "))
}
