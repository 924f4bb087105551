package rules

import (
	"context"

	"github.com/rs/zerolog"
)

// Recorder writes the append-only audit trail. A failed write is logged and
// swallowed so one bad insert never aborts the evaluation of other rules.
type Recorder struct {
	executions ExecutionRepository
	log        zerolog.Logger
}

func NewRecorder(executions ExecutionRepository, log zerolog.Logger) *Recorder {
	return &Recorder{executions: executions, log: log}
}

func (r *Recorder) Record(ctx context.Context, rec *ExecutionRecord) {
	if err := r.executions.Insert(ctx, rec); err != nil {
		r.log.Error().Err(err).
			Str("rule_id", rec.RuleID.String()).
			Msg("record rule execution")
	}
}
