// Package stage implements the five triage pipeline stages.
//
// Each stage reads fields written by earlier stages and writes its own,
// recording what it did in the record's audit log. A non-nil error from
// Process is fatal to the pipeline run; expected external failures (the
// reasoning service, delivery sinks) are handled inside the stage.
package stage

import (
	"context"
	"fmt"

	"github.com/fpang/patient-triage/internal/encounter"
	"github.com/rs/zerolog/log"
)

// Stage names, in pipeline order.
const (
	NameSymptomDetector   = "SymptomDetector"
	NameRiskAssessor      = "RiskAssessor"
	NameActionPlanner     = "ActionPlanner"
	NameActionExecutor    = "ActionExecutor"
	NameResponseGenerator = "ResponseGenerator"
)

// Stage is one step of the triage pipeline.
type Stage interface {
	Name() string
	Process(ctx context.Context, rec *encounter.Record) error
}

// audit appends to the record's audit log and mirrors the entry to the debug log.
func audit(rec *encounter.Record, stage, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	rec.Log(stage, msg)
	log.Debug().
		Str("session_id", rec.SessionID).
		Str("stage", stage).
		Msg(msg)
}
