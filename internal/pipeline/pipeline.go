// Package pipeline runs the triage stages over one encounter record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fpang/patient-triage/internal/encounter"
	"github.com/fpang/patient-triage/internal/metrics"
	"github.com/fpang/patient-triage/internal/stage"
	"github.com/rs/zerolog/log"
)

const (
	// Unlimited runs every stage.
	Unlimited = 0

	// InterimStageLimit covers detection and risk assessment only.
	InterimStageLimit = 2
)

// StageError is returned when a stage fails and the run is aborted.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageFunc is invoked synchronously after each completed stage.
type StageFunc func(stage string, rec *encounter.Record)

// Pipeline is an ordered, immutable list of stages.
type Pipeline struct {
	stages []stage.Stage
}

// New creates a pipeline from stages in execution order.
func New(stages ...stage.Stage) *Pipeline {
	return &Pipeline{stages: append([]stage.Stage(nil), stages...)}
}

// Deps are the collaborators of the default stage set.
type Deps struct {
	Vocabulary       stage.Vocabulary
	Reasoner         stage.Reasoner
	ReasoningTimeout time.Duration
	Alerts           stage.AlertSink
	Notices          stage.NotifySink
}

// Default builds the fixed five-stage triage pipeline. An empty vocabulary
// selects the built-in table.
func Default(deps Deps) *Pipeline {
	vocab := deps.Vocabulary
	if len(vocab.Symptoms) == 0 {
		vocab = stage.DefaultVocabulary()
	}
	return New(
		stage.NewSymptomDetector(vocab),
		stage.NewRiskAssessor(deps.Reasoner, deps.ReasoningTimeout),
		stage.NewActionPlanner(),
		stage.NewActionExecutor(deps.Alerts, deps.Notices),
		stage.NewResponseGenerator(),
	)
}

// Len returns the number of stages.
func (p *Pipeline) Len() int { return len(p.stages) }

// Names returns the stage names in order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// ErrStagePanic wraps a panic raised inside a stage.
var ErrStagePanic = errors.New("stage panicked")

// process runs one stage, turning a panic into an error so a faulty stage
// aborts only its own run.
func process(ctx context.Context, s stage.Stage, rec *encounter.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStagePanic, r)
		}
	}()
	return s.Process(ctx, rec)
}

// Run executes up to limit stages in order against rec. A limit of Unlimited,
// or one at least Len, runs every stage. onStageComplete may be nil.
//
// There is no retry and no skipping: the first stage error aborts the run and
// the callback is not invoked for that stage.
func (p *Pipeline) Run(ctx context.Context, rec *encounter.Record, limit int, onStageComplete StageFunc) error {
	n := len(p.stages)
	if limit > Unlimited && limit < n {
		n = limit
	}
	mode := metrics.ModeFull
	if n < len(p.stages) {
		mode = metrics.ModePartial
	}

	for _, s := range p.stages[:n] {
		if err := ctx.Err(); err != nil {
			metrics.PipelineRuns.WithLabelValues(mode, metrics.OutcomeFailed).Inc()
			return &StageError{Stage: s.Name(), Err: err}
		}

		start := time.Now()
		err := process(ctx, s, rec)
		metrics.StageDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.PipelineRuns.WithLabelValues(mode, metrics.OutcomeFailed).Inc()
			log.Error().Err(err).
				Str("session_id", rec.SessionID).
				Str("stage", s.Name()).
				Msg("Pipeline stage failed")
			return &StageError{Stage: s.Name(), Err: err}
		}

		if onStageComplete != nil {
			onStageComplete(s.Name(), rec)
		}
	}

	metrics.PipelineRuns.WithLabelValues(mode, metrics.OutcomeCompleted).Inc()
	log.Debug().
		Str("session_id", rec.SessionID).
		Str("mode", mode).
		Str("risk_level", string(rec.RiskLevel)).
		Msg("Pipeline run complete")
	return nil
}
