// Package alerting delivers planned actions to staff and patients.
package alerting

import (
	"context"
	"errors"

	"github.com/fpang/patient-triage/internal/encounter"
	"github.com/fpang/patient-triage/internal/stage"
	"github.com/rs/zerolog/log"
)

// LogSink writes alerts and notifications to the structured log. It is the
// default delivery channel and never fails.
type LogSink struct{}

func (LogSink) AlertStaff(_ context.Context, sessionID string, a encounter.Action) error {
	log.Warn().
		Str("session_id", sessionID).
		Str("priority", a.Priority).
		Str("target", a.Target).
		Str("message", a.Message).
		Msg("Staff alert")
	return nil
}

func (LogSink) NotifyPatient(_ context.Context, sessionID string, a encounter.Action) error {
	log.Info().
		Str("session_id", sessionID).
		Str("message", a.Message).
		Msg("Patient notification")
	return nil
}

// FanOut delivers each alert to every sink. All sinks are attempted; the
// joined error reports every failure.
type FanOut []stage.AlertSink

func (f FanOut) AlertStaff(ctx context.Context, sessionID string, a encounter.Action) error {
	var errs []error
	for _, s := range f {
		if err := s.AlertStaff(ctx, sessionID, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
