package stage

import (
	"context"
	"fmt"

	"github.com/fpang/patient-triage/internal/encounter"
)

// AlertSink delivers staff alerts.
type AlertSink interface {
	AlertStaff(ctx context.Context, sessionID string, action encounter.Action) error
}

// NotifySink delivers patient-facing notifications.
type NotifySink interface {
	NotifyPatient(ctx context.Context, sessionID string, action encounter.Action) error
}

// ActionExecutor dispatches planned actions to their sinks and records the
// outcome of each one. Delivery failures are recorded, not returned.
type ActionExecutor struct {
	alerts  AlertSink
	notices NotifySink
}

// NewActionExecutor creates an executor. Nil sinks make the matching
// actions record as failed.
func NewActionExecutor(alerts AlertSink, notices NotifySink) *ActionExecutor {
	return &ActionExecutor{alerts: alerts, notices: notices}
}

func (e *ActionExecutor) Name() string { return NameActionExecutor }

func (e *ActionExecutor) Process(ctx context.Context, rec *encounter.Record) error {
	if len(rec.PlannedActions) == 0 {
		audit(rec, e.Name(), "No actions to execute.")
		return nil
	}

	var failed int
	for _, action := range rec.PlannedActions {
		audit(rec, e.Name(), "Executing: %s...", action.Kind)

		err := e.dispatch(ctx, rec.SessionID, action)
		if action.Kind == encounter.ActionNotifyPatient {
			rec.ResponseText = action.Message
		}

		executed := encounter.ExecutedAction{
			Action:     action,
			Status:     encounter.StatusSuccess,
			ExecutedAt: rec.Now(),
		}
		if err != nil {
			failed++
			executed.Status = encounter.StatusFailed
			executed.Error = err.Error()
			audit(rec, e.Name(), "Delivery of %s failed: %v", action.Kind, err)
		}
		rec.ExecutedActions = append(rec.ExecutedActions, executed)
	}

	audit(rec, e.Name(), "Executed %d actions (%d failed).", len(rec.ExecutedActions), failed)
	return nil
}

func (e *ActionExecutor) dispatch(ctx context.Context, sessionID string, action encounter.Action) error {
	switch action.Kind {
	case encounter.ActionAlertStaff:
		if e.alerts == nil {
			return fmt.Errorf("no alert sink configured")
		}
		return e.alerts.AlertStaff(ctx, sessionID, action)
	case encounter.ActionNotifyPatient:
		if e.notices == nil {
			return fmt.Errorf("no notification sink configured")
		}
		return e.notices.NotifyPatient(ctx, sessionID, action)
	default:
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}
}
