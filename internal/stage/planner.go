package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/fpang/patient-triage/internal/encounter"
)

// Targets and patient-facing messages produced by the planner.
const (
	TargetNurseStation  = "Nurse Station"
	TargetAssignedNurse = "Assigned Nurse"

	MessageAcknowledged = "Assistant: I have received your request and notified the clinical staff. Help is on the way."
	MessageLogged       = "Assistant: Thank you for your input. I have logged your status for the medical team."
	MessageAlerted      = "Assistant: Clinicians have been alerted. Please stay calm."
)

// ActionPlanner turns risk tier and intent into an ordered action list.
// It is a pure rule engine.
type ActionPlanner struct{}

// NewActionPlanner creates a planner.
func NewActionPlanner() *ActionPlanner { return &ActionPlanner{} }

func (p *ActionPlanner) Name() string { return NameActionPlanner }

func (p *ActionPlanner) Process(_ context.Context, rec *encounter.Record) error {
	audit(rec, p.Name(), "Determining action plan based on risk and reasoning...")

	actions := make([]encounter.Action, 0, 2)

	switch {
	case rec.RiskLevel.Elevated():
		actions = append(actions, encounter.Action{
			Kind:     encounter.ActionAlertStaff,
			Priority: encounter.PriorityEmergency,
			Target:   TargetNurseStation,
			Message:  fmt.Sprintf("CRITICAL: Patient session %s - %s", rec.SessionID, rec.Reasoning),
		})
		rec.HumanInTheLoopRequired = true
	case rec.RiskLevel == encounter.RiskModerate:
		actions = append(actions, encounter.Action{
			Kind:     encounter.ActionAlertStaff,
			Priority: encounter.PriorityStandard,
			Target:   TargetAssignedNurse,
			Message:  fmt.Sprintf("Observation: Patient session %s reports %s.", rec.SessionID, strings.Join(rec.Symptoms, ", ")),
		})
	}

	notify := encounter.Action{Kind: encounter.ActionNotifyPatient}
	switch {
	case rec.Intent == encounter.IntentRequestingAssistance:
		notify.Message = MessageAcknowledged
	case rec.RiskLevel == encounter.RiskLow:
		notify.Message = MessageLogged
	default:
		notify.Message = MessageAlerted
	}
	actions = append(actions, notify)

	rec.PlannedActions = actions
	audit(rec, p.Name(), "Planned %d actions.", len(actions))
	return nil
}
