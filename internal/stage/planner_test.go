package stage

import (
	"context"
	"strings"
	"testing"

	"github.com/fpang/patient-triage/internal/encounter"
)

func TestActionPlanner(t *testing.T) {
	tests := []struct {
		name      string
		risk      encounter.RiskLevel
		intent    encounter.Intent
		alert     string
		notify    string
		humanLoop bool
	}{
		{"critical", encounter.RiskCritical, encounter.IntentRequestingAssistance, encounter.PriorityEmergency, MessageAcknowledged, true},
		{"high general", encounter.RiskHigh, encounter.IntentGeneralCommunication, encounter.PriorityEmergency, MessageAlerted, true},
		{"moderate", encounter.RiskModerate, encounter.IntentGeneralCommunication, encounter.PriorityStandard, MessageAlerted, false},
		{"low", encounter.RiskLow, encounter.IntentStatusInquiry, "", MessageLogged, false},
		{"low asking for help", encounter.RiskLow, encounter.IntentRequestingAssistance, "", MessageAcknowledged, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := encounter.New("abc12345", "test")
			rec.Symptoms = []string{"fever", "cough"}
			rec.RiskLevel = tt.risk
			rec.Intent = tt.intent
			rec.Reasoning = "Respiratory distress reported."

			if err := NewActionPlanner().Process(context.Background(), rec); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var alerts, notifies int
			for _, a := range rec.PlannedActions {
				switch a.Kind {
				case encounter.ActionAlertStaff:
					alerts++
				case encounter.ActionNotifyPatient:
					notifies++
				}
			}
			if notifies != 1 {
				t.Errorf("expected exactly one notify action, got %d", notifies)
			}
			if alerts > 1 {
				t.Errorf("expected at most one alert, got %d", alerts)
			}

			last := rec.PlannedActions[len(rec.PlannedActions)-1]
			if last.Kind != encounter.ActionNotifyPatient {
				t.Errorf("notify action must be last, got %s", last.Kind)
			}
			if last.Message != tt.notify {
				t.Errorf("notify message = %q, want %q", last.Message, tt.notify)
			}

			if tt.alert == "" {
				if alerts != 0 {
					t.Errorf("expected no alert for %s", tt.risk)
				}
			} else {
				first := rec.PlannedActions[0]
				if first.Kind != encounter.ActionAlertStaff || first.Priority != tt.alert {
					t.Errorf("first action = %+v, want %s alert", first, tt.alert)
				}
				if !strings.Contains(first.Message, "abc12345") {
					t.Errorf("alert message should name the session: %q", first.Message)
				}
			}

			if rec.HumanInTheLoopRequired != tt.humanLoop {
				t.Errorf("human in the loop = %v, want %v", rec.HumanInTheLoopRequired, tt.humanLoop)
			}
		})
	}
}

func TestActionPlanner_AlertMessages(t *testing.T) {
	rec := encounter.New("s9", "x")
	rec.RiskLevel = encounter.RiskCritical
	rec.Reasoning = "Chest pain with breathlessness."
	_ = NewActionPlanner().Process(context.Background(), rec)

	if got, want := rec.PlannedActions[0].Message, "CRITICAL: Patient session s9 - Chest pain with breathlessness."; got != want {
		t.Errorf("critical alert = %q, want %q", got, want)
	}
	if rec.PlannedActions[0].Target != TargetNurseStation {
		t.Errorf("critical alert target = %q", rec.PlannedActions[0].Target)
	}

	rec = encounter.New("s9", "x")
	rec.RiskLevel = encounter.RiskModerate
	rec.Symptoms = []string{"fever", "nausea"}
	_ = NewActionPlanner().Process(context.Background(), rec)

	if got, want := rec.PlannedActions[0].Message, "Observation: Patient session s9 reports fever, nausea."; got != want {
		t.Errorf("moderate alert = %q, want %q", got, want)
	}
	if rec.PlannedActions[0].Target != TargetAssignedNurse {
		t.Errorf("moderate alert target = %q", rec.PlannedActions[0].Target)
	}
}
