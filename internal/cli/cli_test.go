package cli

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/fpang/patient-triage/internal/encounter"
)

func TestReadUtterances(t *testing.T) {
	in := strings.NewReader("I have a fever\n\n   \nwhen is the nurse coming\n")
	var out bytes.Buffer

	var got []string
	err := ReadUtterances(in, &out, "Patient> ", func(text string) error {
		got = append(got, text)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"I have a fever", "when is the nurse coming"}; !slices.Equal(got, want) {
		t.Errorf("utterances = %v, want %v", got, want)
	}
	if !strings.Contains(out.String(), "Patient> ") {
		t.Error("prompt not written")
	}
}

func TestReadUtterances_StopsOnError(t *testing.T) {
	stop := errors.New("stop")
	var n int
	err := ReadUtterances(strings.NewReader("a\nb\nc\n"), &bytes.Buffer{}, "", func(string) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Errorf("err = %v, calls = %d", err, n)
	}
}

func TestPrintOutcome(t *testing.T) {
	rec := encounter.New("abc12345", "chest pain")
	rec.Symptoms = []string{"chest pain"}
	rec.RiskLevel = encounter.RiskCritical
	rec.HumanInTheLoopRequired = true
	rec.ResponseText = "Help is on the way."
	rec.ExecutedActions = []encounter.ExecutedAction{{
		Action: encounter.Action{Kind: encounter.ActionAlertStaff, Priority: encounter.PriorityEmergency, Target: "Nurse Station"},
		Status: encounter.StatusFailed,
		Error:  "pager offline",
	}}

	var buf bytes.Buffer
	PrintOutcome(&buf, rec)
	out := buf.String()

	for _, want := range []string{"abc12345", "Critical", "[failed] alert_staff (emergency) -> Nurse Station", "pager offline", "Human review required.", "Help is on the way."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
