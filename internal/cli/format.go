package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fpang/patient-triage/internal/encounter"
)

// PrintOutcome writes a human-readable summary of a completed run.
func PrintOutcome(w io.Writer, rec *encounter.Record) {
	symptoms := "none"
	if len(rec.Symptoms) > 0 {
		symptoms = strings.Join(rec.Symptoms, ", ")
	}

	fmt.Fprintf(w, "\nSession:    %s\n", rec.SessionID)
	fmt.Fprintf(w, "Symptoms:   %s\n", symptoms)
	fmt.Fprintf(w, "Intent:     %s\n", rec.Intent)
	fmt.Fprintf(w, "Risk:       %s\n", rec.RiskLevel)
	if rec.Reasoning != "" {
		fmt.Fprintf(w, "Reasoning:  %s\n", rec.Reasoning)
	}
	for _, a := range rec.ExecutedActions {
		line := fmt.Sprintf("  [%s] %s", a.Status, a.Kind)
		if a.Priority != "" {
			line += " (" + a.Priority + ")"
		}
		if a.Target != "" {
			line += " -> " + a.Target
		}
		fmt.Fprintln(w, line)
		if a.Error != "" {
			fmt.Fprintf(w, "      error: %s\n", a.Error)
		}
	}
	if rec.HumanInTheLoopRequired {
		fmt.Fprintln(w, "Human review required.")
	}
	fmt.Fprintf(w, "Response:   %s\n", rec.ResponseText)
}
