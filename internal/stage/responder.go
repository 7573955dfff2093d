package stage

import (
	"context"

	"github.com/fpang/patient-triage/internal/encounter"
)

// Default responses used when no notification set the response text.
const (
	ResponseEscalated = "I have alerted the clinical staff. Help is on the way. Please stay calm."
	ResponseLogged    = "Thank you for sharing. I have logged your information for the clinical team."
)

// ResponseGenerator makes sure every completed run carries a patient response.
type ResponseGenerator struct{}

// NewResponseGenerator creates a response generator.
func NewResponseGenerator() *ResponseGenerator { return &ResponseGenerator{} }

func (g *ResponseGenerator) Name() string { return NameResponseGenerator }

func (g *ResponseGenerator) Process(_ context.Context, rec *encounter.Record) error {
	if rec.ResponseText == "" {
		if rec.RiskLevel.Elevated() {
			rec.ResponseText = ResponseEscalated
		} else {
			rec.ResponseText = ResponseLogged
		}
	}

	audit(rec, g.Name(), "Responding: %q", rec.ResponseText)
	rec.Observations = append(rec.Observations, "Responded to patient: "+rec.ResponseText)
	return nil
}
