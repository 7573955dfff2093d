// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at compile time.

package assets

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"
)

// --- Static prompts (no dynamic data) ---

// RiskSystemPrompt is the system instruction for the risk reasoning call.
// It carries the no-diagnosis, no-treatment constraint.
//
//go:embed prompts/risk-system.txt
var RiskSystemPrompt string

// TranscriptionPrompt instructs the model to transcribe a clinical utterance verbatim.
//
//go:embed prompts/transcription.txt
var TranscriptionPrompt string

// --- Templated prompts ---

//go:embed prompts/risk-assessment.txt
var riskAssessmentTemplate string

var riskPromptTmpl = template.Must(template.New("risk").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(riskAssessmentTemplate))

// RiskPromptData holds the dynamic data injected into the risk assessment prompt.
type RiskPromptData struct {
	Transcript string
	Symptoms   []string
}

// RenderRiskAssessmentPrompt renders the risk assessment prompt for one utterance.
func RenderRiskAssessmentPrompt(transcript string, symptoms []string) string {
	var buf bytes.Buffer
	// Template execution errors are not expected with our simple template,
	// but we handle them gracefully by returning whatever was rendered.
	_ = riskPromptTmpl.Execute(&buf, RiskPromptData{Transcript: transcript, Symptoms: symptoms})
	return buf.String()
}
