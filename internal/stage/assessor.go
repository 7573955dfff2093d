package stage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/fpang/patient-triage/internal/assets"
	"github.com/fpang/patient-triage/internal/encounter"
	"github.com/fpang/patient-triage/internal/metrics"
)

// Reasoner is the generative reasoning service consulted for the risk tier.
type Reasoner interface {
	Reason(ctx context.Context, prompt string) (string, error)
}

// ErrReasonerUnavailable is returned when no reasoning service is configured.
var ErrReasonerUnavailable = errors.New("reasoning service not configured")

// ErrMalformedAssessment is returned when the service output has no usable risk tier.
var ErrMalformedAssessment = errors.New("malformed risk assessment")

// Markers are matched case-insensitively in place so offsets index the
// original output, whatever its script.
var (
	riskLevelMarker = regexp.MustCompile(`(?i)risk level:`)
	reasoningMarker = regexp.MustCompile(`(?i)reasoning:`)
)

// criticalMarkers escalate straight to Critical when the service is unavailable.
var criticalMarkers = []string{"chest pain", "difficulty breathing"}

// RiskAssessor assigns the risk tier, preferring the reasoning service and
// falling back to local rules whenever the service cannot answer.
type RiskAssessor struct {
	reasoner Reasoner
	timeout  time.Duration
}

// NewRiskAssessor creates an assessor. A nil reasoner means every assessment
// takes the fallback path. A zero timeout leaves the call bounded only by ctx.
func NewRiskAssessor(reasoner Reasoner, timeout time.Duration) *RiskAssessor {
	return &RiskAssessor{reasoner: reasoner, timeout: timeout}
}

func (a *RiskAssessor) Name() string { return NameRiskAssessor }

func (a *RiskAssessor) Process(ctx context.Context, rec *encounter.Record) error {
	if len(rec.Symptoms) == 0 && strings.TrimSpace(rec.Transcript) == "" {
		rec.RiskLevel = encounter.RiskLow
		audit(rec, a.Name(), "No symptoms or transcript to reason about.")
		return nil
	}

	level, reasoning, err := a.assess(ctx, rec)
	if err != nil {
		audit(rec, a.Name(), "Reasoning service error: %v. Falling back to rule-based safety.", err)
		level, reasoning = FallbackRisk(rec.Symptoms)
		metrics.FallbackDecisions.WithLabelValues(string(level)).Inc()
	}

	rec.RiskLevel = level
	rec.Reasoning = reasoning
	audit(rec, a.Name(), "Reasoning Complete. Risk Level: %s", rec.RiskLevel)
	return nil
}

func (a *RiskAssessor) assess(ctx context.Context, rec *encounter.Record) (encounter.RiskLevel, string, error) {
	if a.reasoner == nil {
		return "", "", ErrReasonerUnavailable
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	audit(rec, a.Name(), "Consulting reasoning service for risk assessment...")
	prompt := assets.RenderRiskAssessmentPrompt(rec.Transcript, rec.Symptoms)
	output, err := a.reasoner.Reason(ctx, prompt)
	if err != nil {
		return "", "", fmt.Errorf("reasoning call: %w", err)
	}
	return ParseAssessment(output)
}

// ParseAssessment extracts the risk tier and justification from service output.
//
// The tier is taken from the first line after the "Risk Level:" marker; the
// first of Low, Moderate, High, Critical found in that line wins. The
// justification is everything after "Reasoning:", or the whole output when
// that marker is missing.
func ParseAssessment(output string) (encounter.RiskLevel, string, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return "", "", fmt.Errorf("%w: empty output", ErrMalformedAssessment)
	}
	loc := riskLevelMarker.FindStringIndex(trimmed)
	if loc == nil {
		return "", "", fmt.Errorf("%w: no risk level line", ErrMalformedAssessment)
	}
	segment := trimmed[loc[1]:]
	if nl := strings.IndexByte(segment, '\n'); nl >= 0 {
		segment = segment[:nl]
	}
	level, ok := encounter.ParseRiskLevel(segment)
	if !ok {
		return "", "", fmt.Errorf("%w: unrecognized risk level %q", ErrMalformedAssessment, strings.TrimSpace(segment))
	}

	reasoning := trimmed
	if r := reasoningMarker.FindStringIndex(trimmed); r != nil {
		reasoning = strings.TrimSpace(trimmed[r[1]:])
	}
	return level, reasoning, nil
}

// FallbackRisk is the deterministic safety decision used when the reasoning
// service is unavailable or unusable. It performs no I/O.
func FallbackRisk(symptoms []string) (encounter.RiskLevel, string) {
	for _, marker := range criticalMarkers {
		if slices.Contains(symptoms, marker) {
			return encounter.RiskCritical, "Rule-based fallback: High-risk symptoms detected."
		}
	}
	if len(symptoms) > 0 {
		return encounter.RiskModerate, "Rule-based fallback used."
	}
	return encounter.RiskLow, "Rule-based fallback used."
}
