// Package encounter defines the record threaded through every pipeline stage.
//
// One Record is created per triage attempt (an interim or final utterance),
// owned by exactly one pipeline run, and discarded after its last broadcast.
package encounter

import (
	"slices"
	"strings"
	"time"
)

// RiskLevel is the risk tier assigned by the risk assessor.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskModerate RiskLevel = "Moderate"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// RiskLevels lists the tiers in the fixed order used for matching model output.
var RiskLevels = []RiskLevel{RiskLow, RiskModerate, RiskHigh, RiskCritical}

// Elevated reports whether the tier requires staff escalation and a human in the loop.
func (l RiskLevel) Elevated() bool {
	return l == RiskHigh || l == RiskCritical
}

// ParseRiskLevel returns the first known tier contained in s, compared
// case-insensitively in RiskLevels order. Ambiguous text such as
// "moderate to high" resolves to the earlier tier.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	lower := strings.ToLower(s)
	for _, level := range RiskLevels {
		if strings.Contains(lower, strings.ToLower(string(level))) {
			return level, true
		}
	}
	return "", false
}

// Intent is the coarse purpose of the utterance.
type Intent string

const (
	IntentRequestingAssistance Intent = "Requesting Assistance"
	IntentStatusInquiry        Intent = "Status Inquiry"
	IntentGeneralCommunication Intent = "General Communication"
)

// ActionKind selects the sink an action is dispatched to.
type ActionKind string

const (
	ActionAlertStaff    ActionKind = "alert_staff"
	ActionNotifyPatient ActionKind = "notify_patient"
)

// Alert priorities.
const (
	PriorityEmergency = "emergency"
	PriorityStandard  = "standard"
)

// Action is a planned side effect.
type Action struct {
	Kind     ActionKind `json:"type"`
	Priority string     `json:"priority,omitempty"`
	Target   string     `json:"target,omitempty"`
	Message  string     `json:"message"`
}

// Execution statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ExecutedAction is a planned action plus the outcome of dispatching it.
type ExecutedAction struct {
	Action
	Status     string    `json:"status"`
	ExecutedAt time.Time `json:"executed_at"`
	Error      string    `json:"error,omitempty"`
}

// AuditEntry is one line of the append-only audit log.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     string    `json:"agent"`
	Message   string    `json:"message"`
}

// Record is the mutable state of one triage attempt.
type Record struct {
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"timestamp"`
	Transcript string    `json:"transcript,omitempty"`

	Symptoms []string `json:"symptoms"`
	Intent   Intent   `json:"intent,omitempty"`

	RiskLevel RiskLevel `json:"risk_level"`
	Reasoning string    `json:"reasoning,omitempty"`

	PlannedActions  []Action         `json:"planned_actions"`
	ExecutedActions []ExecutedAction `json:"executed_actions"`

	ResponseText           string   `json:"response_text,omitempty"`
	Observations           []string `json:"observations"`
	HumanInTheLoopRequired bool     `json:"human_in_the_loop_required"`

	AuditLog []AuditEntry `json:"audit_log"`

	now func() time.Time
}

// New creates a record for one utterance of the given session.
func New(sessionID, transcript string) *Record {
	return newWithClock(sessionID, transcript, time.Now)
}

func newWithClock(sessionID, transcript string, now func() time.Time) *Record {
	return &Record{
		SessionID:       sessionID,
		CreatedAt:       now(),
		Transcript:      transcript,
		Symptoms:        []string{},
		RiskLevel:       RiskLow,
		PlannedActions:  []Action{},
		ExecutedActions: []ExecutedAction{},
		Observations:    []string{},
		AuditLog:        []AuditEntry{},
		now:             now,
	}
}

// Now returns the record's clock reading.
func (r *Record) Now() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

// Log appends an audit entry for the named stage.
func (r *Record) Log(stage, message string) {
	r.AuditLog = append(r.AuditLog, AuditEntry{
		Timestamp: r.Now(),
		Stage:     stage,
		Message:   message,
	})
}

// HasSymptom reports whether the symptom set contains s.
func (r *Record) HasSymptom(s string) bool {
	return slices.Contains(r.Symptoms, s)
}

// Snapshot returns a deep copy safe to hand to another goroutine.
func (r *Record) Snapshot() *Record {
	cp := *r
	cp.Symptoms = slices.Clone(r.Symptoms)
	cp.PlannedActions = slices.Clone(r.PlannedActions)
	cp.ExecutedActions = slices.Clone(r.ExecutedActions)
	cp.Observations = slices.Clone(r.Observations)
	cp.AuditLog = slices.Clone(r.AuditLog)
	return &cp
}
