package stage

import (
	"context"
	"regexp"
	"strings"

	"github.com/fpang/patient-triage/internal/encounter"
)

// Symptom is one entry of the keyword table.
type Symptom struct {
	Phrase   string
	Category string
}

// Vocabulary is the swappable classification table used by the detector.
type Vocabulary struct {
	Symptoms []Symptom
	// Distress words classify the utterance as a request for assistance.
	Distress []string
	// Inquiry words classify it as a status inquiry. Checked after Distress.
	Inquiry []string
}

// DefaultVocabulary returns the built-in English table.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Symptoms: []Symptom{
			{Phrase: "chest pain", Category: "cardiac"},
			{Phrase: "shortness of breath", Category: "respiratory"},
			{Phrase: "difficulty breathing", Category: "respiratory"},
			{Phrase: "dizziness", Category: "neurological"},
			{Phrase: "severe headache", Category: "neurological"},
			{Phrase: "bleeding", Category: "trauma"},
			{Phrase: "fever", Category: "infection"},
			{Phrase: "cough", Category: "respiratory"},
			{Phrase: "nausea", Category: "gastrointestinal"},
		},
		Distress: []string{"help", "emergency", "pain", "hurts"},
		Inquiry:  []string{"check", "status", "when"},
	}
}

type symptomMatcher struct {
	phrase  string
	pattern *regexp.Regexp
}

// SymptomDetector extracts symptoms and intent from the transcript.
type SymptomDetector struct {
	vocab    Vocabulary
	matchers []symptomMatcher
}

// NewSymptomDetector compiles a detector for the given vocabulary.
func NewSymptomDetector(vocab Vocabulary) *SymptomDetector {
	d := &SymptomDetector{vocab: vocab}
	for _, s := range vocab.Symptoms {
		phrase := strings.ToLower(strings.TrimSpace(s.Phrase))
		if phrase == "" {
			continue
		}
		d.matchers = append(d.matchers, symptomMatcher{
			phrase:  phrase,
			pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(phrase) + `\b`),
		})
	}
	return d
}

func (d *SymptomDetector) Name() string { return NameSymptomDetector }

func (d *SymptomDetector) Process(_ context.Context, rec *encounter.Record) error {
	if strings.TrimSpace(rec.Transcript) == "" {
		rec.Symptoms = []string{}
		audit(rec, d.Name(), "No transcript available for detection.")
		return nil
	}

	text := strings.ToLower(rec.Transcript)

	symptoms := make([]string, 0, len(d.matchers))
	seen := make(map[string]bool, len(d.matchers))
	for _, m := range d.matchers {
		if seen[m.phrase] {
			continue
		}
		if m.pattern.MatchString(text) {
			seen[m.phrase] = true
			symptoms = append(symptoms, m.phrase)
		}
	}
	rec.Symptoms = symptoms
	rec.Intent = d.classifyIntent(text)

	audit(rec, d.Name(), "Detected Symptoms: %v, Intent: %s", rec.Symptoms, rec.Intent)
	return nil
}

// classifyIntent applies the first-match word lists in priority order.
func (d *SymptomDetector) classifyIntent(text string) encounter.Intent {
	if containsAny(text, d.vocab.Distress) {
		return encounter.IntentRequestingAssistance
	}
	if containsAny(text, d.vocab.Inquiry) {
		return encounter.IntentStatusInquiry
	}
	return encounter.IntentGeneralCommunication
}

// containsAny matches by substring, not whole word: "when" also hits
// "whenever" and "help" hits "helpful". Symptoms use word-bounded patterns.
func containsAny(text string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(text, w) {
			return true
		}
	}
	return false
}
