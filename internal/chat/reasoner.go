package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/fpang/patient-triage/internal/assets"
	"google.golang.org/genai"
)

// Reasoner asks Gemini for a risk assessment. It satisfies stage.Reasoner.
type Reasoner struct {
	client *genai.Client
	model  string
}

// NewReasoner creates a Reasoner. An empty model selects GetModelName().
func NewReasoner(client *genai.Client, model string) *Reasoner {
	if model == "" {
		model = GetModelName()
	}
	return &Reasoner{client: client, model: model}
}

// Reason sends prompt under the risk system instruction and returns the raw text.
func (r *Reasoner) Reason(ctx context.Context, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.RiskSystemPrompt}},
		},
		Temperature: genai.Ptr[float32](0.2),
	}

	resp, err := generate(ctx, r.client, "reasoning", r.model, genai.Text(prompt), config)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("received empty response from Gemini API")
	}
	return text, nil
}
