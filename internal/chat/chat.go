// Package chat wraps the Gemini API calls used by the triage service:
// risk reasoning, audio transcription, and speech synthesis.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/fpang/patient-triage/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// NewGeminiClient creates a Gemini API client for the given key.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

// generate runs one GenerateContent call and emits latency and token metrics
// tagged with operation.
func generate(ctx context.Context, client *genai.Client, operation, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, model, contents, config)
	elapsed := time.Since(start)

	m := metrics.Call("GeminiApi", operation, elapsed, err).Property("model", model)
	if resp != nil && resp.UsageMetadata != nil {
		m.Metric("GeminiInputTokens", float64(resp.UsageMetadata.PromptTokenCount), metrics.UnitCount)
		m.Metric("GeminiOutputTokens", float64(resp.UsageMetadata.CandidatesTokenCount), metrics.UnitCount)
	}
	m.Flush()

	if err != nil {
		log.Error().Err(err).
			Str("operation", operation).
			Str("model", model).
			Dur("duration", elapsed).
			Msg("Gemini API call failed")
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		log.Warn().Str("operation", operation).Dur("duration", elapsed).Msg("Received empty response from Gemini")
		return nil, fmt.Errorf("received empty response from Gemini API")
	}

	log.Debug().
		Str("operation", operation).
		Str("model", model).
		Dur("duration", elapsed).
		Msg("Gemini API response received")
	return resp, nil
}
