package cli

import (
	"context"
	"errors"
	"os"

	"github.com/fpang/patient-triage/internal/auth"
	"github.com/fpang/patient-triage/internal/chat"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// InitGeminiClient creates a Gemini client and validates the key against
// validateModel (skipped when empty).
//
// It returns nil when no API key is configured so the caller can run with the
// rule-based fallback only. Any other failure is fatal.
func InitGeminiClient(ctx context.Context, validateModel string) *genai.Client {
	apiKey, err := auth.GetAPIKey()
	if err != nil {
		var valErr *auth.ValidationError
		if errors.As(err, &valErr) && valErr.Type == auth.ErrTypeNoKey {
			log.Warn().Msg("No Gemini API key configured - risk assessment will use rule-based fallback only")
			return nil
		}
		log.Fatal().Err(err).Msg("failed to retrieve API key")
	}

	client, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Gemini client")
	}

	log.Info().Msg("connection successful - Gemini client initialized")

	if validateModel == "" {
		return client
	}
	if err := auth.ValidateAPIKey(ctx, client, validateModel); err != nil {
		HandleValidationError(err)
	}

	log.Info().Msg("API key validation complete - ready for operations")
	return client
}

// HandleValidationError processes auth.ValidationError and exits with appropriate messaging.
func HandleValidationError(err error) {
	var validationErr *auth.ValidationError
	if errors.As(err, &validationErr) {
		switch validationErr.Type {
		case auth.ErrTypeNoKey:
			log.Fatal().Msg("No API key configured. Set GEMINI_API_KEY or store it in SSM")
		case auth.ErrTypeInvalidKey:
			log.Fatal().Err(err).Msg("Invalid API key. Please check your API key and try again")
		case auth.ErrTypeNetworkError:
			log.Fatal().Err(err).Msg("Network error. Please check your internet connection")
		case auth.ErrTypeQuotaExceeded:
			log.Fatal().Err(err).Msg("API quota exceeded. Please try again later or check your usage limits")
		default:
			log.Fatal().Err(err).Msg("API key validation failed")
		}
	} else {
		log.Fatal().Err(err).Msg("unexpected error during API key validation")
	}
	os.Exit(1)
}
