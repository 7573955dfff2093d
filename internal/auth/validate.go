package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fpang/patient-triage/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// ValidationError represents a specific type of API key validation failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes validation failures.
type ValidationErrorType int

const (
	// ErrTypeNoKey indicates no API key was found.
	ErrTypeNoKey ValidationErrorType = iota
	// ErrTypeInvalidKey indicates the API key is invalid or revoked.
	ErrTypeInvalidKey
	// ErrTypeNetworkError indicates the service could not be reached or failed server-side.
	ErrTypeNetworkError
	// ErrTypeQuotaExceeded indicates the API quota has been exceeded.
	ErrTypeQuotaExceeded
	// ErrTypeEmptyResponse indicates the call succeeded but returned no candidates.
	ErrTypeEmptyResponse
	// ErrTypeUnknown indicates an unknown error occurred.
	ErrTypeUnknown
)

// label is the metric dimension value for the type.
func (t ValidationErrorType) label() string {
	switch t {
	case ErrTypeNoKey:
		return "no_key"
	case ErrTypeInvalidKey:
		return "invalid"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeQuotaExceeded:
		return "quota"
	case ErrTypeEmptyResponse:
		return "empty_response"
	default:
		return "unknown"
	}
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ValidateAPIKey makes a one-word call against model to prove the key works
// before the server starts accepting patients. It returns nil on success or a
// *ValidationError describing the failure.
func ValidateAPIKey(ctx context.Context, client *genai.Client, model string) error {
	log.Debug().Str("model", model).Msg("Validating API key with Gemini API")

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	var valErr *ValidationError
	switch {
	case err != nil:
		valErr = classifyError(err)
	case resp == nil || len(resp.Candidates) == 0:
		valErr = &ValidationError{Type: ErrTypeEmptyResponse, Message: "API returned empty response"}
	}

	result := resultLabel(valErr)
	var callErr error
	if valErr != nil {
		callErr = valErr
	}
	metrics.Call("ApiKeyValidation", "validate_key", elapsed, callErr).
		Dimension("Result", result).
		Property("model", model).
		Flush()

	if valErr != nil {
		log.Error().Err(valErr).Str("result", result).Dur("duration", elapsed).Msg("API key validation failed")
		return valErr
	}
	log.Info().Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}

// resultLabel maps a validation outcome to its metric dimension value.
func resultLabel(err *ValidationError) string {
	if err == nil {
		return "success"
	}
	return err.Type.label()
}

// messageRule classifies errors whose text contains any of its fragments.
type messageRule struct {
	fragments []string
	kind      ValidationErrorType
	message   string
}

// messageRules are checked in order; the first match wins.
var messageRules = []messageRule{
	{
		fragments: []string{"api key not valid", "invalid api key", "api_key_invalid", "permission denied"},
		kind:      ErrTypeInvalidKey,
		message:   "API key is invalid or has been revoked",
	},
	{
		fragments: []string{"quota", "resource exhausted", "rate limit"},
		kind:      ErrTypeQuotaExceeded,
		message:   "API quota exceeded or rate limited",
	},
	{
		fragments: []string{"connection", "network", "timeout", "dial", "no such host", "unreachable"},
		kind:      ErrTypeNetworkError,
		message:   "Network error, check connectivity to the Gemini API",
	},
}

// classifyError maps err to a ValidationError. Structured API errors are
// classified by status code, anything else by message text.
func classifyError(err error) *ValidationError {
	if err == nil {
		return nil
	}

	if code, apiMessage, ok := asAPIError(err); ok {
		kind, message := classifyStatus(code)
		if message == "" {
			message = apiMessage
		}
		return &ValidationError{Type: kind, Message: message, Err: err}
	}

	lower := strings.ToLower(err.Error())
	for _, rule := range messageRules {
		for _, f := range rule.fragments {
			if strings.Contains(lower, f) {
				return &ValidationError{Type: rule.kind, Message: rule.message, Err: err}
			}
		}
	}
	return &ValidationError{Type: ErrTypeUnknown, Message: "Failed to validate API key", Err: err}
}

// asAPIError extracts the status from a genai.APIError, which the SDK
// returns by value but callers may wrap by pointer.
func asAPIError(err error) (int, string, bool) {
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code, ptr.Message, true
	}
	var val genai.APIError
	if errors.As(err, &val) {
		return val.Code, val.Message, true
	}
	return 0, "", false
}

// classifyStatus categorizes an HTTP status from the Gemini API. An empty
// message means the API's own message should be used.
func classifyStatus(code int) (ValidationErrorType, string) {
	switch {
	case code == 400:
		return ErrTypeInvalidKey, "Bad request, API key may be malformed"
	case code == 401 || code == 403:
		return ErrTypeInvalidKey, "API key is invalid, expired, or lacks permissions"
	case code == 429:
		return ErrTypeQuotaExceeded, "API rate limit exceeded, try again later"
	case code >= 500 && code <= 599:
		return ErrTypeNetworkError, "Gemini API server error, try again later"
	default:
		return ErrTypeUnknown, ""
	}
}
