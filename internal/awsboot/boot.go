// Package awsboot provides the optional AWS bootstrap for the triage server:
// the shared SDK config, the SSM fetch of the Gemini API key, and the
// EventBridge client used for staff alerts.
package awsboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/patient-triage/internal/logging"
)

// DefaultAPIKeyParam is the SSM parameter holding the Gemini API key.
const DefaultAPIKeyParam = "/patient-triage/prod/gemini-api-key"

// Clients holds the AWS SDK clients used by the server.
type Clients struct {
	Config      aws.Config
	SSM         *ssm.Client
	EventBridge *eventbridge.Client
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS(ctx context.Context) (Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return Clients{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return Clients{
		Config:      cfg,
		SSM:         ssm.NewFromConfig(cfg),
		EventBridge: eventbridge.NewFromConfig(cfg),
	}, nil
}

// ParameterAPI is the subset of the SSM client used to read secrets.
type ParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadGeminiKey fetches the Gemini API key from SSM Parameter Store unless
// GEMINI_API_KEY is already set. The key is exported to GEMINI_API_KEY so the
// usual auth lookup finds it. An empty paramName selects SSM_API_KEY_PARAM,
// then DefaultAPIKeyParam.
func LoadGeminiKey(ctx context.Context, client ParameterAPI, paramName string) error {
	if os.Getenv("GEMINI_API_KEY") != "" {
		return nil
	}
	if paramName == "" {
		paramName = logging.EnvOrDefault("SSM_API_KEY_PARAM", DefaultAPIKeyParam)
	}

	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("read API key from SSM %s: %w", paramName, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return fmt.Errorf("SSM parameter %s is empty", paramName)
	}

	os.Setenv("GEMINI_API_KEY", aws.ToString(result.Parameter.Value))
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Gemini API key loaded from SSM")
	return nil
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
