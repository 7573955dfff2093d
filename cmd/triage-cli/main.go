// Package main runs the triage pipeline from the terminal, one utterance at a time.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/patient-triage/internal/alerting"
	"github.com/fpang/patient-triage/internal/chat"
	"github.com/fpang/patient-triage/internal/cli"
	"github.com/fpang/patient-triage/internal/config"
	"github.com/fpang/patient-triage/internal/encounter"
	"github.com/fpang/patient-triage/internal/logging"
	"github.com/fpang/patient-triage/internal/pipeline"
	"github.com/fpang/patient-triage/internal/stage"
)

// CLI flags
var (
	textFlag    string
	modelFlag   string
	offlineFlag bool
)

// rootCmd is the main Cobra command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "triage-cli",
	Short: "Triage patient utterances from the terminal",
	Long: `Triage CLI runs typed patient utterances through the full triage
pipeline and prints the risk tier, executed actions and patient response.

Without --text it reads one utterance per line from stdin until EOF.

Examples:
  triage-cli --text "I have chest pain and feel dizzy"
  triage-cli --offline < utterances.txt
  triage-cli -m gemini-2.5-flash  # Interactive mode`,
	RunE: runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&textFlag, "text", "t", "", "Single utterance to triage")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model for risk reasoning (overrides GEMINI_MODEL)")
	rootCmd.Flags().BoolVar(&offlineFlag, "offline", false, "Skip the reasoning service and use rule-based risk only")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runMain is the main execution logic called by Cobra.
func runMain(cmd *cobra.Command, args []string) error {
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if modelFlag != "" {
		cfg.ReasoningModel = modelFlag
	}

	ctx := context.Background()
	var reasoner stage.Reasoner
	if !offlineFlag {
		if client := cli.InitGeminiClient(ctx, ""); client != nil {
			reasoner = chat.NewReasoner(client, cfg.ReasoningModel)
		}
	}

	p := pipeline.Default(pipeline.Deps{
		Reasoner:         reasoner,
		ReasoningTimeout: cfg.ReasoningTimeout,
		Alerts:           alerting.LogSink{},
		Notices:          alerting.LogSink{},
	})

	out := cmd.OutOrStdout()
	if textFlag != "" {
		return triage(ctx, p, out, textFlag)
	}
	return cli.ReadUtterances(cmd.InOrStdin(), out, "Patient> ", func(text string) error {
		return triage(ctx, p, out, text)
	})
}

// triage runs one utterance under a fresh session id and prints the outcome.
func triage(ctx context.Context, p *pipeline.Pipeline, w io.Writer, text string) error {
	rec := encounter.New(uuid.NewString()[:8], text)
	if err := p.Run(ctx, rec, pipeline.Unlimited, nil); err != nil {
		log.Error().Err(err).Str("session_id", rec.SessionID).Msg("Triage failed")
		return err
	}
	cli.PrintOutcome(w, rec)
	return nil
}
