// Package main runs the triage server: a websocket endpoint that triages
// patient utterances and streams every stage update to connected observers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/fpang/patient-triage/internal/alerting"
	"github.com/fpang/patient-triage/internal/awsboot"
	"github.com/fpang/patient-triage/internal/chat"
	"github.com/fpang/patient-triage/internal/cli"
	"github.com/fpang/patient-triage/internal/config"
	"github.com/fpang/patient-triage/internal/logging"
	"github.com/fpang/patient-triage/internal/pipeline"
	"github.com/fpang/patient-triage/internal/realtime"
	"github.com/fpang/patient-triage/internal/session"
	"github.com/fpang/patient-triage/internal/stage"
)

// CLI flags
var (
	addrFlag    string
	modelFlag   string
	noVoiceFlag bool
	awsFlag     bool
)

var rootCmd = &cobra.Command{
	Use:   "triage-server",
	Short: "Realtime patient utterance triage server",
	Long: `Triage Server accepts patient speech or typed text over a websocket,
runs each utterance through symptom detection, risk assessment, action
planning, action execution and response generation, and broadcasts every
stage update to all connected observers.

Examples:
  triage-server
  triage-server --addr :9090
  triage-server --model gemini-2.5-flash --no-voice
  triage-server --aws`,
	RunE: runMain,
}

func init() {
	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (overrides TRIAGE_ADDR)")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model for risk reasoning (overrides GEMINI_MODEL)")
	rootCmd.Flags().BoolVar(&noVoiceFlag, "no-voice", false, "Disable spoken audio alerts")
	rootCmd.Flags().BoolVar(&awsFlag, "aws", false, "Load the API key from SSM and publish staff alerts to EventBridge")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	applyFlags(cmd, &cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var alerts stage.AlertSink = alerting.LogSink{}
	if cfg.AWSEnabled {
		clients, err := awsboot.InitAWS(ctx)
		if err != nil {
			return err
		}
		if err := awsboot.LoadGeminiKey(ctx, clients.SSM, cfg.APIKeyParam); err != nil {
			log.Warn().Err(err).Msg("Could not load Gemini API key from SSM")
		}
		if cfg.AlertEventBus != "" {
			alerts = alerting.FanOut{alerting.LogSink{}, alerting.NewEventBridgeSink(clients.EventBridge, cfg.AlertEventBus)}
		}
	}

	validateModel := ""
	if cfg.ValidateKey {
		validateModel = cfg.ReasoningModel
	}
	client := cli.InitGeminiClient(ctx, validateModel)

	host := realtime.NewHost(context.Background(), hostOptions(cfg, client, alerts))

	mux := http.NewServeMux()
	mux.Handle("/ws", realtime.Handler(host, realtime.WSOptions{
		WriteTimeout:    cfg.WSWriteTimeout,
		PingInterval:    cfg.WSPingInterval,
		MaxMessageBytes: cfg.WSMaxMessageBytes,
	}, cfg.AllowedOrigins))
	mux.HandleFunc("/healthz", handleHealth(host))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", indexHandler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           withLogging(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	awsboot.StartupLog("triage-server", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Model("reasoning", cfg.ReasoningModel).
		Model("transcription", cfg.TranscribeModel).
		Model("tts", cfg.TTSModel).
		SSMParam("gemini_api_key", cfg.APIKeyParam).
		EventBus("alerts", cfg.AlertEventBus).
		Feature("reasoning", client != nil).
		Feature("transcription", client != nil).
		Feature("voice", client != nil && cfg.VoiceEnabled).
		Feature("aws", cfg.AWSEnabled).
		Config("addr", cfg.Addr).
		Config("interim_stages", fmt.Sprint(cfg.InterimStages)).
		Config("reasoning_timeout", cfg.ReasoningTimeout.String()).
		Config("speech_timeout", cfg.SpeechTimeout.String()).
		Log()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("Starting triage server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()

		// Shutdown does not touch hijacked websocket connections.
		err := srv.Shutdown(shutdownCtx)
		host.Hub().CloseAll()
		if waitErr := host.Wait(shutdownCtx); waitErr != nil {
			log.Warn().Err(waitErr).Msg("In-flight pipeline runs did not finish before the grace period")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Triage server stopped with error")
		return err
	}
	log.Info().Msg("Triage server stopped")
	return nil
}

// applyFlags lets explicitly set flags override the environment.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("addr") {
		cfg.Addr = addrFlag
	}
	if cmd.Flags().Changed("model") {
		cfg.ReasoningModel = modelFlag
	}
	if noVoiceFlag {
		cfg.VoiceEnabled = false
	}
	if awsFlag {
		cfg.AWSEnabled = true
	}
}

// hostOptions wires the pipeline and its services. A nil client leaves the
// server in fallback-only mode: rule-based risk, typed input, no voice.
func hostOptions(cfg config.Config, client *genai.Client, alerts stage.AlertSink) realtime.HostOptions {
	deps := pipeline.Deps{
		ReasoningTimeout: cfg.ReasoningTimeout,
		Alerts:           alerts,
		Notices:          alerting.LogSink{},
	}
	opts := realtime.HostOptions{
		Sessions:      session.NewRegistry(),
		Hub:           realtime.NewHub(),
		InterimStages: cfg.InterimStages,
		SpeechTimeout: cfg.SpeechTimeout,
		InboundRPS:    cfg.InboundRPS,
		InboundBurst:  cfg.InboundBurst,
	}

	if client != nil {
		deps.Reasoner = chat.NewReasoner(client, cfg.ReasoningModel)
		opts.Transcriber = chat.NewTranscriber(client, cfg.TranscribeModel)
		if cfg.VoiceEnabled {
			opts.Voice = chat.NewCachedSynthesizer(chat.NewSynthesizer(client, cfg.TTSModel, cfg.Voice), cfg.VoiceCacheTTL)
		}
	}

	opts.Pipeline = pipeline.Default(deps)
	return opts
}
