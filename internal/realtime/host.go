package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fpang/patient-triage/internal/encounter"
	"github.com/fpang/patient-triage/internal/metrics"
	"github.com/fpang/patient-triage/internal/pipeline"
	"github.com/fpang/patient-triage/internal/session"
	"github.com/fpang/patient-triage/internal/stage"
)

// Transcriber converts recorded speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer renders announcement text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// HostOptions wires a Host.
type HostOptions struct {
	Pipeline *pipeline.Pipeline
	Sessions *session.Registry
	Hub      *Hub

	// Transcriber handles audio input; nil rejects audio messages.
	Transcriber Transcriber
	// Voice synthesizes audio alerts; nil sends updates without audio.
	Voice Synthesizer
	// SpeechTimeout bounds each transcription and synthesis call. Zero means
	// no deadline.
	SpeechTimeout time.Duration

	// InterimStages is the stage prefix run for interim utterances.
	InterimStages int
	// InboundRPS limits interim audio per connection. Zero disables the limit.
	InboundRPS   float64
	InboundBurst int
}

// Host accepts connections and runs the pipeline for their utterances.
type Host struct {
	base context.Context
	opts HostOptions

	inflight     sync.WaitGroup
	newSessionID func() string
}

// NewHost creates a host. Pipeline runs use base rather than any connection's
// context, so a client disconnecting never cancels a run it started.
func NewHost(base context.Context, opts HostOptions) *Host {
	if opts.Sessions == nil {
		opts.Sessions = session.NewRegistry()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	if opts.InterimStages <= 0 {
		opts.InterimStages = pipeline.InterimStageLimit
	}
	return &Host{
		base:         base,
		opts:         opts,
		newSessionID: newSessionID,
	}
}

func newSessionID() string {
	return uuid.NewString()[:8]
}

// Hub returns the observer hub.
func (h *Host) Hub() *Hub { return h.opts.Hub }

// Serve runs the receive loop for one connection until it closes or ctx ends.
// The connection is registered as an observer for its lifetime and closed on return.
func (h *Host) Serve(ctx context.Context, ch Channel) error {
	sessionID := h.newSessionID()
	logger := log.With().Str("session_id", sessionID).Logger()

	h.opts.Hub.Add(ch)
	defer func() {
		h.opts.Hub.Remove(ch)
		_ = ch.Close()
	}()
	stop := context.AfterFunc(ctx, func() { _ = ch.Close() })
	defer stop()

	if err := h.send(ctx, ch, SessionStarted{Type: TypeSessionStarted, SessionID: sessionID}); err != nil {
		return err
	}
	logger.Info().Msg("Session started")

	var limiter *rate.Limiter
	if h.opts.InboundRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.opts.InboundRPS), h.opts.InboundBurst)
	}

	for {
		frame, err := ch.Read(ctx)
		if err != nil {
			if errors.Is(err, ErrChannelClosed) || ctx.Err() != nil {
				logger.Info().Msg("Session closed")
				return nil
			}
			logger.Warn().Err(err).Msg("Receive loop ended")
			return err
		}

		if frame.Kind == FrameBinary {
			metrics.InboundMessages.WithLabelValues("binary").Inc()
			h.spawn(func() { h.handleAudio(ch, sessionID, frame.Data, true) })
			continue
		}

		msg, err := Decode(frame.Data)
		if err != nil {
			metrics.InboundMessages.WithLabelValues("invalid").Inc()
			h.sendError(ctx, ch, err)
			continue
		}
		metrics.InboundMessages.WithLabelValues(msg.Type).Inc()

		switch msg.Type {
		case TypeManualTranscript:
			text := msg.Text
			h.spawn(func() { h.run(sessionID, text, true) })

		case TypeAudioTranscript:
			audio, err := msg.AudioBytes()
			if err != nil {
				h.sendError(ctx, ch, err)
				continue
			}
			final := msg.Final()
			if !final && limiter != nil && !limiter.Allow() {
				metrics.InterimDropped.WithLabelValues("rate_limited").Inc()
				logger.Debug().Msg("Interim audio dropped: inbound rate exceeded")
				continue
			}
			h.spawn(func() { h.handleAudio(ch, sessionID, audio, final) })
		}
	}
}

// Wait blocks until every in-flight utterance has finished or ctx ends.
func (h *Host) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Host) spawn(fn func()) {
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Utterance handler panicked")
			}
		}()
		fn()
	}()
}

// handleAudio transcribes audio, echoes the text to the speaker, then runs it.
func (h *Host) handleAudio(ch Channel, sessionID string, audio []byte, final bool) {
	if h.opts.Transcriber == nil {
		h.sendError(h.base, ch, &DecodeError{Code: CodeTranscriptionUnavailable, Message: "audio input is not enabled"})
		return
	}

	text := h.transcribe(sessionID, audio)
	if text == "" {
		return
	}
	if err := h.send(h.base, ch, TranscriptionResult{Type: TypeTranscriptionResult, Text: text, IsFinal: final}); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("Could not deliver transcription result")
	}
	h.run(sessionID, text, final)
}

// transcribe never fails: a transcription error becomes the transcript text
// so the pipeline still records and triages the attempt.
func (h *Host) transcribe(sessionID string, audio []byte) string {
	ctx, cancel := h.speechContext()
	defer cancel()
	text, err := h.opts.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Transcription failed")
		return "Error transcribing audio: " + err.Error()
	}
	return strings.TrimSpace(text)
}

// speechContext derives a call context from base, bounded by SpeechTimeout.
func (h *Host) speechContext() (context.Context, context.CancelFunc) {
	if h.opts.SpeechTimeout <= 0 {
		return context.WithCancel(h.base)
	}
	return context.WithTimeout(h.base, h.opts.SpeechTimeout)
}

// run executes one pipeline pass for an utterance. Final utterances wait for
// the session; interim ones are dropped if it is busy.
func (h *Host) run(sessionID, transcript string, final bool) {
	ctx := h.base
	logger := log.With().Str("session_id", sessionID).Bool("final", final).Logger()

	limit := pipeline.Unlimited
	if final {
		if err := h.opts.Sessions.Acquire(ctx, sessionID); err != nil {
			logger.Warn().Err(err).Msg("Final utterance abandoned while waiting for session")
			return
		}
	} else {
		if !h.opts.Sessions.TryAcquire(sessionID) {
			metrics.InterimDropped.WithLabelValues("session_busy").Inc()
			logger.Debug().Msg("Skipping interim update: a pipeline run is already in flight")
			return
		}
		limit = h.opts.InterimStages
	}
	defer h.opts.Sessions.Release(sessionID)

	rec := encounter.New(sessionID, transcript)
	if err := h.opts.Pipeline.Run(ctx, rec, limit, func(stageName string, r *encounter.Record) {
		h.publish(ctx, stageName, r)
	}); err != nil {
		logger.Error().Err(err).Msg("Pipeline run failed")
	}
}

// publish broadcasts a stage update, attaching the spoken announcement after
// action execution.
func (h *Host) publish(ctx context.Context, stageName string, rec *encounter.Record) {
	update := AgentUpdate{Type: TypeAgentUpdate, Agent: stageName, State: rec}

	if stageName == stage.NameActionExecutor && h.opts.Voice != nil {
		if text := Announcement(rec); text != "" {
			speechCtx, cancel := h.speechContext()
			audio, err := h.opts.Voice.Synthesize(speechCtx, text)
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("Voice generation failed")
			} else {
				update.AudioAlert = base64.StdEncoding.EncodeToString(audio)
			}
		}
	}

	if _, err := h.opts.Hub.Broadcast(ctx, update); err != nil {
		log.Error().Err(err).Str("session_id", rec.SessionID).Msg("Broadcast failed")
	}
}

// Announcement joins the distinct messages of executed alert and notify
// actions, in execution order.
func Announcement(rec *encounter.Record) string {
	var msgs []string
	seen := make(map[string]bool)
	for _, a := range rec.ExecutedActions {
		if a.Kind != encounter.ActionAlertStaff && a.Kind != encounter.ActionNotifyPatient {
			continue
		}
		if a.Message == "" || seen[a.Message] {
			continue
		}
		seen[a.Message] = true
		msgs = append(msgs, a.Message)
	}
	return strings.Join(msgs, " ")
}

func (h *Host) send(ctx context.Context, ch Channel, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ch.Send(ctx, data)
}

func (h *Host) sendError(ctx context.Context, ch Channel, err error) {
	msg := ErrorMessage{Type: TypeError, Code: CodeMalformedMessage, Message: err.Error()}
	var decErr *DecodeError
	if errors.As(err, &decErr) {
		msg.Code = decErr.Code
	}
	if sendErr := h.send(ctx, ch, msg); sendErr != nil {
		log.Debug().Err(sendErr).Msg("Could not deliver error message")
	}
}
