// Package realtime hosts the triage pipeline behind a live message channel:
// one receive loop per connection, one goroutine per utterance, and a shared
// observer hub that receives every stage update.
package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/fpang/patient-triage/internal/encounter"
)

// Message types.
const (
	TypeManualTranscript    = "manual_transcript"
	TypeAudioTranscript     = "audio_transcript"
	TypeSessionStarted      = "session_started"
	TypeTranscriptionResult = "transcription_result"
	TypeAgentUpdate         = "agent_update"
	TypeError               = "error"
)

// Error codes sent in error messages.
const (
	CodeMalformedMessage         = "malformed_message"
	CodeUnknownType              = "unknown_type"
	CodeInvalidAudio             = "invalid_audio"
	CodeTranscriptionUnavailable = "transcription_unavailable"
)

// Inbound is a client message. Fields not used by Type are ignored.
type Inbound struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Audio   string `json:"audio,omitempty"`
	IsFinal *bool  `json:"is_final,omitempty"`
}

// Final reports whether the utterance ends the turn. A missing is_final
// counts as final.
func (m Inbound) Final() bool {
	return m.IsFinal == nil || *m.IsFinal
}

// DecodeError describes an inbound message that could not be used.
type DecodeError struct {
	Code    string
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses and checks a text frame.
func Decode(data []byte) (Inbound, error) {
	var m Inbound
	if err := json.Unmarshal(data, &m); err != nil {
		return Inbound{}, &DecodeError{Code: CodeMalformedMessage, Message: "message is not valid JSON", Err: err}
	}
	switch m.Type {
	case TypeManualTranscript, TypeAudioTranscript:
		return m, nil
	case "":
		return Inbound{}, &DecodeError{Code: CodeMalformedMessage, Message: "message has no type"}
	default:
		return Inbound{}, &DecodeError{Code: CodeUnknownType, Message: fmt.Sprintf("unknown message type %q", m.Type)}
	}
}

// AudioBytes decodes the base64 audio payload.
func (m Inbound) AudioBytes() ([]byte, error) {
	audio, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		return nil, &DecodeError{Code: CodeInvalidAudio, Message: "audio is not valid base64", Err: err}
	}
	return audio, nil
}

// SessionStarted is sent once to each new connection.
type SessionStarted struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// TranscriptionResult echoes recognized speech back to the speaker.
type TranscriptionResult struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// AgentUpdate is broadcast after every completed stage. AudioAlert carries a
// base64 WAV announcement after action execution.
type AgentUpdate struct {
	Type       string            `json:"type"`
	Agent      string            `json:"agent"`
	State      *encounter.Record `json:"state"`
	AudioAlert string            `json:"audio_alert,omitempty"`
}

// ErrorMessage reports a rejected inbound message to its sender.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
