package chat

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/fpang/patient-triage/internal/assets"
	"google.golang.org/genai"
)

// DefaultAudioMIMEType is assumed when the payload cannot be sniffed.
// Browser MediaRecorder produces WebM/Opus by default.
const DefaultAudioMIMEType = "audio/webm"

// Transcriber converts recorded speech to text with Gemini.
type Transcriber struct {
	client *genai.Client
	model  string
}

// NewTranscriber creates a Transcriber. An empty model selects GetTranscribeModel().
func NewTranscriber(client *genai.Client, model string) *Transcriber {
	if model == "" {
		model = GetTranscribeModel()
	}
	return &Transcriber{client: client, model: model}
}

// Transcribe returns the verbatim transcript of audio. Silence yields "".
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: SniffAudioType(audio), Data: audio}},
			{Text: assets.TranscriptionPrompt},
		},
	}}

	resp, err := generate(ctx, t.client, "transcription", t.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("transcribe audio: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// SniffAudioType guesses the MIME type of an audio payload.
func SniffAudioType(audio []byte) string {
	switch ct := http.DetectContentType(audio); {
	case strings.HasPrefix(ct, "audio/wave"):
		return "audio/wav"
	case strings.HasPrefix(ct, "audio/mpeg"):
		return "audio/mp3"
	case strings.HasPrefix(ct, "application/ogg"):
		return "audio/ogg"
	case strings.HasPrefix(ct, "audio/"):
		return ct
	default:
		return DefaultAudioMIMEType
	}
}
