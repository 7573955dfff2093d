package chat

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini TTS returns raw 16-bit little-endian mono PCM at 24 kHz.
const (
	speechSampleRate    = 24000
	speechBitsPerSample = 16
	speechChannels      = 1
)

// Synthesizer renders announcement text to WAV audio with Gemini TTS.
type Synthesizer struct {
	client *genai.Client
	model  string
	voice  string
}

// NewSynthesizer creates a Synthesizer. Empty model or voice select the
// environment-resolved defaults.
func NewSynthesizer(client *genai.Client, model, voice string) *Synthesizer {
	if model == "" {
		model = GetTTSModel()
	}
	if voice == "" {
		voice = GetVoice()
	}
	return &Synthesizer{client: client, model: model, voice: voice}
}

// Synthesize returns a WAV file speaking text.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("nothing to synthesize")
	}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: s.voice},
			},
		},
	}

	resp, err := generate(ctx, s.client, "synthesis", s.model, genai.Text(text), config)
	if err != nil {
		return nil, err
	}

	var pcm []byte
	if c := resp.Candidates[0].Content; c != nil {
		for _, part := range c.Parts {
			if part.InlineData != nil {
				pcm = append(pcm, part.InlineData.Data...)
			}
		}
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("speech response contained no audio")
	}
	return PCMToWAV(pcm, speechSampleRate, speechBitsPerSample, speechChannels), nil
}

// PCMToWAV prepends a canonical 44-byte RIFF header to raw PCM samples.
func PCMToWAV(pcm []byte, sampleRate, bitsPerSample, channels int) []byte {
	dataLen := len(pcm)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	out := make([]byte, 44+dataLen)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataLen))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(bitsPerSample))
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataLen))
	copy(out[44:], pcm)
	return out
}
