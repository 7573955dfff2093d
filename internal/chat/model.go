package chat

import "os"

// Gemini Model IDs
//
// | Model Name                  | API Model ID                     | Use Case                      |
// |-----------------------------|----------------------------------|-------------------------------|
// | Gemini 3 Flash (Preview)    | gemini-3-flash-preview           | Risk reasoning (default)      |
// | Gemini 2.5 Flash            | gemini-2.5-flash                 | Audio transcription           |
// | Gemini 2.5 Flash-Lite       | gemini-2.5-flash-lite            | High-throughput, lowest cost  |
// | Gemini 2.5 Flash TTS        | gemini-2.5-flash-preview-tts     | Spoken staff announcements    |
const (
	// ModelGemini3FlashPreview is best for speed + intelligence.
	ModelGemini3FlashPreview = "gemini-3-flash-preview"

	// ModelGemini25Flash is stable, balanced performance; handles audio input well.
	ModelGemini25Flash = "gemini-2.5-flash"

	// ModelGemini25FlashLite is for high-throughput, lowest cost.
	ModelGemini25FlashLite = "gemini-2.5-flash-lite"

	// ModelGemini25FlashTTS generates single-speaker speech.
	ModelGemini25FlashTTS = "gemini-2.5-flash-preview-tts"
)

// Defaults, each overridable through the environment.
const (
	DefaultModelName       = ModelGemini3FlashPreview
	DefaultTranscribeModel = ModelGemini25Flash
	DefaultTTSModel        = ModelGemini25FlashTTS
	DefaultVoice           = "Kore"
)

// GetModelName returns the reasoning model, resolved from:
// 1. GEMINI_MODEL environment variable (if set)
// 2. Default: gemini-3-flash-preview
func GetModelName() string {
	return envOr("GEMINI_MODEL", DefaultModelName)
}

// GetTranscribeModel returns the model used for audio transcription
// (TRIAGE_TRANSCRIBE_MODEL, default gemini-2.5-flash).
func GetTranscribeModel() string {
	return envOr("TRIAGE_TRANSCRIBE_MODEL", DefaultTranscribeModel)
}

// GetTTSModel returns the speech generation model (TRIAGE_TTS_MODEL).
func GetTTSModel() string {
	return envOr("TRIAGE_TTS_MODEL", DefaultTTSModel)
}

// GetVoice returns the prebuilt voice name (TRIAGE_TTS_VOICE, default Kore).
func GetVoice() string {
	return envOr("TRIAGE_TTS_VOICE", DefaultVoice)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
