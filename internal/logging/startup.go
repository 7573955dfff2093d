package logging

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects process identity, configuration, external resources,
// and feature flags, then emits a single structured zerolog event summarising
// how the process came up.
type StartupLogger struct {
	name         string
	commitHash   string
	buildTime    string
	initDuration time.Duration

	ssmParams map[string]string
	eventBus  map[string]string
	models    map[string]string
	features  map[string]bool
	config    map[string]string
}

// NewStartupLogger creates a StartupLogger for the given command
// (e.g. "triage-server", "triage-cli").
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:      name,
		ssmParams: make(map[string]string),
		eventBus:  make(map[string]string),
		models:    make(map[string]string),
		features:  make(map[string]bool),
		config:    make(map[string]string),
	}
}

// CommitHash sets the git commit hash baked into the binary at build time.
func (s *StartupLogger) CommitHash(hash string) *StartupLogger {
	s.commitHash = hash
	return s
}

// BuildTime sets the UTC build timestamp baked into the binary at build time.
func (s *StartupLogger) BuildTime(t string) *StartupLogger {
	s.buildTime = t
	return s
}

// SSMParam registers an SSM parameter path loaded at startup.
// Only the path is logged, never the value. Empty paths are skipped.
func (s *StartupLogger) SSMParam(label, path string) *StartupLogger {
	if path == "" {
		return s
	}
	s.ssmParams[label] = path
	return s
}

// EventBus registers an EventBridge bus alerts are published to.
func (s *StartupLogger) EventBus(label, name string) *StartupLogger {
	if name == "" {
		return s
	}
	s.eventBus[label] = name
	return s
}

// Model registers a Gemini model used for a purpose (reasoning, transcription, speech).
func (s *StartupLogger) Model(purpose, id string) *StartupLogger {
	s.models[purpose] = id
	return s
}

// Feature registers a boolean feature flag (e.g. "reasoning", "voice").
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive configuration key-value pair.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long startup took.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// EnvOrDefault returns the value of the named environment variable, or
// defaultVal if the variable is empty or unset.
func EnvOrDefault(envVar, defaultVal string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultVal
}

// Log emits a single structured INFO log event with all collected information.
func (s *StartupLogger) Log() {
	evt := log.Info()

	host, _ := os.Hostname()
	procDict := zerolog.Dict().
		Str("name", s.name).
		Str("host", host).
		Int("pid", os.Getpid()).
		Str("region", os.Getenv("AWS_REGION")).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Str("logLevel", os.Getenv("TRIAGE_LOG_LEVEL"))

	if s.commitHash != "" {
		procDict = procDict.Str("commitHash", s.commitHash)
	}
	if s.buildTime != "" {
		procDict = procDict.Str("buildTime", s.buildTime)
	}

	evt = evt.Dict("process", procDict)

	// Only non-empty resource maps are attached.
	resources := zerolog.Dict()
	hasResources := false

	if len(s.ssmParams) > 0 {
		resources = resources.Dict("ssmParams", dictFromMap(s.ssmParams))
		hasResources = true
	}
	if len(s.eventBus) > 0 {
		resources = resources.Dict("eventBus", dictFromMap(s.eventBus))
		hasResources = true
	}
	if len(s.models) > 0 {
		resources = resources.Dict("models", dictFromMap(s.models))
		hasResources = true
	}

	if hasResources {
		evt = evt.Dict("resources", resources)
	}

	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, v := range s.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}

	if len(s.config) > 0 {
		evt = evt.Dict("config", dictFromMap(s.config))
	}

	if s.initDuration > 0 {
		evt = evt.Dur("initDuration", s.initDuration)
	}

	evt.Msg("Startup complete")
}

// dictFromMap converts a map[string]string into a zerolog.Event (Dict).
func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}
