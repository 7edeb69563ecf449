// Package config provides the YAML configuration schema and validating
// loader for the voiceloop pipeline.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognized log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps the configured level onto slog. Unset defaults to Info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration, typically loaded from a YAML file with
// [Load].
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Synthesis   SynthesisConfig   `yaml:"synthesis"`
	VAD         VADConfig         `yaml:"vad"`
	Session     SessionConfig     `yaml:"session"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	// Level controls verbosity. Defaults to info.
	Level LogLevel `yaml:"level"`

	// Format selects "text" or "json" output. Defaults to text.
	Format string `yaml:"format"`
}

// BackoffConfig shapes reconnect retries for the recognition channel.
type BackoffConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Factor       float64       `yaml:"factor"`
}

// RecognitionConfig configures the streaming recognition channel.
type RecognitionConfig struct {
	// URL is the websocket endpoint, e.g. wss://host/ws/voice/asr.
	URL string `yaml:"url"`

	// Token authenticates the connection. The VOICELOOP_ASR_TOKEN
	// environment variable overrides it.
	Token string `yaml:"token"`

	// Protocol selects the backend vocabulary: "bearer" (default) or
	// "query_key".
	Protocol string `yaml:"protocol"`

	// ReadyTimeout bounds the wait for the server's ready acknowledgment.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`

	// PauseClosesConnection makes mute tear the socket down instead of
	// only suppressing sends.
	PauseClosesConnection bool `yaml:"pause_closes_connection"`

	Backoff BackoffConfig `yaml:"backoff"`
}

// SynthesisConfig configures the streaming synthesis channel.
type SynthesisConfig struct {
	// URL is the websocket endpoint, e.g. wss://host/ws/voice/tts.
	URL string `yaml:"url"`

	// Token authenticates the connection. The VOICELOOP_TTS_TOKEN
	// environment variable overrides it.
	Token string `yaml:"token"`

	// Voice is the default voice id.
	Voice string `yaml:"voice"`

	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// VADConfig selects and tunes the voice activity detector.
type VADConfig struct {
	// Provider names a registered vad plugin: "energy" (default) or
	// "silero".
	Provider string `yaml:"provider"`

	// Threshold overrides the provider's detection threshold.
	Threshold float64 `yaml:"threshold"`

	// SpeechFrames and SilenceFrames override the hysteresis confirm
	// counts.
	SpeechFrames  int `yaml:"speech_frames"`
	SilenceFrames int `yaml:"silence_frames"`

	// ModelPath points at the detector's model file, for providers that
	// need one.
	ModelPath string `yaml:"model_path"`
}

// Options flattens the tuning fields into a plugin factory configuration.
func (v VADConfig) Options() map[string]any {
	opts := map[string]any{}
	if v.Threshold > 0 {
		opts["threshold"] = v.Threshold
	}
	if v.SpeechFrames > 0 {
		opts["speech_frames"] = float64(v.SpeechFrames)
	}
	if v.SilenceFrames > 0 {
		opts["silence_frames"] = float64(v.SilenceFrames)
	}
	if v.ModelPath != "" {
		opts["model_path"] = v.ModelPath
	}
	return opts
}

// SessionConfig tunes session behavior.
type SessionConfig struct {
	// MuteSuspendsVAD also stops voice activity detection while muted.
	// Default false: barge-in stays detectable during mute.
	MuteSuspendsVAD bool `yaml:"mute_suspends_vad"`

	// TapDepth is the frame-channel depth for capture consumers.
	TapDepth int `yaml:"tap_depth"`
}
