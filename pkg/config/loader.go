package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hearsay-ai/voiceloop/pkg/asr"
	"github.com/hearsay-ai/voiceloop/pkg/plugin"
	"github.com/hearsay-ai/voiceloop/pkg/tts"
)

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides, and validates the result. Useful in tests where configs are
// built from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets tokens come from the environment so config files
// can be committed without secrets.
func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("VOICELOOP_ASR_TOKEN"); token != "" {
		cfg.Recognition.Token = token
	}
	if token := os.Getenv("VOICELOOP_TTS_TOKEN"); token != "" {
		cfg.Synthesis.Token = token
	}
}

// Validate checks that cfg holds a coherent set of values and returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Logging.Level != "" && !cfg.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid; valid values: debug, info, warn, error", cfg.Logging.Level))
	}
	if cfg.Logging.Format != "" && cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging.format %q is invalid; valid values: text, json", cfg.Logging.Format))
	}

	if cfg.Recognition.URL == "" {
		errs = append(errs, errors.New("recognition.url is required"))
	}
	if _, err := asr.ProtocolByName(cfg.Recognition.Protocol); err != nil {
		errs = append(errs, fmt.Errorf("recognition.protocol: %w", err))
	}
	if b := cfg.Recognition.Backoff; b.MaxRetries < 0 {
		errs = append(errs, errors.New("recognition.backoff.max_retries cannot be negative"))
	}

	if cfg.Synthesis.URL == "" {
		errs = append(errs, errors.New("synthesis.url is required"))
	}

	if name := cfg.VAD.Provider; name != "" {
		if _, ok := plugin.Lookup("vad", name); !ok {
			errs = append(errs, fmt.Errorf("vad.provider %q is not a registered detector", name))
		}
	}
	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, errors.New("vad.threshold must be within [0, 1]"))
	}

	if cfg.Session.TapDepth < 0 {
		errs = append(errs, errors.New("session.tap_depth cannot be negative"))
	}

	return errors.Join(errs...)
}

// RecognitionChannelConfig maps the recognition section onto the channel's
// configuration.
func (c *Config) RecognitionChannelConfig() (asr.Config, error) {
	protocol, err := asr.ProtocolByName(c.Recognition.Protocol)
	if err != nil {
		return asr.Config{}, err
	}
	return asr.Config{
		URL:                   c.Recognition.URL,
		Token:                 c.Recognition.Token,
		Protocol:              protocol,
		ReadyTimeout:          c.Recognition.ReadyTimeout,
		PauseClosesConnection: c.Recognition.PauseClosesConnection,
		Backoff: asr.Backoff{
			MaxRetries:   c.Recognition.Backoff.MaxRetries,
			InitialDelay: c.Recognition.Backoff.InitialDelay,
			MaxDelay:     c.Recognition.Backoff.MaxDelay,
			Factor:       c.Recognition.Backoff.Factor,
		},
	}, nil
}

// SynthesisChannelConfig maps the synthesis section onto the channel's
// configuration.
func (c *Config) SynthesisChannelConfig() tts.Config {
	return tts.Config{
		URL:          c.Synthesis.URL,
		Token:        c.Synthesis.Token,
		Voice:        c.Synthesis.Voice,
		ReadyTimeout: c.Synthesis.ReadyTimeout,
	}
}

// VADProvider returns the configured detector plugin name, defaulting to
// the built-in energy detector.
func (c *Config) VADProvider() string {
	if c.VAD.Provider == "" {
		return "energy"
	}
	return c.VAD.Provider
}
