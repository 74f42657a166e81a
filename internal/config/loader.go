package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/hearlink/internal/session"
	"github.com/MrWong99/hearlink/pkg/audio"
)

// Defaults applied by [LoadFromReader] to zero-valued fields.
const (
	DefaultListenAddr     = ":8080"
	DefaultMicSensitivity = 5
	DefaultBridgePath     = "/bridge"
	DefaultRecordingDir   = "recordings"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Link.Transport == "" {
		cfg.Link.Transport = LinkRFCOMM
	}
	if cfg.Recording.SampleRate == 0 {
		cfg.Recording.SampleRate = audio.DefaultFormat.SampleRate
	}
	if cfg.Recording.Channels == 0 {
		cfg.Recording.Channels = audio.DefaultFormat.Channels
	}
	if cfg.Recording.BitsPerSample == 0 {
		cfg.Recording.BitsPerSample = audio.DefaultFormat.BitsPerSample
	}
	if cfg.Recording.Dir == "" {
		cfg.Recording.Dir = DefaultRecordingDir
	}
	if cfg.Preferences.MicSensitivity == 0 {
		cfg.Preferences.MicSensitivity = DefaultMicSensitivity
	}
	if cfg.Bridge.Path == "" {
		cfg.Bridge.Path = DefaultBridgePath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	errs = append(errs, validateEndpoint("device", cfg.Device.Host, cfg.Device.Port))
	errs = append(errs, validateEndpoint("processing", cfg.Processing.Host, cfg.Processing.Port))

	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"device.dial_timeout", cfg.Device.DialTimeout},
		{"device.poll_interval", cfg.Device.PollInterval},
		{"processing.dial_timeout", cfg.Processing.DialTimeout},
		{"processing.reconnect.backoff", cfg.Processing.Reconnect.Backoff},
		{"processing.reconnect.max_backoff", cfg.Processing.Reconnect.MaxBackoff},
		{"link.dial_timeout", cfg.Link.DialTimeout},
	} {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}
	if cfg.Device.ReadBuffer < 0 {
		errs = append(errs, fmt.Errorf("device.read_buffer %d must not be negative", cfg.Device.ReadBuffer))
	}
	if cfg.Processing.Reconnect.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("processing.reconnect.max_retries %d must not be negative", cfg.Processing.Reconnect.MaxRetries))
	}

	if cfg.Link.Transport != "" && !cfg.Link.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("link.transport %q is invalid; valid values: rfcomm, tcp", cfg.Link.Transport))
	}
	if cfg.Link.Channel < 0 || cfg.Link.Channel > 30 {
		errs = append(errs, fmt.Errorf("link.channel %d is out of range [1, 30]", cfg.Link.Channel))
	}

	if cfg.Detection.LogSize < 0 {
		errs = append(errs, fmt.Errorf("detection.log_size %d must not be negative", cfg.Detection.LogSize))
	}
	if strings.ContainsAny(cfg.Detection.VibrationCommand, "\r\n") {
		errs = append(errs, errors.New("detection.vibration_command must be a single line"))
	}

	if err := RecordingFormat(cfg).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("recording: %w", err))
	}

	if cfg.Relay.Buffer < 0 {
		errs = append(errs, fmt.Errorf("relay.buffer %d must not be negative", cfg.Relay.Buffer))
	}

	if p := cfg.Preferences.MicSensitivity; p < 1 || p > 10 {
		errs = append(errs, fmt.Errorf("preferences.mic_sensitivity %d is out of range [1, 10]", p))
	}

	if cfg.Bridge.Enabled && !strings.HasPrefix(cfg.Bridge.Path, "/") {
		errs = append(errs, fmt.Errorf("bridge.path %q must start with /", cfg.Bridge.Path))
	}

	return errors.Join(errs...)
}

// validateEndpoint accepts an unset endpoint (both fields empty) or one that
// parses. A half-filled endpoint is rejected.
func validateEndpoint(section, host, port string) error {
	if host == "" && port == "" {
		return nil
	}
	if _, err := session.ParseEndpoint(host, port); err != nil {
		return fmt.Errorf("%s: %w", section, err)
	}
	return nil
}

// RecordingFormat returns the PCM format described by cfg.Recording.
func RecordingFormat(cfg *Config) audio.Format {
	return audio.Format{
		SampleRate:    cfg.Recording.SampleRate,
		Channels:      cfg.Recording.Channels,
		BitsPerSample: cfg.Recording.BitsPerSample,
	}
}
