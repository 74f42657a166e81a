// Package config provides the configuration schema, loader and hot-reload
// watcher for the hearlink companion process.
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

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
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

// LinkTransport selects how the direct device link is dialed.
type LinkTransport string

const (
	// LinkRFCOMM dials a Bluetooth RFCOMM socket (Linux only).
	LinkRFCOMM LinkTransport = "rfcomm"

	// LinkTCP dials host:port, e.g. a serial-to-TCP bridge.
	LinkTCP LinkTransport = "tcp"
)

// IsValid reports whether t is a recognised link transport.
func (t LinkTransport) IsValid() bool {
	return t == LinkRFCOMM || t == LinkTCP
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Device      DeviceConfig     `yaml:"device"`
	Processing  ProcessingConfig `yaml:"processing"`
	Link        LinkConfig       `yaml:"link"`
	Detection   DetectionConfig  `yaml:"detection"`
	Recording   RecordingConfig  `yaml:"recording"`
	Relay       RelayConfig      `yaml:"relay"`
	Preferences Preferences      `yaml:"preferences"`
	Store       StoreConfig      `yaml:"store"`
	Bridge      BridgeConfig     `yaml:"bridge"`
}

// ServerConfig holds the control API address and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// DeviceConfig configures the TCP session to the wearable device.
// Host and Port are kept as strings because that is how they are entered;
// they are parsed when a connection is made.
type DeviceConfig struct {
	Host         string        `yaml:"host"`
	Port         string        `yaml:"port"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ReadBuffer   int           `yaml:"read_buffer"`
}

// ProcessingConfig configures the TCP session to the processing server.
type ProcessingConfig struct {
	Host        string          `yaml:"host"`
	Port        string          `yaml:"port"`
	DialTimeout time.Duration   `yaml:"dial_timeout"`
	Reconnect   ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig controls automatic reconnection after an unrequested
// disconnect.
type ReconnectConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// LinkConfig configures the direct device link.
type LinkConfig struct {
	// Address is the Bluetooth MAC ("AA:BB:CC:DD:EE:FF") for rfcomm or
	// host:port for tcp. Empty means no default address.
	Address string `yaml:"address"`

	// Transport defaults to rfcomm.
	Transport LinkTransport `yaml:"transport"`

	// Channel is the RFCOMM channel. Defaults to 1.
	Channel int `yaml:"channel"`

	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DetectionConfig configures the sound-event detection engine.
type DetectionConfig struct {
	// Keywords is a comma-separated list of custom detection keywords.
	// Hot-reloadable.
	Keywords string `yaml:"keywords"`

	// VibrationCommand is sent to the device once per matching line.
	VibrationCommand string `yaml:"vibration_command"`

	// LogSize caps the recent-detection log.
	LogSize int `yaml:"log_size"`
}

// RecordingConfig describes the PCM stream captured from the device and
// where recordings are written.
type RecordingConfig struct {
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	BitsPerSample int    `yaml:"bits_per_sample"`
	Dir           string `yaml:"dir"`
}

// RelayConfig configures the in-process relay hub.
type RelayConfig struct {
	// Buffer is the per-subscriber channel capacity.
	Buffer int `yaml:"buffer"`
}

// Preferences are the user-facing toggles. Hot-reloadable.
type Preferences struct {
	BackgroundExecution bool `yaml:"background_execution"`

	// MicSensitivity is forwarded to the device, 1 (least) to 10 (most).
	MicSensitivity int `yaml:"mic_sensitivity"`

	// PhoneMicMode asks the device to stream from the phone microphone.
	PhoneMicMode bool `yaml:"phone_mic_mode"`
}

// StoreConfig configures detection persistence.
type StoreConfig struct {
	// PostgresDSN enables the detection store when non-empty.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// BridgeConfig configures the WebSocket bridge on the control API.
type BridgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}
