package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultReconnectDelayMS   = 3000
	defaultStatusDebounceMS   = 300
	defaultHandshakeTimeoutMS = 10000
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// ServerConfig points at the marketplace backend. BaseURL covers both the
// REST endpoints and the derived ws endpoint.
type ServerConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
}

// RealtimeConfig tunes the connection manager and status debouncer.
type RealtimeConfig struct {
	ReconnectDelayMS   int `json:"reconnect_delay_ms"`
	StatusDebounceMS   int `json:"status_debounce_ms"`
	HandshakeTimeoutMS int `json:"handshake_timeout_ms"`
}

func (c RealtimeConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

func (c RealtimeConfig) StatusDebounce() time.Duration {
	return time.Duration(c.StatusDebounceMS) * time.Millisecond
}

func (c RealtimeConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMS) * time.Millisecond
}

// NotificationConfig stores per-event desktop notification toggles.
type NotificationConfig struct {
	IncomingMessage  bool `json:"incoming_message"`
	SendFailure      bool `json:"send_failure"`
	ConnectionStatus bool `json:"connection_status"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Server        ServerConfig       `json:"server"`
	Realtime      RealtimeConfig     `json:"realtime"`
	Logging       LoggingConfig      `json:"logging"`
	Notifications NotificationConfig `json:"notifications"`
}

func Default() AppConfig {
	return AppConfig{
		Server: ServerConfig{},
		Realtime: RealtimeConfig{
			ReconnectDelayMS:   defaultReconnectDelayMS,
			StatusDebounceMS:   defaultStatusDebounceMS,
			HandshakeTimeoutMS: defaultHandshakeTimeoutMS,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
		Notifications: NotificationConfig{
			IncomingMessage:  true,
			SendFailure:      true,
			ConnectionStatus: true,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Realtime.ReconnectDelayMS <= 0 {
		c.Realtime.ReconnectDelayMS = defaultReconnectDelayMS
	}
	if c.Realtime.StatusDebounceMS <= 0 {
		c.Realtime.StatusDebounceMS = defaultStatusDebounceMS
	}
	if c.Realtime.HandshakeTimeoutMS <= 0 {
		c.Realtime.HandshakeTimeoutMS = defaultHandshakeTimeoutMS
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c AppConfig) Validate() error {
	base := strings.TrimSpace(c.Server.BaseURL)
	if base == "" {
		return errors.New("server base url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("parse server base url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("unsupported server url scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("server base url has no host")
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
