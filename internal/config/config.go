package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. VOXTERM_ASR_URL.
const EnvPrefix = "VOXTERM"

// Config represents the application configuration
type Config struct {
	Listen  string   `yaml:"listen"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Cwd     string   `yaml:"cwd"`
	PIN     string   `yaml:"pin"`
	PINHash string   `yaml:"pin_hash" envconfig:"PIN_HASH"`
	Mirror  string   `yaml:"mirror"` // auto, on, off

	Log     LogConfig     `yaml:"log"`
	Tunnel  TunnelConfig  `yaml:"tunnel"`
	ASR     ASRConfig     `yaml:"asr"`
	History HistoryConfig `yaml:"history"`
	Clients ClientsConfig `yaml:"clients"`
	Auth    AuthConfig    `yaml:"auth"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type TunnelConfig struct {
	Mode    string        `yaml:"mode"` // none, command, static
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type ASRConfig struct {
	URL      string        `yaml:"url"`
	Language string        `yaml:"language"`
	Model    string        `yaml:"model"`
	Grace    time.Duration `yaml:"grace"`
}

type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
	TrimTo   int `yaml:"trim_to" envconfig:"TRIM_TO"`
}

type ClientsConfig struct {
	DefaultCols int     `yaml:"default_cols" envconfig:"DEFAULT_COLS"`
	DefaultRows int     `yaml:"default_rows" envconfig:"DEFAULT_ROWS"`
	InputRate   float64 `yaml:"input_rate" envconfig:"INPUT_RATE"`
	InputBurst  int     `yaml:"input_burst" envconfig:"INPUT_BURST"`
	SendQueue   int     `yaml:"send_queue" envconfig:"SEND_QUEUE"`
}

type AuthConfig struct {
	MaxAttemptsPerMinute int           `yaml:"max_attempts_per_minute" envconfig:"MAX_ATTEMPTS_PER_MINUTE"`
	TokenTTL             time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Config{
		Listen:  "127.0.0.1:0",
		Command: shell,
		Mirror:  "auto",
		Log:     LogConfig{Level: "info"},
		Tunnel:  TunnelConfig{Mode: "none", Timeout: 30 * time.Second},
		ASR:     ASRConfig{Language: "en", Grace: time.Second},
		History: HistoryConfig{Capacity: 5000, TrimTo: 3000},
		Clients: ClientsConfig{
			DefaultCols: 80,
			DefaultRows: 24,
			InputRate:   200,
			InputBurst:  400,
			SendQueue:   256,
		},
		Auth: AuthConfig{MaxAttemptsPerMinute: 10, TokenTTL: 24 * time.Hour},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies
// VOXTERM_* environment overrides and validates. A missing file is only an
// error when required is set.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := decode(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if c.Command == "" {
		errs = append(errs, errors.New("command is required"))
	}
	switch c.Mirror {
	case "auto", "on", "off":
	default:
		errs = append(errs, fmt.Errorf("mirror must be auto, on or off, got %q", c.Mirror))
	}
	if c.PINHash != "" && !strings.HasPrefix(c.PINHash, "$2") {
		errs = append(errs, errors.New("pin_hash must be a bcrypt hash (see voxterm hash-pin)"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}

	switch c.Tunnel.Mode {
	case "none":
	case "static":
		if c.Tunnel.URL == "" {
			errs = append(errs, errors.New("tunnel.url is required when tunnel.mode is static"))
		}
	case "command":
		if c.Tunnel.Command == "" {
			errs = append(errs, errors.New("tunnel.command is required when tunnel.mode is command"))
		}
	default:
		errs = append(errs, fmt.Errorf("tunnel.mode must be none, static or command, got %q", c.Tunnel.Mode))
	}
	if c.Tunnel.Timeout <= 0 {
		errs = append(errs, errors.New("tunnel.timeout must be positive"))
	}

	if c.ASR.Grace < 0 {
		errs = append(errs, errors.New("asr.grace must not be negative"))
	}
	if c.History.Capacity <= 0 || c.History.TrimTo <= 0 || c.History.TrimTo > c.History.Capacity {
		errs = append(errs, fmt.Errorf("history: need 0 < trim_to <= capacity, got %d/%d", c.History.TrimTo, c.History.Capacity))
	}
	if c.Clients.DefaultCols <= 0 || c.Clients.DefaultRows <= 0 {
		errs = append(errs, errors.New("clients.default_cols and default_rows must be positive"))
	}
	if c.Clients.InputRate < 0 || c.Clients.InputBurst < 0 || c.Clients.SendQueue < 0 {
		errs = append(errs, errors.New("clients limits must not be negative"))
	}
	if c.Auth.MaxAttemptsPerMinute <= 0 {
		errs = append(errs, errors.New("auth.max_attempts_per_minute must be positive"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	return errors.Join(errs...)
}
