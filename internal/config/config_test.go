package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMissingOptional(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.History.Capacity != 5000 || cfg.History.TrimTo != 3000 {
		t.Errorf("history = %+v, want defaults", cfg.History)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), true); err == nil {
		t.Fatal("expected error for missing required file")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), `
listen: 0.0.0.0:8080
command: /bin/bash
args: ["-l"]
tunnel:
  mode: command
  command: cloudflared
  args: ["tunnel", "--url", "http://localhost:{port}"]
  timeout: 45s
asr:
  url: ws://localhost:9000/asr
  grace: 2s
history:
  capacity: 100
  trim_to: 50
`)
	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:8080" || cfg.Command != "/bin/bash" || len(cfg.Args) != 1 {
		t.Errorf("top level = %q %q %v", cfg.Listen, cfg.Command, cfg.Args)
	}
	if cfg.Tunnel.Timeout != 45*time.Second || cfg.Tunnel.Args[2] != "http://localhost:{port}" {
		t.Errorf("tunnel = %+v", cfg.Tunnel)
	}
	if cfg.ASR.Grace != 2*time.Second || cfg.ASR.Language != "en" {
		t.Errorf("asr = %+v", cfg.ASR)
	}
	if cfg.History.Capacity != 100 || cfg.History.TrimTo != 50 {
		t.Errorf("history = %+v", cfg.History)
	}
	// untouched sections keep defaults
	if cfg.Auth.MaxAttemptsPerMinute != 10 {
		t.Errorf("auth = %+v", cfg.Auth)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, t.TempDir(), "lisen: :8080\n")
	_, err := Load(path, true)
	if err == nil || !strings.Contains(err.Error(), "lisen") {
		t.Fatalf("err = %v, want unknown field error", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "")
	if _, err := Load(path, true); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "listen: 127.0.0.1:7000\n")
	t.Setenv("VOXTERM_LISTEN", "127.0.0.1:7001")
	t.Setenv("VOXTERM_ASR_URL", "ws://asr.example/ws")
	t.Setenv("VOXTERM_HISTORY_TRIM_TO", "10")
	t.Setenv("VOXTERM_AUTH_TOKEN_TTL", "1h")

	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:7001" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.ASR.URL != "ws://asr.example/ws" {
		t.Errorf("asr.url = %q", cfg.ASR.URL)
	}
	if cfg.History.TrimTo != 10 {
		t.Errorf("trim_to = %d", cfg.History.TrimTo)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Errorf("token_ttl = %v", cfg.Auth.TokenTTL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"static without url", func(c *Config) { c.Tunnel.Mode = "static" }, "tunnel.url"},
		{"command without binary", func(c *Config) { c.Tunnel.Mode = "command" }, "tunnel.command"},
		{"bad tunnel mode", func(c *Config) { c.Tunnel.Mode = "ngrok" }, "tunnel.mode"},
		{"trim above capacity", func(c *Config) { c.History.TrimTo = 6000 }, "history"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad mirror", func(c *Config) { c.Mirror = "maybe" }, "mirror"},
		{"plain pin hash", func(c *Config) { c.PINHash = "1234" }, "pin_hash"},
		{"no attempts", func(c *Config) { c.Auth.MaxAttemptsPerMinute = 0 }, "max_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Listen = ""
	cfg.Command = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "listen") || !strings.Contains(msg, "command") {
		t.Errorf("err = %q, want both problems", msg)
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "log:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	if err := Watch(ctx, path, func(c *Config) { changes <- c }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// invalid edit is skipped
	if err := os.WriteFile(path, []byte("log:\n  level: loud\n"), 0600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		t.Fatalf("unexpected reload with level %q", c.Log.Level)
	case <-time.After(400 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		if c.Log.Level != "debug" {
			t.Errorf("level = %q, want debug", c.Log.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after valid edit")
	}
}
