package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitConsoleAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := Init("warn", "", &buf)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer closer.Close()

	log.Info("hidden")
	log.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info logged at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "k=v") {
		t.Errorf("warn missing: %q", out)
	}

	SetLevel("debug")
	log.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Errorf("SetLevel did not take effect: %q", buf.String())
	}
}

func TestInitFileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxterm.log")
	log, closer, err := Init("info", path, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	log.Info("to file")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file = %q", data)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{"debug": "DEBUG", "warn": "WARN", "error": "ERROR", "bogus": "INFO"} {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
