package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestNewManager_Defaults(t *testing.T) {
	mgr, logger := NewManager(DefaultConfig())
	defer mgr.Close() //nolint:errcheck

	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	cfg := mgr.Config()
	if cfg.Level != "info" || cfg.Format != "json" {
		t.Errorf("unexpected defaults: level=%s format=%s", cfg.Level, cfg.Format)
	}
}

func TestManager_LevelReconfigure(t *testing.T) {
	mgr, logger := NewManager(Config{Level: "info", Format: "json"})
	defer mgr.Close() //nolint:errcheck

	ctx := context.Background()
	if logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug should be disabled at info level")
	}

	mgr.Reconfigure(Config{Level: "debug", Format: "json"})
	if !logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug should be enabled after reconfigure")
	}

	mgr.Reconfigure(Config{Level: "error", Format: "json"})
	if logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("info should be disabled at error level")
	}
}

func TestManager_FormatReconfigure(t *testing.T) {
	mgr, _ := NewManager(Config{Level: "info", Format: "json"})
	defer mgr.Close() //nolint:errcheck

	mgr.Reconfigure(Config{Level: "info", Format: "text"})
	if mgr.Config().Format != "text" {
		t.Errorf("format = %s, want text", mgr.Config().Format)
	}

	// Reconfiguring with the same config twice should be harmless.
	cfg := mgr.Config()
	mgr.Reconfigure(cfg)
	mgr.Reconfigure(cfg)
	if mgr.Config().Format != "text" {
		t.Errorf("format = %s after repeated reconfigure, want text", mgr.Config().Format)
	}
}

func TestManager_FileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "jovie.log")

	mgr, logger := NewManager(Config{
		Level:          "info",
		Format:         "json",
		FilePath:       logFile,
		FileMaxSizeMB:  1,
		FileMaxFiles:   1,
		FileMaxAgeDays: 1,
	})

	logger.Info("redirect served", "slug", "rel--prof")

	if err := mgr.Close(); err != nil {
		t.Fatalf("closing manager: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.Split(data, []byte("\n"))[0], &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["msg"] != "redirect served" {
		t.Errorf("msg = %v, want redirect served", line["msg"])
	}
}

func TestManager_CloseIdempotent(t *testing.T) {
	mgr, _ := NewManager(DefaultConfig())
	if err := mgr.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestLevelRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		level slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.name); got != tt.level {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.name, got, tt.level)
		}
		if got := FormatLevel(tt.level); got != tt.name {
			t.Errorf("FormatLevel(%v) = %q, want %q", tt.level, got, tt.name)
		}
	}
	if got := parseLevel("nonsense"); got != slog.LevelInfo {
		t.Errorf("parseLevel fallback = %v, want info", got)
	}
}

func TestValidLevelAndFormat(t *testing.T) {
	for _, l := range []string{"debug", "info", "warn", "error"} {
		if !ValidLevel(l) {
			t.Errorf("expected %q to be valid", l)
		}
	}
	for _, l := range []string{"", "trace", "INFO"} {
		if ValidLevel(l) {
			t.Errorf("expected %q to be invalid", l)
		}
	}
	if !ValidFormat("text") || !ValidFormat("json") {
		t.Error("text and json should be valid formats")
	}
	if ValidFormat("yaml") || ValidFormat("") {
		t.Error("yaml and empty should be invalid formats")
	}
}

func TestConfig_String(t *testing.T) {
	cfg := Config{Level: "warn", Format: "text"}
	if got := cfg.String(); got != "level=warn format=text" {
		t.Errorf("unexpected string: %s", got)
	}

	cfg.FilePath = "/var/log/jovie.log"
	cfg.FileMaxSizeMB = 50
	cfg.FileMaxFiles = 5
	cfg.FileMaxAgeDays = 7
	want := "level=warn format=text file=/var/log/jovie.log max_size=50MB max_files=5 max_age=7d"
	if got := cfg.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
