package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the desired logging setup. An empty FilePath keeps all
// output on stdout; setting one mirrors every line into a rotated file.
type Config struct {
	Level          string `json:"level"`
	Format         string `json:"format"`
	FilePath       string `json:"file_path,omitempty"`
	FileMaxSizeMB  int    `json:"file_max_size_mb,omitempty"`
	FileMaxFiles   int    `json:"file_max_files,omitempty"`
	FileMaxAgeDays int    `json:"file_max_age_days,omitempty"`
}

// DefaultConfig returns the configuration used before any file or DB
// overrides apply.
func DefaultConfig() Config {
	return Config{
		Level:          "info",
		Format:         "json",
		FileMaxSizeMB:  100,
		FileMaxFiles:   3,
		FileMaxAgeDays: 30,
	}
}

// String summarizes the config for log lines.
func (c Config) String() string {
	s := fmt.Sprintf("level=%s format=%s", c.Level, c.Format)
	if c.FilePath != "" {
		s += fmt.Sprintf(" file=%s max_size=%dMB max_files=%d max_age=%dd",
			c.FilePath, c.FileMaxSizeMB, c.FileMaxFiles, c.FileMaxAgeDays)
	}
	return s
}

// dynamicHandler is a slog.Handler whose target can be replaced at runtime.
// Loggers built over it pick up the replacement on their next record.
// Derived handlers (WithAttrs/WithGroup) detach from later swaps; the shared
// LevelVar still carries level changes to them.
type dynamicHandler struct {
	target atomic.Pointer[slog.Handler]
}

func newDynamicHandler(h slog.Handler) *dynamicHandler {
	d := &dynamicHandler{}
	d.target.Store(&h)
	return d
}

func (d *dynamicHandler) swap(h slog.Handler) {
	d.target.Store(&h)
}

func (d *dynamicHandler) current() slog.Handler {
	return *d.target.Load()
}

func (d *dynamicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return d.current().Enabled(ctx, level)
}

func (d *dynamicHandler) Handle(ctx context.Context, r slog.Record) error {
	return d.current().Handle(ctx, r)
}

func (d *dynamicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return newDynamicHandler(d.current().WithAttrs(attrs))
}

func (d *dynamicHandler) WithGroup(name string) slog.Handler {
	return newDynamicHandler(d.current().WithGroup(name))
}

// Manager owns the process logger and lets the settings API and the config
// watcher change level, format, and file output without a restart.
type Manager struct {
	level   *slog.LevelVar
	handler *dynamicHandler

	mu     sync.Mutex
	config Config
	closer io.Closer
}

// NewManager builds the root logger for cfg and the Manager controlling it.
func NewManager(cfg Config) (*Manager, *slog.Logger) {
	level := &slog.LevelVar{}
	level.Set(parseLevel(cfg.Level))

	h, closer := build(cfg, level)
	dyn := newDynamicHandler(h)

	m := &Manager{
		level:   level,
		handler: dyn,
		config:  cfg,
		closer:  closer,
	}
	return m, slog.New(dyn)
}

// Reconfigure applies cfg. Level changes take effect immediately through the
// shared LevelVar; output changes rebuild the handler and swap it in.
func (m *Manager) Reconfigure(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.level.Set(parseLevel(cfg.Level))

	if outputChanged(m.config, cfg) {
		if m.closer != nil {
			m.closer.Close() //nolint:errcheck
			m.closer = nil
		}
		h, closer := build(cfg, m.level)
		m.handler.swap(h)
		m.closer = closer
	}
	m.config = cfg
}

func outputChanged(prev, next Config) bool {
	return prev.Format != next.Format ||
		prev.FilePath != next.FilePath ||
		prev.FileMaxSizeMB != next.FileMaxSizeMB ||
		prev.FileMaxFiles != next.FileMaxFiles ||
		prev.FileMaxAgeDays != next.FileMaxAgeDays
}

// Config returns the configuration currently in effect.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close releases the file writer, if any. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closer == nil {
		return nil
	}
	err := m.closer.Close()
	m.closer = nil
	return err
}

// build assembles the handler for cfg plus a closer for any file writer.
func build(cfg Config, level slog.Leveler) (slog.Handler, io.Closer) {
	var w io.Writer = os.Stdout
	var closer io.Closer

	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.FileMaxSizeMB, 100),
			MaxBackups: orDefault(cfg.FileMaxFiles, 3),
			MaxAge:     orDefault(cfg.FileMaxAgeDays, 30),
		}
		w = io.MultiWriter(os.Stdout, lj)
		closer = lj
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.NewTextHandler(w, opts), closer
	}
	return slog.NewJSONHandler(w, opts), closer
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// parseLevel maps a level name to slog.Level, falling back to Info.
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FormatLevel is the inverse of parseLevel.
func FormatLevel(l slog.Level) string {
	switch l {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

// ValidLevel reports whether s names a supported log level.
func ValidLevel(s string) bool {
	switch s {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// ValidFormat reports whether s names a supported output format.
func ValidFormat(s string) bool {
	switch s {
	case "text", "json":
		return true
	}
	return false
}
