package obslog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatLegacy  = "legacy"
	FormatJSON    = "json"
	FormatConsole = "console"
)

var global atomic.Pointer[zap.Logger]

func init() { global.Store(zap.NewNop()) }

// L returns the process logger. It is a no-op logger until InitFromEnv or Set runs.
func L() *zap.Logger { return global.Load() }

// Set replaces the process logger; nil resets it to a no-op logger.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	global.Store(l)
}

// Sync flushes buffered entries. Errors from syncing stdout are ignored.
func Sync() { _ = L().Sync() }

// Options selects sinks and encoding for New.
type Options struct {
	Level   zapcore.Level
	Format  string
	Console bool
	// File is appended to when non-empty; missing directories are created.
	File    string
	Caller  bool
	Service string
	// Stdout overrides the console sink, mainly for tests.
	Stdout io.Writer
}

// OptionsFromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_TO_CONSOLE, LOG_TO_FILE, LOG_FILE,
// LOG_CALLER and LOG_SERVICE. File logging is off unless LOG_TO_FILE=true.
func OptionsFromEnv() Options {
	opt := Options{
		Level:   parseLevel(os.Getenv("LOG_LEVEL")),
		Format:  parseFormat(os.Getenv("LOG_FORMAT")),
		Console: envBool("LOG_TO_CONSOLE", true),
		Caller:  envBool("LOG_CALLER", false),
		Service: strings.TrimSpace(os.Getenv("LOG_SERVICE")),
	}
	if envBool("LOG_TO_FILE", false) {
		opt.File = getenvDefault("LOG_FILE", filepath.Join("logs", "bard.log"))
	}
	return opt
}

// InitFromEnv installs a logger built from OptionsFromEnv as the process logger.
func InitFromEnv() error {
	logger, err := New(OptionsFromEnv())
	if err != nil {
		return err
	}
	Set(logger)
	return nil
}

// New builds a tee of the configured sinks. With no sink enabled it falls back to a
// development console logger so output is never silently dropped.
func New(opt Options) (*zap.Logger, error) {
	var cores []zapcore.Core
	enc := encoderFor(opt.Format)

	if opt.Console {
		var out io.Writer = os.Stdout
		if opt.Stdout != nil {
			out = opt.Stdout
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(out), opt.Level))
	}

	if opt.File != "" {
		if err := ensureDir(filepath.Dir(opt.File)); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opt.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(f), opt.Level))
	}

	if len(cores) == 0 {
		dev := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		cores = append(cores, zapcore.NewCore(dev, zapcore.AddSync(os.Stdout), opt.Level))
	}

	zopts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	// legacy lines always carry the caller
	if opt.Caller || opt.Format == FormatLegacy {
		zopts = append(zopts, zap.AddCaller())
	}
	logger := zap.New(zapcore.NewTee(cores...), zopts...)
	if opt.Service != "" {
		logger = logger.With(zap.String("service", opt.Service))
	}
	return logger, nil
}

func encoderFor(format string) zapcore.Encoder {
	switch format {
	case FormatJSON:
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	case FormatConsole:
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	default:
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.ConsoleSeparator = " | "
		return zapcore.NewConsoleEncoder(cfg)
	}
}

func parseFormat(s string) string {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case FormatJSON, FormatConsole:
		return f
	}
	return FormatLegacy
}

func parseLevel(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		if strings.EqualFold(strings.TrimSpace(s), "warning") {
			return zapcore.WarnLevel
		}
		return zapcore.InfoLevel
	}
	return lvl
}

func ensureDir(dir string) error {
	if strings.TrimSpace(dir) == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func getenvDefault(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
