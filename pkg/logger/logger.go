// Package logger provides the structured logger used across the reconciler.
// It wraps logrus and keeps a process-wide instance that packages derive
// component loggers from.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the logging contract shared by every package. Implementations
// are immutable: the With* methods return a child carrying extra fields.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	WithComponent(component string) Logger
}

// Fields is a set of structured key/value pairs
type Fields map[string]interface{}

// Config selects level, encoding and destination of log lines
type Config struct {
	Level            Level  `json:"level" mapstructure:"level"`
	Format           Format `json:"format" mapstructure:"format"`
	Output           Output `json:"output" mapstructure:"output"`
	File             string `json:"file,omitempty" mapstructure:"file"`
	DisableTimestamp bool   `json:"disable_timestamp,omitempty" mapstructure:"disable_timestamp"`
	CallerInfo       bool   `json:"caller_info,omitempty" mapstructure:"caller_info"`

	// Writer overrides Output when set
	Writer io.Writer `json:"-" mapstructure:"-"`
}

// Level is a log severity
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var logrusLevels = map[Level]logrus.Level{
	DebugLevel: logrus.DebugLevel,
	InfoLevel:  logrus.InfoLevel,
	WarnLevel:  logrus.WarnLevel,
	ErrorLevel: logrus.ErrorLevel,
}

// Format is the line encoding
type Format string

const (
	JSONFormat Format = "json"
	TextFormat Format = "text"
)

// Output is the line destination
type Output string

const (
	StdoutOutput Output = "stdout"
	StderrOutput Output = "stderr"
	FileOutput   Output = "file"
)

// DefaultConfig logs info and above as text on stderr, leaving stdout to
// command output.
func DefaultConfig() *Config {
	return &Config{
		Level:  InfoLevel,
		Format: TextFormat,
		Output: StderrOutput,
	}
}

// DebugConfig is DefaultConfig at debug level with caller locations
func DebugConfig() *Config {
	cfg := DefaultConfig()
	cfg.Level = DebugLevel
	cfg.CallerInfo = true
	return cfg
}

// Validate checks the level, format and output of the configuration
func (c *Config) Validate() error {
	if _, ok := logrusLevels[c.Level]; !ok {
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	if c.Format != JSONFormat && c.Format != TextFormat {
		return fmt.Errorf("invalid log format: %s", c.Format)
	}
	if c.Writer != nil {
		return nil
	}

	switch c.Output {
	case StdoutOutput, StderrOutput:
		return nil
	case FileOutput:
		if strings.TrimSpace(c.File) == "" {
			return fmt.Errorf("log file path is required for file output")
		}
		return nil
	default:
		return fmt.Errorf("invalid log output: %s", c.Output)
	}
}

// NewLogger builds a logrus-backed Logger from config; nil means DefaultConfig
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logger configuration: %w", err)
	}

	out, err := config.writer()
	if err != nil {
		return nil, fmt.Errorf("failed to set log output: %w", err)
	}

	base := logrus.New()
	base.SetLevel(logrusLevels[config.Level])
	base.SetOutput(out)
	base.SetFormatter(config.formatter())
	base.SetReportCaller(config.CallerInfo)

	return &entryLogger{entry: logrus.NewEntry(base)}, nil
}

func (c *Config) writer() (io.Writer, error) {
	if c.Writer != nil {
		return c.Writer, nil
	}
	switch c.Output {
	case StdoutOutput:
		return os.Stdout, nil
	case FileOutput:
		if err := os.MkdirAll(filepath.Dir(c.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		return os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	default:
		return os.Stderr, nil
	}
}

func (c *Config) formatter() logrus.Formatter {
	location := func(f *runtime.Frame) string {
		return fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}

	if c.Format == JSONFormat {
		return &logrus.JSONFormatter{
			DisableTimestamp: c.DisableTimestamp,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				return f.Function + "()", location(f)
			},
		}
	}
	return &logrus.TextFormatter{
		DisableTimestamp: c.DisableTimestamp,
		FullTimestamp:    !c.DisableTimestamp,
		TimestampFormat:  time.DateTime,
		DisableColors:    c.Writer != nil || c.Output == FileOutput,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return "", location(f)
		},
	}
}

// entryLogger carries a logrus entry so fields accumulate across With* calls
type entryLogger struct {
	entry *logrus.Entry
}

func (l *entryLogger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *entryLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *entryLogger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *entryLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *entryLogger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *entryLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *entryLogger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *entryLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *entryLogger) WithField(key string, value interface{}) Logger {
	return &entryLogger{entry: l.entry.WithField(key, value)}
}

func (l *entryLogger) WithFields(fields Fields) Logger {
	return &entryLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *entryLogger) WithError(err error) Logger {
	return &entryLogger{entry: l.entry.WithError(err)}
}

func (l *entryLogger) WithComponent(component string) Logger {
	return l.WithField("component", component)
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger = mustDefault()
)

func mustDefault() Logger {
	l, err := NewLogger(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return l
}

// SetGlobalLogger replaces the process-wide logger; nil is ignored
func SetGlobalLogger(l Logger) {
	if l == nil {
		return
	}
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetGlobalLogger returns the process-wide logger
func GetGlobalLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}
