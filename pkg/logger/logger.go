package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Logger is the structured logger handed to every component
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
	// WithMessage tags entries with a stored message ID
	WithMessage(messageID string) Logger
	// WithRequest tags entries with a payment request ID
	WithRequest(requestID string) Logger
}

// Fields is a set of structured log fields
type Fields map[string]interface{}

// Field keys shared by all components, so log queries can join on them
const (
	FieldComponent = "component"
	FieldMessageID = "message_id"
	FieldRequestID = "request_id"
)

// Config selects level, encoding and destination of log output
type Config struct {
	Level            Level  `json:"level" mapstructure:"level"`
	Format           Format `json:"format" mapstructure:"format"`
	Output           Output `json:"output" mapstructure:"output"`
	File             string `json:"file,omitempty" mapstructure:"file"`
	DisableTimestamp bool   `json:"disable_timestamp,omitempty" mapstructure:"disable_timestamp"`
	CallerInfo       bool   `json:"caller_info,omitempty" mapstructure:"caller_info"`
}

// Level is a log level name
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

// Format is a log encoding
type Format string

const (
	JSONFormat Format = "json"
	TextFormat Format = "text"
)

// Output is a log destination
type Output string

const (
	StdoutOutput  Output = "stdout"
	StderrOutput  Output = "stderr"
	FileOutput    Output = "file"
	DiscardOutput Output = "discard"
)

type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogger builds a logger from config; a nil config uses DefaultConfig
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logger configuration: %w", err)
	}

	w, err := openOutput(config)
	if err != nil {
		return nil, fmt.Errorf("failed to set log output: %w", err)
	}

	base := logrus.New()
	base.SetLevel(logrusLevels[config.Level])
	base.SetOutput(w)
	base.SetFormatter(newFormatter(config))
	base.SetReportCaller(config.CallerInfo)
	return &logrusLogger{entry: logrus.NewEntry(base)}, nil
}

// NewWithWriter creates a JSON logger writing to w without timestamps
func NewWithWriter(w io.Writer, level Level) Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetFormatter(&logrus.JSONFormatter{DisableTimestamp: true})
	if l, ok := logrusLevels[level]; ok {
		base.SetLevel(l)
	}
	return &logrusLogger{entry: logrus.NewEntry(base)}
}

// Discard returns a logger that drops everything
func Discard() Logger {
	return NewWithWriter(io.Discard, ErrorLevel)
}

// DefaultConfig logs info and above as text to stderr, keeping stdout for
// command output
func DefaultConfig() *Config {
	return &Config{
		Level:  InfoLevel,
		Format: TextFormat,
		Output: StderrOutput,
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var err error
	if _, ok := logrusLevels[c.Level]; !ok {
		err = multierr.Append(err, fmt.Errorf("invalid log level: %q", c.Level))
	}
	if c.Format != JSONFormat && c.Format != TextFormat {
		err = multierr.Append(err, fmt.Errorf("invalid log format: %q", c.Format))
	}
	switch c.Output {
	case StdoutOutput, StderrOutput, DiscardOutput:
	case FileOutput:
		if strings.TrimSpace(c.File) == "" {
			err = multierr.Append(err, fmt.Errorf("log file path is required for file output"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("invalid log output: %q", c.Output))
	}
	return err
}

func openOutput(config *Config) (io.Writer, error) {
	switch config.Output {
	case StdoutOutput:
		return os.Stdout, nil
	case DiscardOutput:
		return io.Discard, nil
	case FileOutput:
		if err := os.MkdirAll(filepath.Dir(config.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		return os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	default:
		return os.Stderr, nil
	}
}

func callerLocation(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

func newFormatter(config *Config) logrus.Formatter {
	if config.Format == JSONFormat {
		return &logrus.JSONFormatter{
			DisableTimestamp: config.DisableTimestamp,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerLocation,
		}
	}
	return &logrus.TextFormatter{
		DisableTimestamp: config.DisableTimestamp,
		FullTimestamp:    !config.DisableTimestamp,
		TimestampFormat:  time.DateTime,
		CallerPrettyfier: callerLocation,
	}
}

func (l *logrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusLogger) Info(args ...interface{}) { l.entry.Info(args...) }

func (l *logrusLogger) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

func (l *logrusLogger) Warn(args ...interface{}) { l.entry.Warn(args...) }

func (l *logrusLogger) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

func (l *logrusLogger) Error(args ...interface{}) { l.entry.Error(args...) }

func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}

func (l *logrusLogger) WithComponent(component string) Logger {
	return l.WithField(FieldComponent, component)
}

func (l *logrusLogger) WithMessage(messageID string) Logger {
	return l.WithField(FieldMessageID, messageID)
}

func (l *logrusLogger) WithRequest(requestID string) Logger {
	return l.WithField(FieldRequestID, requestID)
}

var globalLogger Logger = &logrusLogger{entry: logrus.NewEntry(logrus.StandardLogger())}

// SetGlobalLogger replaces the process-wide logger; the root command calls it
// once flags are parsed
func SetGlobalLogger(logger Logger) {
	globalLogger = logger
}

// GetGlobalLogger returns the process-wide logger
func GetGlobalLogger() Logger {
	return globalLogger
}

// WithComponent returns the global logger tagged with a component name
func WithComponent(component string) Logger {
	return globalLogger.WithComponent(component)
}
