package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger defines the interface for logging throughout the application.
// Different implementations can be used for different contexts (console, JSON, silent).
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

// ZerologLogger writes leveled logs through zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// New creates a logger with the given level (debug, info, warn, error) and
// format ("json" or "console") writing to w. A nil writer means stderr.
func New(level, format string, w io.Writer) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return &ZerologLogger{
		log: zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger(),
	}
}

// NewConsoleLogger creates an info-level human-readable logger on stderr.
func NewConsoleLogger() *ZerologLogger {
	return New("info", "console", nil)
}

// With returns a child logger that adds a field to every record.
func (l *ZerologLogger) With(key, value string) *ZerologLogger {
	return &ZerologLogger{log: l.log.With().Str(key, value).Logger()}
}

func (l *ZerologLogger) Info(msg string, args ...interface{}) {
	l.log.Info().Msg(fmt.Sprintf(msg, args...))
}

func (l *ZerologLogger) Warn(msg string, args ...interface{}) {
	l.log.Warn().Msg(fmt.Sprintf(msg, args...))
}

func (l *ZerologLogger) Error(msg string, args ...interface{}) {
	l.log.Error().Msg(fmt.Sprintf(msg, args...))
}

func (l *ZerologLogger) Debug(msg string, args ...interface{}) {
	l.log.Debug().Msg(fmt.Sprintf(msg, args...))
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SilentLogger discards all log messages.
// Used by tests and by the preview command, which writes the report to stdout.
type SilentLogger struct{}

func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

func (s *SilentLogger) Info(msg string, args ...interface{})  {}
func (s *SilentLogger) Warn(msg string, args ...interface{})  {}
func (s *SilentLogger) Error(msg string, args ...interface{}) {}
func (s *SilentLogger) Debug(msg string, args ...interface{}) {}
