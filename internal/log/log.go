// Package log provides structured, colored logging for the Klingnet node.
package log

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. Component and task loggers derive
// from it, so Init must run before they are created.
var Logger = newLogger(consoleWriter(os.Stdout), zerolog.InfoLevel)

// logFile is the file sink opened by the last Init, if any.
var logFile *os.File

// Init configures the global logger. Console output is colored unless
// jsonOutput is set. When file is non-empty every event is also appended to
// it as JSON.
func Init(level string, jsonOutput bool, file string) error {
	var out io.Writer = os.Stdout
	if !jsonOutput {
		out = consoleWriter(os.Stdout)
	}

	var f *os.File
	if file != "" {
		var err error
		f, err = os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		out = zerolog.MultiLevelWriter(out, f)
	}

	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	Logger = newLogger(out, ParseLevel(level))
	return nil
}

// SetOutput points the global logger at w as JSON. Tests use it to capture
// events.
func SetOutput(w io.Writer, level string) {
	Logger = newLogger(w, ParseLevel(level))
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
}

func newLogger(w io.Writer, lvl zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// ParseLevel maps a configured level name to a zerolog level. "off"
// disables logging; unknown names fall back to info.
func ParseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "off" {
		return zerolog.Disabled
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithTask returns a logger carrying a task's name and tracing id.
func WithTask(name, id string) zerolog.Logger {
	return Logger.With().Str("task", name).Str("task_id", id).Logger()
}

// Info logs an info message on the global logger.
func Info() *zerolog.Event {
	return Logger.Info()
}
