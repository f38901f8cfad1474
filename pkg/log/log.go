// Package log provides structured logging for mwallet.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Component loggers for different parts of the wallet.
var (
	Session  zerolog.Logger
	Sync     zerolog.Logger
	Transfer zerolog.Logger
	RPC      zerolog.Logger
	Server   zerolog.Logger
)

func init() {
	Logger = NewConsoleLogger(os.Stderr, "info")
	initComponentLoggers()
}

// Init initializes the logger with the given configuration.
// When file is non-empty, logs go to both stderr and the file (always JSON).
func Init(level string, jsonOutput bool, file string) error {
	var console io.Writer
	if jsonOutput {
		console = os.Stderr
	} else {
		console = consoleWriter(os.Stderr)
	}

	if file == "" {
		Logger = newLogger(console, level)
		initComponentLoggers()
		return nil
	}

	f, err := openFile(file)
	if err != nil {
		return err
	}
	Logger = newLogger(zerolog.MultiLevelWriter(console, f), level)
	initComponentLoggers()
	return nil
}

// InitQuiet routes logs only to file, or discards them when file is empty.
// Used while the terminal UI owns the screen.
func InitQuiet(level string, file string) error {
	if file == "" {
		Logger = zerolog.Nop()
		initComponentLoggers()
		return nil
	}
	f, err := openFile(file)
	if err != nil {
		return err
	}
	Logger = newLogger(f, level)
	initComponentLoggers()
	return nil
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(consoleWriter(w), level)
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(w, level)
}

// SetOutput replaces the global logger with a JSON logger writing to w.
func SetOutput(w io.Writer, level string) {
	Logger = NewJSONLogger(w, level)
	initComponentLoggers()
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}
}

func openFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
}

// parseLevel converts a string level to zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func initComponentLoggers() {
	Session = WithComponent("session")
	Sync = WithComponent("sync")
	Transfer = WithComponent("transfer")
	RPC = WithComponent("rpc")
	Server = WithComponent("server")
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}
