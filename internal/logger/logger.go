package logger

import (
	"os"
	"syscall"
	"time"

	"codeberg.org/mutker/envoymon/internal/errors"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

type LogLevel int8

// Levels mirror zerolog's numbering so the cast in SetLogLevel is direct
const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// LogEvent is a log line under construction. Field methods come from the
// embedded zerolog event.
type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Init configures the package-level logger. In service mode the console
// writer omits timestamps; journald adds its own.
func Init(debug, verbose, isService bool) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(interface{}) string { return "" }
	}

	log = zerolog.New(output).With().Timestamp().Logger()

	// The global level is owned by the loaded configuration; debug and
	// verbose only ever raise it.
	if debug {
		SetLogLevel(DebugLevel)
	} else if verbose {
		SetLogLevel(InfoLevel)
	}
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService reports whether the process runs under a service manager
// rather than an interactive shell.
func IsService() bool {
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}

	return os.Getppid() == 1 || syscall.Getpgrp() == syscall.Getpid()
}

func Debug() *LogEvent { return &LogEvent{log.Debug()} }
func Info() *LogEvent  { return &LogEvent{log.Info()} }
func Warn() *LogEvent  { return &LogEvent{log.Warn()} }
func Error() *LogEvent { return &LogEvent{log.Error()} }

// Fatal exits the process after the event is written
func Fatal() *LogEvent { return &LogEvent{log.Fatal()} }

// ErrorWithCode tags the event with the structured error's code.
func ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log.Error().
		Str("error_code", string(err.Code())).
		Err(err)}
}

// FatalWithCode is ErrorWithCode at fatal level.
func FatalWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log.Fatal().
		Str("error_code", string(err.Code())).
		Err(err)}
}
