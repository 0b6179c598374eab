package jelstor

import "strings"

// Logger is an object that is used to log messages. Use the New function in
// the logging sub-package to create one.
type Logger interface {
	// Debug writes a message to the log at Debug level.
	Debug(string)

	// Debugf writes a formatted message to the log at Debug level.
	Debugf(string, ...interface{})

	// Error writes a message to the log at Error level.
	Error(string)

	// Errorf writes a formatted message to the log at Error level.
	Errorf(string, ...interface{})

	// Info writes a message to the log at Info level.
	Info(string)

	// Infof writes a formatted message to the log at Info level.
	Infof(string, ...interface{})

	// Trace writes a message to the log at Trace level.
	Trace(string)

	// Tracef writes a formatted message to the log at Trace level.
	Tracef(string, ...interface{})

	// Warn writes a message to the log at Warn level.
	Warn(string)

	// Warnf writes a formatted message to the log at Warn level.
	Warnf(string, ...interface{})

	// DebugBreak adds a 'break' between events in the log at Debug level. The
	// meaning of a break varies based on the underlying log; for text-based
	// logs, it is generally a newline character.
	DebugBreak()

	// ErrorBreak adds a 'break' between events in the log at Error level.
	ErrorBreak()

	// InfoBreak adds a 'break' between events in the log at Info level.
	InfoBreak()

	// TraceBreak adds a 'break' between events in the log at Trace level.
	TraceBreak()

	// WarnBreak adds a 'break' between events in the log at Warn level.
	WarnBreak()
}

// LogProvider is the type of logging library in use.
type LogProvider int

const (
	NoLog LogProvider = iota
	Jellog
	StdLog
)

func (p LogProvider) String() string {
	switch p {
	case NoLog:
		return "none"
	case Jellog:
		return "jellog"
	case StdLog:
		return "std"
	default:
		return "LogProvider(unknown)"
	}
}

// ParseLogProvider parses a string containing a LogProvider name. The check is
// case-insensitive.
func ParseLogProvider(s string) (LogProvider, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return NoLog, nil
	case "jellog":
		return Jellog, nil
	case "std", "stdlog":
		return StdLog, nil
	default:
		return NoLog, NewError("not a valid log provider: " + s)
	}
}
