// Package logger provides a small tiered, colourised logging facade used
// throughout theapipe instead of the standard library's log package.
package logger

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// LogStatus represents the type of log level being emitted, however it's
// important to note that each level here is not discretely toggleable.
// For example, VERBOSE and DEBUG are distinct tiers, however SUCCESS, NEW,
// REMOVE, and STOP are all the same tier and are 'important' logs. See the
// LogLevel enum for the tiers and how each status maps to a level.
type LogStatus int

const (
	VERBOSE LogStatus = iota
	DEBUG
	INFO
	SUCCESS
	NEW
	REMOVE
	STOP
	WARNING
	ERROR
	FATAL
)

type LogLevel int

const (
	verbose LogLevel = iota
	debug
	info
	important
	warning
	err
)

// Level returns the mapping between a LogStatus (used to describe the intent
// of a log call) and its LogLevel, a smaller tiered set of enums describing
// the importance of the message for the purpose of the minimum-level filter.
func (s LogStatus) Level() LogLevel {
	switch s {
	case VERBOSE:
		return verbose
	case DEBUG:
		return debug
	case INFO:
		return info
	case SUCCESS, NEW, REMOVE, STOP:
		return important
	case WARNING:
		return warning
	case ERROR, FATAL:
		return err
	default:
		return err
	}
}

func (s LogStatus) String() string {
	return [...]string{"V", "D", "I", "OK", "+", "-", "X", "!", "!!", "PANIC"}[s]
}

func (s LogStatus) Color() *color.Color {
	return [...]*color.Color{
		color.New(color.FgWhite, color.Faint, color.Italic),   // Verbose
		color.New(color.FgWhite, color.Faint, color.Italic),   // Debug
		color.New(color.FgWhite),                              // Info
		color.New(color.FgHiGreen),                            // Success
		color.New(color.FgGreen, color.Italic),                // New
		color.New(color.FgYellow, color.Italic),               // Remove
		color.New(color.FgHiYellow),                           // Stop
		color.New(color.FgYellow, color.Underline),            // Warning
		color.New(color.FgHiRed, color.Bold),                  // Error
		color.New(color.FgHiRed, color.Bold, color.Underline), // Fatal
	}[s]
}

type Logger interface {
	Emit(status LogStatus, pattern string, args ...any)
	Verbosef(pattern string, args ...any)
	Debugf(pattern string, args ...any)
	Infof(pattern string, args ...any)
	Warnf(pattern string, args ...any)
	Printf(pattern string, args ...any)
	Errorf(pattern string, args ...any)
	Fatalf(pattern string, args ...any)
}

type loggerImpl struct {
	name string
}

func (l *loggerImpl) Emit(status LogStatus, message string, interpolations ...any) {
	manager.emit(status, l.name, message, interpolations...)
}

func (l *loggerImpl) Verbosef(m string, v ...any) { l.Emit(VERBOSE, m, v...) }
func (l *loggerImpl) Debugf(m string, v ...any)   { l.Emit(DEBUG, m, v...) }
func (l *loggerImpl) Printf(m string, v ...any)   { l.Emit(INFO, m, v...) }
func (l *loggerImpl) Infof(m string, v ...any)    { l.Emit(INFO, m, v...) }
func (l *loggerImpl) Warnf(m string, v ...any)    { l.Emit(WARNING, m, v...) }
func (l *loggerImpl) Errorf(m string, v ...any)   { l.Emit(ERROR, m, v...) }
func (l *loggerImpl) Fatalf(m string, v ...any)   { l.Emit(FATAL, m, v...) }

var manager = &loggerMgr{minLevel: info}

type loggerMgr struct {
	offset   int
	minLevel LogLevel
}

func (m *loggerMgr) getLogger(name string) *loggerImpl {
	return &loggerImpl{name: name}
}

func (m *loggerMgr) emit(status LogStatus, name string, message string, interpolations ...any) {
	if status.Level() < m.minLevel {
		return
	}

	if len(name) > m.offset {
		m.offset = len(name)
	}

	padding := strings.Repeat(" ", m.offset-len(name))
	msg := fmt.Sprintf("[%s]%s (%s) %s", name, padding, status, fmt.Sprintf(message, interpolations...))
	_, _ = status.Color().Print(msg)
}

func (m *loggerMgr) setMinLoggingLevel(level LogLevel) {
	m.minLevel = level
}

// Get returns a named logger; the name is used as a left-aligned prefix on
// every emitted line.
func Get(name string) *loggerImpl {
	return manager.getLogger(name)
}

// SetMinLoggingLevel sets the process-wide minimum LogLevel; statuses below
// this level are dropped.
func SetMinLoggingLevel(level LogLevel) {
	manager.setMinLoggingLevel(level)
}
