// Package gflog is the engine's structured logger, built on pterm, with
// feed/driver tagging chained onto each log line.
package gflog

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/pterm/pterm"
)

type logger struct {
	mu      sync.Mutex
	verbose bool
	debug   bool
}

var defaultLogger *logger

func init() {
	defaultLogger = &logger{}

	safeWriter := newSafeWriter(os.Stdout)
	pterm.Info = *pterm.Info.WithWriter(safeWriter)
	pterm.Debug = *pterm.Debug.WithWriter(safeWriter)
	pterm.Error = *pterm.Error.WithWriter(safeWriter)
	pterm.Warning = *pterm.Warning.WithWriter(safeWriter)
	pterm.Success = *pterm.Success.WithWriter(safeWriter)
}

// Event is a single in-progress log line; its fields are set by chaining
// and flushed by Msgf.
type Event struct {
	l       *logger
	printer pterm.PrefixPrinter
	feed    string
	driver  string
}

type safeWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newSafeWriter(w io.Writer) *safeWriter { return &safeWriter{w: w} }

func (sw *safeWriter) Write(p []byte) (int, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	out := make([]byte, 0, len(p)+2)
	out = append(out, '\r')
	out = append(out, p...)
	if !bytes.HasSuffix(out, []byte("\n")) {
		out = append(out, '\n')
	}
	return sw.w.Write(out)
}

func (l *logger) newEvent(printer pterm.PrefixPrinter) *Event {
	return &Event{l: l, printer: printer}
}

// Info, Success, Error, Warning start an info/success/error/warning line.
func Info() *Event    { return defaultLogger.newEvent(pterm.Info) }
func Success() *Event { return defaultLogger.newEvent(pterm.Success) }
func Error() *Event   { return defaultLogger.newEvent(pterm.Error) }
func Warning() *Event { return defaultLogger.newEvent(pterm.Warning) }

// Debug starts a debug line, or returns nil (a no-op Event) when debug
// logging is disabled — callers never need to guard Msgf calls themselves.
func Debug() *Event {
	if !defaultLogger.IsDebugEnabled() {
		return nil
	}
	return defaultLogger.newEvent(pterm.Debug)
}

// Verbose starts an info-styled line shown only when verbose mode is on.
func Verbose() *Event {
	if !defaultLogger.IsVerboseEnabled() {
		return nil
	}
	return defaultLogger.newEvent(pterm.Info)
}

// Feed tags this event with the feed or implementation URL it concerns.
func (e *Event) Feed(url string) *Event {
	if e == nil {
		return nil
	}
	e.feed = url
	return e
}

// Driver tags this event with the driver phase it was emitted from
// (e.g. "solve", "fetch").
func (e *Event) Driver(phase string) *Event {
	if e == nil {
		return nil
	}
	e.driver = phase
	return e
}

// Msgf formats and prints the event. A nil Event (from a disabled level)
// is a safe no-op.
func (e *Event) Msgf(format string, args ...any) {
	if e == nil {
		return
	}

	e.l.mu.Lock()
	defer e.l.mu.Unlock()

	var tag string
	if e.driver != "" {
		tag += pterm.FgCyan.Sprintf("[%s] ", e.driver)
	}
	if e.feed != "" {
		tag += pterm.FgYellow.Sprintf("[%s] ", e.feed)
	}

	e.printer.Printfln(tag+format, args...)
}

// EnableDebug turns on debug-level logging.
func EnableDebug() { defaultLogger.mu.Lock(); defaultLogger.debug = true; defaultLogger.mu.Unlock() }

// EnableVerbose turns on verbose logging.
func EnableVerbose() { defaultLogger.mu.Lock(); defaultLogger.verbose = true; defaultLogger.mu.Unlock() }

func (l *logger) IsDebugEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debug
}

func (l *logger) IsVerboseEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verbose
}

// IsDebugEnabled reports whether debug logging is currently enabled.
func IsDebugEnabled() bool { return defaultLogger.IsDebugEnabled() }
