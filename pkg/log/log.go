// Package log provides coloured console logging and traffic logging for
// connections.
package log

import (
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

var red = color.New(color.FgRed).FprintfFunc()
var blue = color.New(color.FgBlue).FprintfFunc()
var yellow = color.New(color.FgYellow).FprintfFunc()

// ErrorMsg prints an error message to stderr in red color.
func ErrorMsg(format string, a ...interface{}) {
	red(os.Stderr, "[!] Error: "+format, a...)
}

// InfoMsg prints an informational message to stderr in blue color.
func InfoMsg(format string, a ...interface{}) {
	blue(os.Stderr, "[+] "+format, a...)
}

// Logger writes coloured messages to one output. Verbose messages are
// dropped unless the logger was created verbose. A nil *Logger discards
// everything, so components can hold an optional logger without checks.
type Logger struct {
	verbose bool

	mu  sync.Mutex
	out io.Writer
}

// NewLogger returns a logger writing to stderr.
func NewLogger(verbose bool) *Logger {
	return &Logger{verbose: verbose, out: os.Stderr}
}

// NewLoggerTo returns a logger writing to w.
func NewLoggerTo(w io.Writer, verbose bool) *Logger {
	return &Logger{verbose: verbose, out: w}
}

// Verbose reports whether verbose messages are printed.
func (l *Logger) Verbose() bool {
	return l != nil && l.verbose
}

// ErrorMsg prints an error message in red.
func (l *Logger) ErrorMsg(format string, a ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	red(l.out, "[!] Error: "+format, a...)
}

// InfoMsg prints an informational message in blue.
func (l *Logger) InfoMsg(format string, a ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	blue(l.out, "[+] "+format, a...)
}

// VerboseMsg prints a debug message in yellow if the logger is verbose.
// A trailing newline is added.
func (l *Logger) VerboseMsg(format string, a ...interface{}) {
	if !l.Verbose() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	yellow(l.out, "[v] "+format+"\n", a...)
}
