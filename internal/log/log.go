package log

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/gur-shatz/go-integrity/internal/color"
	"github.com/gur-shatz/go-integrity/internal/manifest"
	"github.com/gur-shatz/go-integrity/internal/verify"
)

// Logger is an instance-based logger with its own prefix and verbosity.
type Logger struct {
	prefix  string
	verbose bool
	out     io.Writer
	err     io.Writer
}

// New creates a new Logger with the given prefix and verbosity.
func New(prefix string, verbose bool) *Logger {
	return &Logger{prefix: prefix, verbose: verbose, out: os.Stdout, err: os.Stderr}
}

// NewWithWriters creates a Logger writing to the given streams (for testing).
func NewWithWriters(prefix string, verbose bool, out, err io.Writer) *Logger {
	return &Logger{prefix: prefix, verbose: verbose, out: out, err: err}
}

// ListsIntact reports whether verification output should include intact
// lines: in verbose mode, or when stdout is not a terminal so piped output
// carries one line per entry.
func (this *Logger) ListsIntact() bool {
	return this.verbose || !isTerminal(this.out)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Error prints a red error message to stderr.
func (this *Logger) Error(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(this.err, "%s %s %s\n", this.prefix, color.Red("Error:"), msg)
}

// Warn prints a yellow warning message to stdout.
func (this *Logger) Warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(this.out, this.prefix+" "+color.Yellow(msg))
}

// Success prints a green success message to stdout.
func (this *Logger) Success(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(this.out, this.prefix+" "+color.Green(msg))
}

// Status prints a bold status message to stdout.
func (this *Logger) Status(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(this.out, color.Bold(this.prefix+" "+msg))
}

// Verbose prints a dim message to stdout, only if verbose mode is enabled.
func (this *Logger) Verbose(format string, args ...any) {
	if !this.verbose {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(this.out, color.Dim(this.prefix+" "+msg))
}

// Result prints one verification line, colored by status. Intact lines
// are printed only in verbose mode unless all is set.
func (this *Logger) Result(r verify.Result, all bool) {
	line := r.String()
	switch r.Status {
	case verify.Intact:
		if all || this.verbose {
			fmt.Fprintln(this.out, color.Green(line))
		}
	case verify.Changed:
		fmt.Fprintln(this.out, color.Yellow(line))
	case verify.Missing:
		fmt.Fprintln(this.out, color.Red(line))
	default:
		if r.Err != nil {
			line += color.Dim(" (" + r.Err.Error() + ")")
		}
		fmt.Fprintln(this.out, color.Red(line))
	}
}

// Skip prints a file the scan could not digest.
func (this *Logger) Skip(path string, err error) {
	fmt.Fprintln(this.out, this.prefix+" "+color.Yellow("skipped: "+path)+color.Dim(" ("+err.Error()+")"))
}

// Transition prints a status change seen by the watcher.
func (this *Logger) Transition(from verify.Status, r verify.Result) {
	msg := fmt.Sprintf("%s: %s -> %s", r.Path, from, r.Status)
	if r.Status == verify.Intact {
		fmt.Fprintln(this.out, this.prefix+" "+color.Green(msg))
		return
	}
	fmt.Fprintln(this.out, this.prefix+" "+color.Red(msg))
}

// Change prints a manifest changeset with a cyan header and dim file paths.
func (this *Logger) Change(changes manifest.ChangeSet) {
	fmt.Fprintln(this.out, this.prefix+" "+color.Cyan("Manifest differences:"))
	for _, f := range changes.Modified {
		fmt.Fprintln(this.out, color.Dim("  modified: "+f))
	}
	for _, f := range changes.Added {
		fmt.Fprintln(this.out, color.Dim("  added:    "+f))
	}
	for _, f := range changes.Removed {
		fmt.Fprintln(this.out, color.Dim("  removed:  "+f))
	}
}

// --- Global convenience functions for the integrity command ---

var defaultLogger = New("[integrity]", false)

// Init initializes the global logger. Must be called before any other global log function.
func Init(v bool) {
	defaultLogger.verbose = v
	color.Init()
}

// Default returns the global logger.
func Default() *Logger {
	return defaultLogger
}

func Error(format string, args ...any)               { defaultLogger.Error(format, args...) }
func Warn(format string, args ...any)                { defaultLogger.Warn(format, args...) }
func Success(format string, args ...any)             { defaultLogger.Success(format, args...) }
func Status(format string, args ...any)              { defaultLogger.Status(format, args...) }
func Verbose(format string, args ...any)             { defaultLogger.Verbose(format, args...) }
func Result(r verify.Result, all bool)               { defaultLogger.Result(r, all) }
func Skip(path string, err error)                    { defaultLogger.Skip(path, err) }
func Transition(from verify.Status, r verify.Result) { defaultLogger.Transition(from, r) }
func Change(changes manifest.ChangeSet)              { defaultLogger.Change(changes) }
