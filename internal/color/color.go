package color

import (
	"os"

	"golang.org/x/term"
)

var enabled bool

// Init enables colors when stderr is a TTY and NO_COLOR is unset.
func Init() {
	_, noColor := os.LookupEnv("NO_COLOR")
	enabled = !noColor && term.IsTerminal(int(os.Stderr.Fd()))
}

// Set forces colors on or off.
func Set(on bool) { enabled = on }

func wrap(code, s string) string {
	if !enabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func Red(s string) string    { return wrap("31", s) }
func Yellow(s string) string { return wrap("33", s) }
func Green(s string) string  { return wrap("32", s) }
func Bold(s string) string   { return wrap("1", s) }
func Dim(s string) string    { return wrap("2", s) }
func Cyan(s string) string   { return wrap("36", s) }
