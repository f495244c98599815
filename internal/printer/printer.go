// Package printer writes coloured, human-oriented CLI output.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
)

func init() {
	// NO_COLOR disables colour; otherwise colour is forced even without a TTY.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	// Stdout and Stderr are the destinations; tests replace them.
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr

	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

// Success prints a green message prefixed with a check mark.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Stdout, msg)
}

// Info prints an uncoloured message.
func Info(format string, a ...any) {
	fmt.Fprintf(Stdout, format, a...)
}

// Warning prints a yellow message prefixed with a warning sign.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Stdout, msg)
}

// Step prints a cyan step marker for multi-stage operations.
func Step(format string, a ...any) {
	cyan.Fprintf(Stdout, "→ %s", fmt.Sprintf(format, a...))
}

// Progress rewrites the current line with sampler progress.
func Progress(generation, total int, acceptance, bestLogProb float64) {
	pct := 0.0
	if total > 0 {
		pct = 100 * float64(generation) / float64(total)
	}
	fmt.Fprintf(Stdout, "\r  generation %d/%d (%5.1f%%)  acceptance %.3f  best ln p %.6g", generation, total, pct, acceptance, bestLogProb)
	if generation == total {
		fmt.Fprintln(Stdout)
	}
}

// Heading prints a bold line.
func Heading(format string, a ...any) {
	bold.Fprintf(Stdout, format, a...)
}

// Error prints a titled error with an explanation and suggestions to
// Stderr and returns an error carrying only the title. Commands return it
// with SilenceErrors set so nothing is printed twice.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details, printed in key order.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(Stderr, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(Stderr, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(Stderr)
		for _, k := range keys {
			fmt.Fprintf(Stderr, "  %s: %s\n", k, context[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(Stderr, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(Stderr, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(Stderr, "  %d. %s\n", i+1, s)
		}
	}

	return fmt.Errorf("%s", title)
}
