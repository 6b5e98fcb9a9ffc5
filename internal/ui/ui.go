// Package ui prints the user facing status lines and progress bars of the
// cubist CLI. Output is independent of the log level.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pterm/pterm"
	"golang.org/x/term"
)

var (
	initOnce sync.Once
	attended bool
	quiet    bool
)

// Init detects whether stdout is a terminal and disables colors and
// animations when it is not.
func Init() {
	initOnce.Do(func() {
		attended = term.IsTerminal(int(os.Stdout.Fd()))
		if !attended {
			pterm.DisableColor()
			pterm.DisableStyling()
		}
	})
}

// SetQuiet suppresses every line printed by this package.
func SetQuiet(q bool) { quiet = q }

// SetOutput redirects status lines, e.g. into a buffer in tests.
func SetOutput(w io.Writer) {
	pterm.SetDefaultOutput(w)
}

// IsAttended reports whether a user is watching a terminal.
func IsAttended() bool {
	Init()
	return attended
}

// Phase prints a right aligned bold verb followed by a message, e.g.
// "  Compiling contracts for polygon".
func Phase(verb, format string, args ...any) {
	if quiet {
		return
	}
	Init()
	pterm.Printfln("%s %s", pterm.NewStyle(pterm.FgGreen, pterm.Bold).Sprintf("%12s", verb), fmt.Sprintf(format, args...))
}

// Warn prints a highlighted warning line.
func Warn(format string, args ...any) {
	if quiet {
		return
	}
	Init()
	pterm.Println(pterm.NewStyle(pterm.FgYellow, pterm.Bold).Sprintf(format, args...))
}

// Errorf prints an error line.
func Errorf(format string, args ...any) {
	if quiet {
		return
	}
	Init()
	pterm.Error.Printfln(format, args...)
}

// Println prints a plain line.
func Println(a ...any) {
	if quiet {
		return
	}
	pterm.Println(a...)
}

// Event styles an event name.
func Event(s string) string { return pterm.NewStyle(pterm.FgCyan).Sprint(s) }

// Sender styles the sending side of a bridge.
func Sender(s string) string { return pterm.NewStyle(pterm.FgMagenta).Sprint(s) }

// Receiver styles the receiving side of a bridge.
func Receiver(s string) string { return pterm.NewStyle(pterm.FgYellow).Sprint(s) }

// Progress is a progress bar that degrades to nothing when no terminal is attached.
type Progress struct {
	mu  sync.Mutex
	bar *pterm.ProgressbarPrinter
}

// NewProgress starts a progress bar with the given title and total steps.
func NewProgress(title string, total int) *Progress {
	p := &Progress{}
	if quiet || !IsAttended() || total <= 0 {
		return p
	}
	bar, err := pterm.DefaultProgressbar.
		WithTitle(title).
		WithTotal(total).
		WithRemoveWhenDone(true).
		Start()
	if err == nil {
		p.bar = bar
	}
	return p
}

// Set moves the bar to current.
func (p *Progress) Set(current int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return
	}
	if current > p.bar.Total {
		current = p.bar.Total
	}
	p.bar.Add(current - p.bar.Current)
}

// Increment advances the bar by one step.
func (p *Progress) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil && p.bar.Current < p.bar.Total {
		p.bar.Increment()
	}
}

// UpdateTitle replaces the bar title.
func (p *Progress) UpdateTitle(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.UpdateTitle(title)
	}
}

// Stop removes the bar.
func (p *Progress) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_, _ = p.bar.Stop()
		p.bar = nil
	}
}
